package dns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/formation/pkg/log"
	"github.com/miekg/dns"
)

const (
	// DefaultListenAddr is the formation authoritative DNS listener.
	DefaultListenAddr = "0.0.0.0:5353"

	// DefaultUpstream is the fallback resolver consulted on a local miss.
	DefaultUpstream = "8.8.8.8:53"
)

// Config holds authoritative DNS server configuration.
type Config struct {
	ListenAddr string
	Upstream   []string
}

// Server is the authoritative DNS front end over a Resolver: it speaks
// the wire protocol (queries and UPDATE), Resolver owns the lookup and
// mutation semantics.
type Server struct {
	resolver   *Resolver
	listenAddr string
	upstream   []string
	udpServer  *dns.Server
	mu         sync.RWMutex
	running    bool
}

// NewServer builds a Server over resolver. A nil/zero Config falls back
// to DefaultListenAddr/DefaultUpstream.
func NewServer(resolver *Resolver, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	upstream := cfg.Upstream
	if len(upstream) == 0 {
		upstream = []string{DefaultUpstream}
	}
	return &Server{resolver: resolver, listenAddr: addr, upstream: upstream}
}

// Start runs the UDP listener until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("dns server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	s.udpServer = &dns.Server{Addr: s.listenAddr, Net: "udp", Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info().Str("component", "dns").Str("addr", s.listenAddr).Msg("authoritative dns listening")
		if err := s.udpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the listener down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.udpServer == nil {
		return nil
	}
	s.running = false
	return s.udpServer.Shutdown()
}

func (s *Server) handle(w dns.ResponseWriter, req *dns.Msg) {
	if req.Opcode == dns.OpcodeUpdate {
		s.handleUpdate(w, req)
		return
	}
	s.handleQuery(w, req)
}

// handleQuery resolves locally, falling back to the upstream client on
// a miss (NXDOMAIN if upstream also misses or is unreachable).
func (s *Server) handleQuery(w dns.ResponseWriter, req *dns.Msg) {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true

	clientIP := clientAddrIP(w.RemoteAddr())

	for _, q := range req.Question {
		rrs, err := s.resolver.Resolve(q.Name, q.Qtype, clientIP)
		if err != nil {
			s.forward(w, req)
			return
		}
		reply.Answer = append(reply.Answer, rrs...)
	}

	if len(reply.Answer) == 0 {
		reply.Rcode = dns.RcodeNameError
		reply.Authoritative = false
	}
	_ = w.WriteMsg(reply)
}

func (s *Server) forward(w dns.ResponseWriter, req *dns.Msg) {
	client := &dns.Client{Net: "udp"}
	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(req, upstream)
		if err != nil {
			log.Logger.Debug().Err(err).Str("upstream", upstream).Msg("dns: upstream forward failed")
			continue
		}
		_ = w.WriteMsg(resp)
		return
	}
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Rcode = dns.RcodeNameError
	_ = w.WriteMsg(reply)
}

// handleUpdate applies every RR in the update section to the zone via
// Resolver.
func (s *Server) handleUpdate(w dns.ResponseWriter, req *dns.Msg) {
	reply := new(dns.Msg)
	reply.SetReply(req)

	for _, rr := range req.Ns {
		if err := s.resolver.ApplyUpdate(rr); err != nil {
			log.Logger.Warn().Err(err).Str("name", rr.Header().Name).Msg("dns: update rejected")
			reply.Rcode = dns.RcodeRefused
			_ = w.WriteMsg(reply)
			return
		}
	}
	_ = w.WriteMsg(reply)
}

func clientAddrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}
