package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Config tunes one Proxy's listeners and per-connection timeouts.
type Config struct {
	HTTPAddr         string
	TLSAddr          string
	BufferSize       int
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig matches the reference reverse proxy's defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:         ":80",
		TLSAddr:          ":443",
		BufferSize:       4096,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Proxy is a domain-routed TCP splicer: it peeks at the first bytes of
// a connection to find a Host header or a ClientHello's SNI, looks the
// domain up in its Router, and copies bytes in both directions to the
// selected backend without otherwise touching the payload.
type Proxy struct {
	cfg    Config
	router *Router

	httpListener net.Listener
	tlsListener  net.Listener
}

// New creates a Proxy bound to router. Call ListenAndServe to start
// accepting connections.
func New(cfg Config, router *Router) *Proxy {
	return &Proxy{cfg: cfg, router: router}
}

// ListenAndServe opens the HTTP and TLS-SNI listeners and serves until
// ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var err error
	p.httpListener, err = net.Listen("tcp", p.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.HTTPAddr, err)
	}
	p.tlsListener, err = net.Listen("tcp", p.cfg.TLSAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.TLSAddr, err)
	}

	go p.acceptLoop(ctx, p.httpListener, p.handleHTTPConnection)
	go p.acceptLoop(ctx, p.tlsListener, p.handleTLSConnection)

	<-ctx.Done()
	_ = p.httpListener.Close()
	_ = p.tlsListener.Close()
	return nil
}

func (p *Proxy) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn(fmt.Sprintf("proxy: accept error: %v", err))
				continue
			}
		}
		go handle(ctx, conn)
	}
}

func (p *Proxy) handleHTTPConnection(ctx context.Context, client net.Conn) {
	defer client.Close()

	buf := make([]byte, p.cfg.BufferSize)
	n, err := client.Read(buf)
	if err != nil {
		metrics.ProxyConnectionsTotal.WithLabelValues("", "read_error").Inc()
		return
	}

	domain, err := ExtractHTTPHost(string(buf[:n]))
	if err != nil {
		log.Debug(fmt.Sprintf("proxy: %v", err))
		metrics.ProxyConnectionsTotal.WithLabelValues("", "bad_request").Inc()
		return
	}

	p.splice(ctx, client, domain, buf[:n])
}

func (p *Proxy) handleTLSConnection(ctx context.Context, client net.Conn) {
	defer client.Close()

	buf := make([]byte, p.cfg.BufferSize)
	n, err := client.Read(buf)
	if err != nil {
		metrics.ProxyConnectionsTotal.WithLabelValues("", "read_error").Inc()
		return
	}

	domain, err := ExtractSNI(buf[:n])
	if err != nil {
		log.Debug(fmt.Sprintf("proxy: %v", err))
		metrics.ProxyConnectionsTotal.WithLabelValues("", "bad_clienthello").Inc()
		return
	}

	p.splice(ctx, client, domain, buf[:n])
}

// splice dials the backend for domain, replays the bytes already read
// from client, and copies in both directions until either side closes.
func (p *Proxy) splice(ctx context.Context, client net.Conn, domain string, alreadyRead []byte) {
	start := time.Now()

	addr, err := p.router.SelectBackend(domain)
	if err != nil {
		log.Warn(fmt.Sprintf("proxy: %v", err))
		metrics.ProxyConnectionsTotal.WithLabelValues(domain, "no_backend").Inc()
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	backend, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		log.Warn(fmt.Sprintf("proxy: failed to dial backend %s for %s: %v", addr, domain, err))
		metrics.ProxyConnectionsTotal.WithLabelValues(domain, "dial_error").Inc()
		return
	}
	defer backend.Close()

	if _, err := backend.Write(alreadyRead); err != nil {
		log.Warn(fmt.Sprintf("proxy: failed to replay request to backend %s: %v", addr, err))
		metrics.ProxyConnectionsTotal.WithLabelValues(domain, "write_error").Inc()
		return
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(backend, client)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, backend)
		return err
	})
	_ = g.Wait()

	metrics.ProxyConnectionsTotal.WithLabelValues(domain, "ok").Inc()
	metrics.ProxyConnectionDuration.WithLabelValues(domain).Observe(time.Since(start).Seconds())
}
