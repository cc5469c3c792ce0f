package state

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/types"
)

// Server exposes a DataStore over HTTP, one route per row of the CRDT
// state store's operation table plus the bootstrap dumps a joining node
// fetches to catch up without replaying the whole queue.
type Server struct {
	ds  *DataStore
	mux *http.ServeMux
}

// NewServer wires every state route onto a fresh ServeMux.
func NewServer(ds *DataStore) *Server {
	s := &Server{ds: ds, mux: http.NewServeMux()}

	s.mux.HandleFunc("/user/create", s.handlePeerCreate)
	s.mux.HandleFunc("/user/update", s.handlePeerUpdate)
	s.mux.HandleFunc("/user/disable", s.handlePeerDisable)
	s.mux.HandleFunc("/user/redeem", s.handlePeerRedeem)
	s.mux.HandleFunc("/user/delete", s.handlePeerDelete)
	s.mux.HandleFunc("/user/delete_expired", s.handlePeerDeleteExpired)
	s.mux.HandleFunc("/user/list", s.handlePeerList)
	s.mux.HandleFunc("/user/", s.handlePeerByID) // /user/{id}/get, /user/{id}/get_all_allowed

	s.mux.HandleFunc("/cidr/create", s.handleCidrCreate)
	s.mux.HandleFunc("/cidr/update", s.handleCidrUpdate)
	s.mux.HandleFunc("/cidr/list", s.handleCidrList)
	s.mux.HandleFunc("/cidr/", s.handleCidrByID) // /cidr/{id}/get, /cidr/{id}/delete, /cidr/{id}/list (peers)

	s.mux.HandleFunc("/assoc/create", s.handleAssocCreate)
	s.mux.HandleFunc("/assoc/delete", s.handleAssocDelete)
	s.mux.HandleFunc("/assoc/list", s.handleAssocList)

	s.mux.HandleFunc("/dns/create", s.handleDnsCreate)
	s.mux.HandleFunc("/dns/update", s.handleDnsUpdate)
	s.mux.HandleFunc("/dns/list", s.handleDnsList)
	s.mux.HandleFunc("/dns/", s.handleDnsByDomain) // /dns/{domain}/delete, /dns/{domain}/get

	s.mux.HandleFunc("/bootstrap/peer_state", s.handleBootstrapPeers)
	s.mux.HandleFunc("/bootstrap/cidr_state", s.handleBootstrapCidrs)
	s.mux.HandleFunc("/bootstrap/assoc_state", s.handleBootstrapAssocs)
	s.mux.HandleFunc("/bootstrap/network_state", s.handleBootstrapNetworkState)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch ferrors.KindOf(err) {
	case ferrors.InvalidInput, ferrors.UpdateRejected, ferrors.PinningViolation:
		status = http.StatusBadRequest
	case ferrors.NotFound:
		status = http.StatusNotFound
	case ferrors.Gone:
		status = http.StatusGone
	case ferrors.Unauthorized:
		status = http.StatusUnauthorized
	}
	log.Logger.Error().Err(err).Msg("state request failed")
	writeJSON(w, status, fail(err.Error()))
}

// --- peers ---

func (s *Server) handlePeerCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var peer types.Peer
	if err := json.NewDecoder(r.Body).Decode(&peer); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.ds.CreatePeer(&peer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(created))
}

func (s *Server) handlePeerUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var peer types.Peer
	if err := json.NewDecoder(r.Body).Decode(&peer); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.ds.UpdatePeer(&peer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(updated))
}

func (s *Server) handlePeerDisable(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	updated, err := s.ds.DisablePeer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(updated))
}

func (s *Server) handlePeerRedeem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID        string `json:"id"`
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.ds.RedeemPeer(body.ID, body.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(updated))
}

func (s *Server) handlePeerDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := s.ds.DeletePeer(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil))
}

func (s *Server) handlePeerDeleteExpired(w http.ResponseWriter, r *http.Request) {
	n, err := s.ds.DeleteExpiredInvites()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(n))
}

func (s *Server) handlePeerList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListPeers()))
}

// handlePeerByID serves /user/{id}/get, /user/{id}/get_all_allowed and
// /user/{ip}/get_from_ip (registered here since both hang off the /user/
// prefix boundary and Go's ServeMux can't pattern-match path segments
// on this Go version).
func (s *Server) handlePeerByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/user/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "get":
		p, found := s.ds.GetPeer(id)
		if !found {
			writeError(w, ferrors.New(ferrors.NotFound, "state.handlePeerByID", "peer not found"))
			return
		}
		writeJSON(w, http.StatusOK, ok(p))
	case "get_all_allowed":
		peers, err := s.ds.GetAllAllowed(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(peers))
	case "get_from_ip":
		p, found := s.ds.GetPeerByIP(id)
		if !found {
			writeError(w, ferrors.New(ferrors.NotFound, "state.handlePeerByID", "no peer assigned that ip"))
			return
		}
		writeJSON(w, http.StatusOK, ok(p))
	default:
		http.NotFound(w, r)
	}
}

// --- cidrs ---

func (s *Server) handleCidrCreate(w http.ResponseWriter, r *http.Request) {
	var c types.CIDR
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.ds.CreateCIDR(&c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(created))
}

func (s *Server) handleCidrUpdate(w http.ResponseWriter, r *http.Request) {
	var c types.CIDR
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.ds.UpdateCIDR(&c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(updated))
}

func (s *Server) handleCidrList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListCIDRs()))
}

func (s *Server) handleCidrByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/cidr/"), "/")
	id := parts[0]
	action := "get"
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "get":
		c, found := s.ds.GetCIDR(id)
		if !found {
			writeError(w, ferrors.New(ferrors.NotFound, "state.handleCidrByID", "cidr not found"))
			return
		}
		writeJSON(w, http.StatusOK, ok(c))
	case "delete":
		if err := s.ds.DeleteCIDR(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(nil))
	case "list":
		writeJSON(w, http.StatusOK, ok(s.ds.ListPeersInCidr(id)))
	default:
		http.NotFound(w, r)
	}
}

// --- associations ---

func (s *Server) handleAssocCreate(w http.ResponseWriter, r *http.Request) {
	var a types.Association
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.ds.CreateAssociation(&a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(created))
}

func (s *Server) handleAssocDelete(w http.ResponseWriter, r *http.Request) {
	cidr1 := r.URL.Query().Get("cidr_1")
	cidr2 := r.URL.Query().Get("cidr_2")
	if err := s.ds.DeleteAssociation(cidr1, cidr2); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil))
}

func (s *Server) handleAssocList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListAssociations()))
}

// --- dns ---

func (s *Server) handleDnsCreate(w http.ResponseWriter, r *http.Request) {
	var rec types.DnsRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.ds.CreateDNSRecord(&rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(created))
}

func (s *Server) handleDnsUpdate(w http.ResponseWriter, r *http.Request) {
	var rec types.DnsRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.ds.UpdateDNSRecord(&rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(updated))
}

func (s *Server) handleDnsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListDNSRecords()))
}

func (s *Server) handleDnsByDomain(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/dns/"), "/", 2)
	domain := parts[0]
	action := "get"
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "get":
		rec, found := s.ds.GetDNSRecord(domain)
		if !found {
			writeError(w, ferrors.New(ferrors.NotFound, "state.handleDnsByDomain", "record not found"))
			return
		}
		writeJSON(w, http.StatusOK, ok(rec))
	case "delete":
		if err := s.ds.DeleteDNSRecord(domain); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(nil))
	default:
		http.NotFound(w, r)
	}
}

// --- bootstrap ---

func (s *Server) handleBootstrapPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListPeers()))
}

func (s *Server) handleBootstrapCidrs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListCIDRs()))
}

func (s *Server) handleBootstrapAssocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(s.ds.ListAssociations()))
}

type networkStateDump struct {
	Peers  []types.Peer        `json:"peers"`
	Cidrs  []types.CIDR        `json:"cidrs"`
	Assocs []types.Association `json:"associations"`
	DNS    []types.DnsRecord   `json:"dns_records"`
}

func (s *Server) handleBootstrapNetworkState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(networkStateDump{
		Peers:  s.ds.ListPeers(),
		Cidrs:  s.ds.ListCIDRs(),
		Assocs: s.ds.ListAssociations(),
		DNS:    s.ds.ListDNSRecords(),
	}))
}
