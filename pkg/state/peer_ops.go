package state

import (
	"fmt"
	"time"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/types"
)

// CreatePeer enqueues and synchronously applies a join request for peer,
// returning the stored record. It is the Go analogue of
// form-net/server/src/db/peer.rs::DatabasePeer::create.
func (ds *DataStore) CreatePeer(peer *types.Peer) (*types.Peer, error) {
	if _, err := ds.Enqueue(queue.SubtopicStatePeerRequest, PeerRequest{Op: "join", Peer: peer}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	p, ok := ds.state.Peers.Get(peer.ID)
	if !ok {
		return nil, ferrors.New(ferrors.Internal, "state.CreatePeer", "peer was not applied")
	}
	return &p, nil
}

// UpdatePeer enqueues and applies a peer update. Per
// form-net/server/src/db/peer.rs::update, only Name, Endpoint, IsAdmin,
// IsDisabled and Candidates are honored; IP and PublicKey are pinned to
// whatever the existing record holds.
func (ds *DataStore) UpdatePeer(update *types.Peer) (*types.Peer, error) {
	if _, err := ds.Enqueue(queue.SubtopicStatePeerRequest, PeerRequest{Op: "update", Peer: update}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	p, ok := ds.state.Peers.Get(update.ID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.UpdatePeer", fmt.Sprintf("peer %q not found", update.ID))
	}
	return &p, nil
}

// DeletePeer enqueues and applies a peer removal.
func (ds *DataStore) DeletePeer(id string) error {
	if _, err := ds.Enqueue(queue.SubtopicStatePeerRequest, PeerRequest{Op: "delete", ID: id}); err != nil {
		return err
	}
	_, err := ds.ConsumeOnce()
	return err
}

// DisablePeer marks a peer disabled without touching any other field,
// mirroring form-net/server/src/db/peer.rs::disable.
func (ds *DataStore) DisablePeer(id string) (*types.Peer, error) {
	existing, ok := ds.state.Peers.Get(id)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.DisablePeer", fmt.Sprintf("peer %q not found", id))
	}
	existing.IsDisabled = true
	return ds.UpdatePeer(&existing)
}

// RedeemPeer marks an invited peer redeemed. It fails with Gone if the
// peer was already redeemed and Unauthorized if its invite has expired,
// mirroring form-net/server/src/db/peer.rs::redeem's ServerError variants.
func (ds *DataStore) RedeemPeer(id string, publicKey string) (*types.Peer, error) {
	existing, ok := ds.state.Peers.Get(id)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.RedeemPeer", fmt.Sprintf("peer %q not found", id))
	}
	if existing.IsRedeemed {
		return nil, ferrors.New(ferrors.Gone, "state.RedeemPeer", fmt.Sprintf("peer %q already redeemed", id))
	}
	if existing.Expired(time.Now()) {
		return nil, ferrors.New(ferrors.Unauthorized, "state.RedeemPeer", fmt.Sprintf("invite for peer %q has expired", id))
	}
	if _, err := ds.Enqueue(queue.SubtopicStatePeerRequest, PeerRequest{Op: "redeem", ID: id, Peer: &types.Peer{PublicKey: publicKey}}); err != nil {
		return nil, err
	}
	if _, err := ds.ConsumeOnce(); err != nil {
		return nil, err
	}
	p, _ := ds.state.Peers.Get(id)
	return &p, nil
}

// GetPeer returns a live peer by id.
func (ds *DataStore) GetPeer(id string) (*types.Peer, bool) {
	p, ok := ds.state.Peers.Get(id)
	if !ok {
		return nil, false
	}
	return &p, true
}

// GetPeerByIP returns the live peer assigned ip, if any.
func (ds *DataStore) GetPeerByIP(ip string) (*types.Peer, bool) {
	var found *types.Peer
	ds.state.Peers.Range(func(_ string, p types.Peer) bool {
		if p.IP.String() == ip {
			cp := p
			found = &cp
			return false
		}
		return true
	})
	return found, found != nil
}

// ListPeers returns every live peer.
func (ds *DataStore) ListPeers() []types.Peer {
	out := make([]types.Peer, 0, ds.state.Peers.Len())
	ds.state.Peers.Range(func(_ string, p types.Peer) bool {
		out = append(out, p)
		return true
	})
	return out
}

// ListPeersInCidr returns every live peer assigned to cidrID.
func (ds *DataStore) ListPeersInCidr(cidrID string) []types.Peer {
	out := []types.Peer{}
	ds.state.Peers.Range(func(_ string, p types.Peer) bool {
		if p.CidrID == cidrID {
			out = append(out, p)
		}
		return true
	})
	return out
}

// GetAllAllowed returns every peer allowed to see peerID: itself, every
// peer sharing its CIDR, and every peer in a CIDR associated with its
// own (directly, via the Association map), plus the implicit infra CIDR.
func (ds *DataStore) GetAllAllowed(peerID string) ([]types.Peer, error) {
	self, ok := ds.state.Peers.Get(peerID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.GetAllAllowed", fmt.Sprintf("peer %q not found", peerID))
	}

	allowedCidrs := map[string]bool{self.CidrID: true, types.InfraCidrID: true}
	ds.state.Assocs.Range(func(_ string, a types.Association) bool {
		if a.CidrID1 == self.CidrID {
			allowedCidrs[a.CidrID2] = true
		}
		if a.CidrID2 == self.CidrID {
			allowedCidrs[a.CidrID1] = true
		}
		return true
	})

	out := []types.Peer{}
	ds.state.Peers.Range(func(_ string, p types.Peer) bool {
		if allowedCidrs[p.CidrID] {
			out = append(out, p)
		}
		return true
	})
	return out, nil
}

// DeleteExpiredInvites removes every unredeemed peer whose invite has
// passed its expiry.
func (ds *DataStore) DeleteExpiredInvites() (int, error) {
	now := time.Now()
	var expired []string
	ds.state.Peers.Range(func(id string, p types.Peer) bool {
		if p.Expired(now) {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		if err := ds.DeletePeer(id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (ds *DataStore) applyPeerRequest(req PeerRequest) (*types.Peer, error) {
	unlock := ds.lock()
	defer unlock()

	switch req.Op {
	case "join":
		return ds.applyPeerJoin(req.Peer)
	case "update":
		return ds.applyPeerUpdate(req.Peer)
	case "redeem":
		return ds.applyPeerRedeem(req.ID, req.Peer.PublicKey)
	case "delete":
		return nil, ds.applyPeerDelete(req.ID)
	default:
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerRequest", fmt.Sprintf("unknown peer op %q", req.Op))
	}
}

func (ds *DataStore) applyPeerJoin(peer *types.Peer) (*types.Peer, error) {
	if peer == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerJoin", "peer is required")
	}
	if err := validatePeerName(peer.Name); err != nil {
		return nil, err
	}
	cidr, ok := ds.state.Cidrs.Get(peer.CidrID)
	if !ok {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerJoin", fmt.Sprintf("cidr %q does not exist", peer.CidrID))
	}
	contains, err := cidrContains(cidr.Cidr, peer.IP)
	if err != nil {
		return nil, err
	}
	if !contains {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerJoin", fmt.Sprintf("ip %s is not within cidr %q", peer.IP, cidr.Cidr))
	}
	assignable, err := cidrIsAssignable(cidr.Cidr, peer.IP)
	if err != nil {
		return nil, err
	}
	if !assignable {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerJoin", fmt.Sprintf("ip %s is not assignable within cidr %q", peer.IP, cidr.Cidr))
	}

	now := time.Now()
	peer.CreatedAt = now
	peer.UpdatedAt = now
	ds.state.Peers.Add(ds.nodeID, peer.ID, *peer)
	if err := ds.store.CreatePeer(peer); err != nil {
		return nil, err
	}
	ds.broadcast("user/create", PeerRequest{Op: "join", Peer: peer})
	return peer, nil
}

func (ds *DataStore) applyPeerUpdate(update *types.Peer) (*types.Peer, error) {
	if update == nil {
		return nil, ferrors.New(ferrors.InvalidInput, "state.applyPeerUpdate", "peer is required")
	}
	existing, ok := ds.state.Peers.Get(update.ID)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.applyPeerUpdate", fmt.Sprintf("peer %q not found", update.ID))
	}
	if update.Name != "" && update.Name != existing.Name {
		if err := validatePeerName(update.Name); err != nil {
			return nil, err
		}
		existing.Name = update.Name
	}

	// Pinning invariant: IP and PublicKey never change via update, only
	// the fields form-net/server/src/db/peer.rs::update's new_contents
	// struct-update copies explicitly.
	existing.Endpoint = update.Endpoint
	existing.IsAdmin = update.IsAdmin
	existing.IsDisabled = update.IsDisabled
	existing.Candidates = update.Candidates
	existing.UpdatedAt = time.Now()

	ds.state.Peers.Add(ds.nodeID, existing.ID, existing)
	if err := ds.store.UpdatePeer(&existing); err != nil {
		return nil, err
	}
	ds.broadcast("user/update", PeerRequest{Op: "update", Peer: &existing})
	return &existing, nil
}

// applyPeerRedeem sets PublicKey and IsRedeemed, the one mutation path
// allowed to touch PublicKey after a peer is created -- every other
// update pins it, matching form-net/server/src/db/peer.rs's contents
// struct-update.
func (ds *DataStore) applyPeerRedeem(id, publicKey string) (*types.Peer, error) {
	existing, ok := ds.state.Peers.Get(id)
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "state.applyPeerRedeem", fmt.Sprintf("peer %q not found", id))
	}
	existing.PublicKey = publicKey
	existing.IsRedeemed = true
	existing.UpdatedAt = time.Now()

	ds.state.Peers.Add(ds.nodeID, existing.ID, existing)
	if err := ds.store.UpdatePeer(&existing); err != nil {
		return nil, err
	}
	ds.broadcast("user/update", PeerRequest{Op: "redeem", Peer: &existing})
	return &existing, nil
}

func (ds *DataStore) applyPeerDelete(id string) error {
	if _, ok := ds.state.Peers.Get(id); !ok {
		return ferrors.New(ferrors.NotFound, "state.applyPeerDelete", fmt.Sprintf("peer %q not found", id))
	}
	ds.state.Peers.Rm(ds.nodeID, id)
	if err := ds.store.DeletePeer(id); err != nil {
		return err
	}
	ds.broadcast("user/delete", PeerRequest{Op: "delete", ID: id})
	return nil
}
