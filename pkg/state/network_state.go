package state

import (
	"github.com/cuemby/formation/pkg/crdt"
	"github.com/cuemby/formation/pkg/types"
)

// NetworkState composes one crdt.Map per replicated entity class. It has
// no persistence or transport concerns of its own; DataStore supplies
// those.
type NetworkState struct {
	NodeID string
	Peers  *crdt.Map[string, types.Peer]
	Cidrs  *crdt.Map[string, types.CIDR]
	Assocs *crdt.Map[string, types.Association] // keyed by Association.Key() joined with "/"
	DNS    *crdt.Map[string, types.DnsRecord]
	Instances *crdt.Map[string, types.Instance]
	Agents    *crdt.Map[string, types.Agent]
	Accounts  *crdt.Map[string, types.Account]
}

// NewNetworkState returns an empty NetworkState attributed to nodeID:
// every local write this replica performs is stamped with that actor id.
func NewNetworkState(nodeID string) *NetworkState {
	return &NetworkState{
		NodeID:    nodeID,
		Peers:     crdt.NewMap[string, types.Peer](),
		Cidrs:     crdt.NewMap[string, types.CIDR](),
		Assocs:    crdt.NewMap[string, types.Association](),
		DNS:       crdt.NewMap[string, types.DnsRecord](),
		Instances: crdt.NewMap[string, types.Instance](),
		Agents:    crdt.NewMap[string, types.Agent](),
		Accounts:  crdt.NewMap[string, types.Account](),
	}
}

// GetAllUsers returns every live peer, admin or not.
func (n *NetworkState) GetAllUsers() map[string]types.Peer {
	out := map[string]types.Peer{}
	n.Peers.Range(func(id string, p types.Peer) bool {
		out[id] = p
		return true
	})
	return out
}

// GetAllActiveAdmin returns every live, non-disabled admin peer -- the
// broadcast fan-out set for CRDT ops, mirroring
// form-state/src/datastore.rs::get_all_active_admin.
func (n *NetworkState) GetAllActiveAdmin() map[string]types.Peer {
	out := map[string]types.Peer{}
	n.Peers.Range(func(id string, p types.Peer) bool {
		if p.IsAdmin && !p.IsDisabled {
			out[id] = p
		}
		return true
	})
	return out
}

func assocKey(a types.Association) string {
	k1, k2 := a.Key()
	return k1 + "/" + k2
}
