package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/storage"
	"github.com/cuemby/formation/pkg/types"
)

// BroadcastPort is the port every node listens for CRDT broadcast posts
// on, matching form-state/src/datastore.rs's hardcoded 3004.
const BroadcastPort = 3004

// StateTopic is the intent queue topic every CRDT mutation request is
// written to before a DataStore applies it.
const StateTopic = "state"

// DataStore wraps a NetworkState behind a mutex, persists every applied
// mutation to storage.Store, and broadcasts it to every other active
// admin peer, the Go shape of form-state/src/datastore.rs's DataStore.
type DataStore struct {
	mu     sync.Mutex
	nodeID string
	state  *NetworkState
	store  storage.Store
	queue  queue.Queue
	http   *http.Client
	logger zerolog.Logger

	lastApplied uint64
}

// New builds a DataStore for nodeID, loading any state previously
// persisted to store.
func New(nodeID string, store storage.Store, q queue.Queue) (*DataStore, error) {
	ds := &DataStore{
		nodeID: nodeID,
		state:  NewNetworkState(nodeID),
		store:  store,
		queue:  q,
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: log.WithComponent("state"),
	}
	if err := ds.loadFromStorage(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *DataStore) loadFromStorage() error {
	peers, err := ds.store.ListPeers()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list peers", err)
	}
	for _, p := range peers {
		ds.state.Peers.Add(ds.nodeID, p.ID, *p)
	}

	cidrs, err := ds.store.ListCIDRs()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list cidrs", err)
	}
	for _, c := range cidrs {
		ds.state.Cidrs.Add(ds.nodeID, c.ID, *c)
	}

	assocs, err := ds.store.ListAssociations()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list associations", err)
	}
	for _, a := range assocs {
		ds.state.Assocs.Add(ds.nodeID, assocKey(*a), *a)
	}

	records, err := ds.store.ListDNSRecords()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list dns records", err)
	}
	for _, r := range records {
		ds.state.DNS.Add(ds.nodeID, r.Domain, *r)
	}

	instances, err := ds.store.ListInstances()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list instances", err)
	}
	for _, i := range instances {
		ds.state.Instances.Add(ds.nodeID, i.InstanceID, *i)
	}

	agents, err := ds.store.ListAgents()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list agents", err)
	}
	for _, a := range agents {
		ds.state.Agents.Add(ds.nodeID, a.AgentID, *a)
	}

	accounts, err := ds.store.ListAccounts()
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "state.loadFromStorage", "failed to list accounts", err)
	}
	for _, a := range accounts {
		ds.state.Accounts.Add(ds.nodeID, a.Owner, *a)
	}
	return nil
}

// Enqueue writes req to the state topic under subtopic and returns its
// queue index. Callers that want the mutation visible immediately
// should follow with ConsumeOnce (as DataStore's own mutation methods do);
// a running node instead relies on RunConsumer's background loop.
func (ds *DataStore) Enqueue(subtopic byte, req interface{}) (uint64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.Internal, "state.Enqueue", "failed to encode request", err)
	}
	return ds.queue.Write(StateTopic, subtopic, payload)
}

// RunConsumer polls the state topic and applies every request in order
// until ctx is canceled.
func (ds *DataStore) RunConsumer(ctx context.Context) error {
	poller := queue.NewPoller(ds.queue, StateTopic, ds.lastApplied, 100*time.Millisecond, 64)
	return poller.Run(ctx, func(_ context.Context, entries []*queue.Entry) error {
		for _, e := range entries {
			if err := ds.apply(e); err != nil {
				ds.logger.Error().Err(err).Uint64("index", e.Index).Msg("failed to apply state entry")
			}
			ds.lastApplied = e.Index
		}
		return nil
	})
}

// ConsumeOnce drains and applies every entry currently on the state
// topic after the last applied index, returning how many were applied.
func (ds *DataStore) ConsumeOnce() (int, error) {
	entries, err := ds.queue.GetNAfter(StateTopic, ds.lastApplied, -1)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := ds.apply(e); err != nil {
			return 0, err
		}
		ds.lastApplied = e.Index
	}
	return len(entries), nil
}

func (ds *DataStore) apply(e *queue.Entry) error {
	switch e.Subtopic {
	case queue.SubtopicStatePeerRequest:
		var req PeerRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		_, err := ds.applyPeerRequest(req)
		return err
	case queue.SubtopicStateCidrRequest:
		var req CidrRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		_, err := ds.applyCidrRequest(req)
		return err
	case queue.SubtopicStateAssocRequest:
		var req AssocRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		return ds.applyAssocRequest(req)
	case queue.SubtopicStateDnsRequest:
		var req DnsRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		_, err := ds.applyDnsRequest(req)
		return err
	case queue.SubtopicStateAccountRequest:
		var req AccountRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		return ds.applyAccountRequest(req)
	case queue.SubtopicStateInstanceRequest:
		var req InstanceRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		return ds.applyInstanceRequest(req)
	case queue.SubtopicStateAgentRequest:
		var req AgentRequest
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return err
		}
		return ds.applyAgentRequest(req)
	default:
		return ferrors.New(ferrors.InvalidInput, "state.apply", fmt.Sprintf("unknown subtopic %d on state topic", e.Subtopic))
	}
}

// broadcast posts endpoint/payload to every currently active admin peer
// other than this node, logging (not failing) on a per-peer transport
// error -- form-state/src/datastore.rs::broadcast never lets one
// unreachable peer block the others.
func (ds *DataStore) broadcast(endpoint string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		ds.logger.Error().Err(err).Msg("failed to encode broadcast payload")
		return
	}
	for id, peer := range ds.state.GetAllActiveAdmin() {
		if id == ds.nodeID {
			continue
		}
		go ds.send(peer, endpoint, body)
	}
}

func (ds *DataStore) send(peer types.Peer, endpoint string, body []byte) {
	url := fmt.Sprintf("http://%s:%d/%s", peer.IP.String(), BroadcastPort, endpoint)
	resp, err := ds.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		ds.logger.Warn().Err(err).Str("peer", peer.ID).Str("endpoint", endpoint).Msg("broadcast failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		ds.logger.Warn().Str("peer", peer.ID).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("broadcast rejected")
	}
}

// State returns the underlying NetworkState for read-only use by other
// packages (DNS lookups, proxy routing, mesh broadcast target lists).
// Callers must not mutate the maps directly.
func (ds *DataStore) State() *NetworkState {
	return ds.state
}

func (ds *DataStore) lock() func() {
	ds.mu.Lock()
	return ds.mu.Unlock
}
