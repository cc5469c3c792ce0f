// Package mesh implements the Peer Mesh (C6): the admin broadcast
// fan-out set CRDT mutations are replicated to, and the rule that an
// active admin's endpoint change re-announces its DNS A record at the
// previous address so out-of-band callers keep resolving it while the
// new address propagates.
package mesh

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/types"
)

// DefaultWatchInterval is how often the mesh polls the admin peer set
// for endpoint changes. There is no event stream to subscribe to --
// NetworkState is an in-memory CRDT map, not a notifier -- so polling
// is the same idiom pkg/queue's Poller uses for the state and pack
// topics.
const DefaultWatchInterval = 2 * time.Second

// AdminRegistry is the mesh's view of the CRDT state store: the
// broadcast fan-out set, mirroring form-state/src/datastore.rs's
// get_all_active_admin.
type AdminRegistry interface {
	GetAllActiveAdmin() map[string]types.Peer
}

// DNSRefresher is the mesh's view of the authoritative DNS zone: find
// every record a given host currently appears in, and re-announce one
// unchanged, which pushes a fresh broadcast per dns_ops.go's
// applyDnsUpdate without altering any field.
type DNSRefresher interface {
	ListDNSRecords() []types.DnsRecord
	UpdateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error)
}

// Mesh tracks the admin peer set's endpoints and reacts to changes.
type Mesh struct {
	admins AdminRegistry
	dns    DNSRefresher
	logger zerolog.Logger

	lastEndpoints map[string]string
}

// New builds a Mesh over admins (typically a *state.DataStore's
// *state.NetworkState, via DataStore.State()) and dns (typically the
// *state.DataStore itself, via its DNS record CRUD).
func New(admins AdminRegistry, dns DNSRefresher) *Mesh {
	return &Mesh{
		admins:        admins,
		dns:           dns,
		logger:        log.WithComponent("mesh"),
		lastEndpoints: map[string]string{},
	}
}

// ActiveAdmins returns the current broadcast fan-out set: every live,
// non-disabled admin peer. Thin pass-through over AdminRegistry, so a
// caller does not need to know the concrete registry type.
func (m *Mesh) ActiveAdmins() map[string]types.Peer {
	return m.admins.GetAllActiveAdmin()
}

// Watch polls the admin peer set at interval until ctx is canceled,
// re-announcing DNS records at a peer's previous endpoint host whenever
// that peer's endpoint changes. An interval <= 0 uses
// DefaultWatchInterval.
func (m *Mesh) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Seed the baseline so the first tick doesn't treat every admin's
	// initial endpoint as a "change".
	m.poll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Mesh) poll() {
	current := m.admins.GetAllActiveAdmin()
	for id, peer := range current {
		prev, seen := m.lastEndpoints[id]
		m.lastEndpoints[id] = peer.Endpoint
		if !seen || prev == peer.Endpoint || prev == "" {
			continue
		}
		m.onEndpointChanged(id, prev)
	}
	// Peers that dropped out of the active admin set (disabled or
	// removed) stop being tracked; a later re-admission starts fresh.
	for id := range m.lastEndpoints {
		if _, ok := current[id]; !ok {
			delete(m.lastEndpoints, id)
		}
	}
}

// onEndpointChanged re-announces every DNS record still carrying
// previousEndpoint's host among its formnet/public addresses, per
// spec.md §4.6's "triggers a DNS update... at its previous IP".
func (m *Mesh) onEndpointChanged(peerID, previousEndpoint string) {
	host := hostOf(previousEndpoint)
	if host == "" {
		return
	}
	for _, rec := range m.dns.ListDNSRecords() {
		if !containsHost(rec.FormnetIP, host) && !containsHost(rec.PublicIP, host) {
			continue
		}
		r := rec
		if _, err := m.dns.UpdateDNSRecord(&r); err != nil {
			m.logger.Warn().Err(err).Str("peer", peerID).Str("domain", rec.Domain).Msg("failed to re-announce dns record after endpoint change")
		}
	}
}

func hostOf(endpoint string) string {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint
	}
	return host
}

func containsHost(addrs []string, host string) bool {
	for _, a := range addrs {
		if hostOf(a) == host || strings.EqualFold(a, host) {
			return true
		}
	}
	return false
}
