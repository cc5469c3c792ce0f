package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/types"
)

type fakeAdminRegistry struct {
	admins map[string]types.Peer
}

func (f *fakeAdminRegistry) GetAllActiveAdmin() map[string]types.Peer {
	return f.admins
}

type fakeDNSRefresher struct {
	records  []types.DnsRecord
	refreshed []string
}

func (f *fakeDNSRefresher) ListDNSRecords() []types.DnsRecord {
	return f.records
}

func (f *fakeDNSRefresher) UpdateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error) {
	f.refreshed = append(f.refreshed, r.Domain)
	return r, nil
}

func TestActiveAdminsPassesThrough(t *testing.T) {
	admins := &fakeAdminRegistry{admins: map[string]types.Peer{
		"p1": {ID: "p1", IsAdmin: true},
	}}
	m := New(admins, &fakeDNSRefresher{})

	got := m.ActiveAdmins()
	require.Len(t, got, 1)
	require.True(t, got["p1"].IsAdmin)
}

func TestEndpointChangeReannouncesMatchingDNSRecord(t *testing.T) {
	admins := &fakeAdminRegistry{admins: map[string]types.Peer{
		"admin-1": {ID: "admin-1", IsAdmin: true, Endpoint: "10.0.0.5:51820"},
	}}
	dns := &fakeDNSRefresher{records: []types.DnsRecord{
		{Domain: "node.example.com", FormnetIP: []string{"10.0.0.5:8080"}},
		{Domain: "unrelated.example.com", FormnetIP: []string{"10.0.0.9:8080"}},
	}}
	m := New(admins, dns)

	m.poll() // seed baseline endpoint

	admins.admins["admin-1"] = types.Peer{ID: "admin-1", IsAdmin: true, Endpoint: "10.0.0.6:51820"}
	m.poll() // endpoint changed 10.0.0.5 -> 10.0.0.6

	require.Equal(t, []string{"node.example.com"}, dns.refreshed, "only the record at the previous host must be re-announced")
}

func TestNoChangeDoesNotReannounce(t *testing.T) {
	admins := &fakeAdminRegistry{admins: map[string]types.Peer{
		"admin-1": {ID: "admin-1", IsAdmin: true, Endpoint: "10.0.0.5:51820"},
	}}
	dns := &fakeDNSRefresher{records: []types.DnsRecord{
		{Domain: "node.example.com", FormnetIP: []string{"10.0.0.5:8080"}},
	}}
	m := New(admins, dns)

	m.poll()
	m.poll()

	require.Empty(t, dns.refreshed)
}

func TestDisabledAdminStopsBeingTracked(t *testing.T) {
	admins := &fakeAdminRegistry{admins: map[string]types.Peer{
		"admin-1": {ID: "admin-1", IsAdmin: true, Endpoint: "10.0.0.5:51820"},
	}}
	dns := &fakeDNSRefresher{}
	m := New(admins, dns)
	m.poll()

	delete(admins.admins, "admin-1")
	m.poll()
	require.NotContains(t, m.lastEndpoints, "admin-1")

	admins.admins["admin-1"] = types.Peer{ID: "admin-1", IsAdmin: true, Endpoint: "10.0.0.9:51820"}
	m.poll()
	require.Empty(t, dns.refreshed, "re-admission with a fresh endpoint is a new baseline, not a change")
}
