package dns

import (
	"net"
	"testing"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/health"
	"github.com/cuemby/formation/pkg/types"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory RecordStore for resolver tests.
type fakeStore struct {
	records map[string]*types.DnsRecord
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]*types.DnsRecord{}} }

func (f *fakeStore) GetDNSRecord(domain string) (*types.DnsRecord, bool) {
	r, ok := f.records[domain]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (f *fakeStore) ListDNSRecords() []types.DnsRecord {
	out := make([]types.DnsRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out
}

func (f *fakeStore) CreateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error) {
	cp := *r
	f.records[r.Domain] = &cp
	return &cp, nil
}

func (f *fakeStore) UpdateDNSRecord(r *types.DnsRecord) (*types.DnsRecord, error) {
	cp := *r
	f.records[r.Domain] = &cp
	return &cp, nil
}

func (f *fakeStore) DeleteDNSRecord(domain string) error {
	delete(f.records, domain)
	return nil
}

// S2 / P6: formnet client sees formnet_ip first then public_ip; a
// non-formnet client only ever sees public_ip.
func TestResolveFormnetPreference(t *testing.T) {
	store := newFakeStore()
	store.records["app.example"] = &types.DnsRecord{
		Domain:     "app.example",
		RecordType: types.RecordTypeA,
		FormnetIP:  []string{"10.0.0.5:80"},
		PublicIP:   []string{"203.0.113.7:80"},
	}
	r := NewResolver(store, nil, nil)

	rrs, err := r.Resolve("app.example.", dns.TypeA, net.ParseIP("10.0.0.77"))
	require.NoError(t, err)
	require.Len(t, rrs, 2)
	assert.Equal(t, "10.0.0.5", rrs[0].(*dns.A).A.String())
	assert.Equal(t, "203.0.113.7", rrs[1].(*dns.A).A.String())

	rrs, err = r.Resolve("app.example.", dns.TypeA, net.ParseIP("198.51.100.9"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "203.0.113.7", rrs[0].(*dns.A).A.String())
}

func TestResolveMissReturnsNotFound(t *testing.T) {
	r := NewResolver(newFakeStore(), nil, nil)
	_, err := r.Resolve("ghost.example.", dns.TypeA, net.ParseIP("1.2.3.4"))
	assert.True(t, ferrors.Is(err, ferrors.NotFound))
}

func TestResolveCNAMEIgnoresQueryType(t *testing.T) {
	store := newFakeStore()
	store.records["alias.example"] = &types.DnsRecord{
		Domain: "alias.example", RecordType: types.RecordTypeCNAME, CnameTarget: "target.example",
	}
	r := NewResolver(store, nil, nil)
	rrs, err := r.Resolve("alias.example.", dns.TypeA, net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "target.example.", rrs[0].(*dns.CNAME).Target)
}

// P7: when health filtering would empty the answer set, serve the
// unfiltered set rather than NXDOMAIN.
func TestResolveHealthFilterFallback(t *testing.T) {
	store := newFakeStore()
	store.records["app.example"] = &types.DnsRecord{
		Domain: "app.example", RecordType: types.RecordTypeA,
		PublicIP: []string{"203.0.113.7:80", "203.0.113.8:80"},
	}
	repo := health.NewIPHealthRepository(health.DefaultConfig())
	for i := 0; i < health.DefaultConfig().Retries; i++ {
		repo.Record("203.0.113.7:80", health.Result{Healthy: false})
		repo.Record("203.0.113.8:80", health.Result{Healthy: false})
	}

	r := NewResolver(store, repo, nil)
	rrs, err := r.Resolve("app.example.", dns.TypeA, net.ParseIP("198.51.100.1"))
	require.NoError(t, err)
	assert.Len(t, rrs, 2, "unfiltered set must be served when filtering would empty it")
}

func TestResolveHealthFilterNarrows(t *testing.T) {
	store := newFakeStore()
	store.records["app.example"] = &types.DnsRecord{
		Domain: "app.example", RecordType: types.RecordTypeA,
		PublicIP: []string{"203.0.113.7:80", "203.0.113.8:80"},
	}
	repo := health.NewIPHealthRepository(health.DefaultConfig())
	for i := 0; i < health.DefaultConfig().Retries; i++ {
		repo.Record("203.0.113.8:80", health.Result{Healthy: false})
	}

	r := NewResolver(store, repo, nil)
	rrs, err := r.Resolve("app.example.", dns.TypeA, net.ParseIP("198.51.100.1"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "203.0.113.7", rrs[0].(*dns.A).A.String())
}

func TestApplyUpdateUpsertsAndDeletes(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, nil)

	require.NoError(t, r.ApplyUpdate(&dns.A{
		Hdr: dns.RR_Header{Name: "svc.example.", Rrtype: dns.TypeA, Ttl: 60},
		A:   net.ParseIP("10.0.0.9"),
	}))
	rec, ok := store.GetDNSRecord("svc.example")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.9"}, rec.FormnetIP)

	require.NoError(t, r.ApplyUpdate(&dns.A{
		Hdr: dns.RR_Header{Name: "svc.example.", Rrtype: dns.TypeA, Ttl: 0},
		A:   net.ParseIP("10.0.0.9"),
	}))
	rec, ok = store.GetDNSRecord("svc.example")
	require.True(t, ok)
	assert.Empty(t, rec.FormnetIP)
}

func TestApplyUpdatePublicBucket(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, nil)

	require.NoError(t, r.ApplyUpdate(&dns.A{
		Hdr: dns.RR_Header{Name: "pub.example.", Rrtype: dns.TypeA, Ttl: 120},
		A:   net.ParseIP("203.0.113.1"),
	}))
	rec, ok := store.GetDNSRecord("pub.example")
	require.True(t, ok)
	assert.Equal(t, []string{"203.0.113.1"}, rec.PublicIP)
	assert.Empty(t, rec.FormnetIP)
}
