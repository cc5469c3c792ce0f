package dns

import (
	"net"
	"testing"

	"github.com/cuemby/formation/pkg/health"
	"github.com/cuemby/formation/pkg/types"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolveProximityOrdersMultipleCandidates exercises the full path:
// a client choosing among several public addresses spread across
// regions, none of them down.
func TestResolveProximityOrdersMultipleCandidates(t *testing.T) {
	store := newFakeStore()
	store.records["fleet.example"] = &types.DnsRecord{
		Domain:     "fleet.example",
		RecordType: types.RecordTypeA,
		PublicIP: []string{
			"10.10.10.10:80",  // US West bucket
			"160.10.10.10:80", // South America bucket
			"40.10.10.10:80",  // US East bucket
		},
	}
	repo := health.NewIPHealthRepository(health.DefaultConfig())
	r := NewResolver(store, repo, nil)

	// Client anchored in the US East bucket (octet 40) should see the
	// US East candidate first.
	rrs, err := r.Resolve("fleet.example.", dns.TypeA, net.ParseIP("41.2.3.4"))
	require.NoError(t, err)
	require.Len(t, rrs, 3)
	assert.Equal(t, "40.10.10.10", rrs[0].(*dns.A).A.String())
}

// TestResolveAAAASkipsIPv4Candidates confirms qtype filtering drops
// address-family mismatches instead of coercing them.
func TestResolveAAAASkipsIPv4Candidates(t *testing.T) {
	store := newFakeStore()
	store.records["dual.example"] = &types.DnsRecord{
		Domain: "dual.example", RecordType: types.RecordTypeAAAA,
		PublicIP: []string{"203.0.113.1:80", "[2001:db8::1]:80"},
	}
	r := NewResolver(store, nil, nil)

	rrs, err := r.Resolve("dual.example.", dns.TypeAAAA, net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "2001:db8::1", rrs[0].(*dns.AAAA).AAAA.String())
}

// TestResolveHealthRecoveryRestoresCandidate shows that once a down
// address reports healthy again it rejoins the answer set.
func TestResolveHealthRecoveryRestoresCandidate(t *testing.T) {
	store := newFakeStore()
	store.records["app.example"] = &types.DnsRecord{
		Domain: "app.example", RecordType: types.RecordTypeA,
		PublicIP: []string{"203.0.113.7:80", "203.0.113.8:80"},
	}
	cfg := health.DefaultConfig()
	repo := health.NewIPHealthRepository(cfg)
	for i := 0; i < cfg.Retries; i++ {
		repo.Record("203.0.113.8:80", health.Result{Healthy: false})
	}
	r := NewResolver(store, repo, nil)

	rrs, err := r.Resolve("app.example.", dns.TypeA, net.ParseIP("198.51.100.1"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)

	repo.Record("203.0.113.8:80", health.Result{Healthy: true})
	rrs, err = r.Resolve("app.example.", dns.TypeA, net.ParseIP("198.51.100.1"))
	require.NoError(t, err)
	assert.Len(t, rrs, 2)
}

// TestApplyUpdateThenResolveRoundTrips drives a dynamic UPDATE through
// ApplyUpdate and confirms a subsequent Resolve observes it, mirroring
// how Server wires the two together.
func TestApplyUpdateThenResolveRoundTrips(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, nil)

	require.NoError(t, r.ApplyUpdate(&dns.A{
		Hdr: dns.RR_Header{Name: "live.example.", Rrtype: dns.TypeA, Ttl: 60},
		A:   net.ParseIP("203.0.113.50"),
	}))

	rrs, err := r.Resolve("live.example.", dns.TypeA, net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "203.0.113.50", rrs[0].(*dns.A).A.String())

	require.NoError(t, r.ApplyUpdate(&dns.A{
		Hdr: dns.RR_Header{Name: "live.example.", Rrtype: dns.TypeA, Ttl: 0},
		A:   net.ParseIP("203.0.113.50"),
	}))
	rrs, err = r.Resolve("live.example.", dns.TypeA, net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	assert.Empty(t, rrs)
}

// TestApplyUpdateCNAMEThenResolve confirms a CNAME upsert via UPDATE is
// answered verbatim on the next lookup, regardless of query type.
func TestApplyUpdateCNAMEThenResolve(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil, nil)

	require.NoError(t, r.ApplyUpdate(&dns.CNAME{
		Hdr:    dns.RR_Header{Name: "www.example.", Rrtype: dns.TypeCNAME, Ttl: 300},
		Target: "fleet.example.",
	}))

	rrs, err := r.Resolve("www.example.", dns.TypeA, net.ParseIP("8.8.8.8"))
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, "fleet.example.", rrs[0].(*dns.CNAME).Target)
}

func TestDistanceFromClientUnparseableSortsLast(t *testing.T) {
	addrs := []string{"not-an-ip:80", "203.0.113.1:80"}
	sortByProximity(addrs, net.ParseIP("203.0.113.1"))
	assert.Equal(t, "203.0.113.1:80", addrs[0])
}
