package storage

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/formation/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPeerCRUD(t *testing.T) {
	store := newTestStore(t)

	peer := &types.Peer{
		ID:        "peer-1",
		Name:      "node-a",
		IP:        net.ParseIP("10.0.0.1"),
		CidrID:    "infra",
		PublicKey: "pubkey-a",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreatePeer(peer))

	got, err := store.GetPeer("peer-1")
	require.NoError(t, err)
	require.Equal(t, peer.Name, got.Name)

	byIP, err := store.GetPeerByIP("10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "peer-1", byIP.ID)

	peer.IsAdmin = true
	require.NoError(t, store.UpdatePeer(peer))
	got, err = store.GetPeer("peer-1")
	require.NoError(t, err)
	require.True(t, got.IsAdmin)

	all, err := store.ListPeers()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, store.DeletePeer("peer-1"))
	_, err = store.GetPeer("peer-1")
	require.Error(t, err)
}

func TestDNSRecordKeyIsNormalized(t *testing.T) {
	store := newTestStore(t)

	record := &types.DnsRecord{
		Domain:     "Example.com.",
		RecordType: types.RecordTypeA,
		FormnetIP:  []string{"10.0.0.5:80"},
		TTL:        60,
	}
	require.NoError(t, store.CreateDNSRecord(record))

	got, err := store.GetDNSRecord("example.com")
	require.NoError(t, err)
	require.Equal(t, record.Domain, got.Domain)
}

func TestAssociationKeyIsOrderIndependent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateAssociation(&types.Association{CidrID1: "b", CidrID2: "a"}))
	require.NoError(t, store.DeleteAssociation("a", "b"))

	all, err := store.ListAssociations()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTLSCertificateLookupByWildcardHost(t *testing.T) {
	store := newTestStore(t)

	cert := &types.TLSCertificate{
		ID:    "cert-1",
		Name:  "wildcard-example",
		Hosts: []string{"*.example.com"},
	}
	require.NoError(t, store.CreateTLSCertificate(cert))

	matched, err := store.GetTLSCertificatesByHost("api.example.com")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, "cert-1", matched[0].ID)

	matched, err = store.GetTLSCertificatesByHost("other.org")
	require.NoError(t, err)
	require.Empty(t, matched)
}
