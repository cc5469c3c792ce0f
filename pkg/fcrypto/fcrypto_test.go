package fcrypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func TestSignThenRecoverAddressRoundTrips(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg := []byte(`{"formfile":{"name":"web"}}`)
	sig, err := Sign(priv, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	want := AddressFromPubkey(priv.PubKey())

	got, err := RecoverAddress(sig, msg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecoverAddressRejectsTamperedMessage(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg := []byte("original payload")
	sig, err := Sign(priv, msg)
	require.NoError(t, err)

	got, err := RecoverAddress(sig, []byte("tampered payload"))
	require.NoError(t, err) // recovery always succeeds, just to the wrong key
	assert.NotEqual(t, AddressFromPubkey(priv.PubKey()), got)
}

func TestDeriveBuildIDIsDeterministic(t *testing.T) {
	a := DeriveBuildID("0xabc", "web")
	b := DeriveBuildID("0xabc", "web")
	assert.Equal(t, a, b)

	c := DeriveBuildID("0xabc", "worker")
	assert.NotEqual(t, a, c)
}

func TestDeriveInstanceIDDiffersPerNode(t *testing.T) {
	buildID := DeriveBuildID("0xabc", "web")
	nodeA := DeriveBuildID("node-a", "seed")
	nodeB := DeriveBuildID("node-b", "seed")

	instA, err := DeriveInstanceID(buildID, nodeA)
	require.NoError(t, err)
	instB, err := DeriveInstanceID(buildID, nodeB)
	require.NoError(t, err)

	assert.NotEqual(t, instA, instB)
}

func TestDeriveInstanceIDRejectsShortInput(t *testing.T) {
	_, err := DeriveInstanceID("ab", "cd")
	assert.Error(t, err)
}

// TestDeriveBuildIDMatchesS3 pins spec.md S3: build_id for owner-addr
// 0x11...11 (20 bytes) and name="svc" must equal
// SHA3-256(0x11*20 || "svc"), hashing the raw address bytes rather than
// their hex text.
func TestDeriveBuildIDMatchesS3(t *testing.T) {
	owner := strings.Repeat("11", 20)
	ownerBytes, err := hex.DecodeString(owner)
	require.NoError(t, err)

	want := sha3.Sum256(append(append([]byte{}, ownerBytes...), []byte("svc")...))

	got := DeriveBuildID(owner, "svc")
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

// TestDeriveInstanceIDMatchesS3 pins spec.md S3's instance_id derivation
// for node_id 0x22...22.
func TestDeriveInstanceIDMatchesS3(t *testing.T) {
	owner := strings.Repeat("11", 20)
	nodeID := strings.Repeat("22", 20)
	buildID := DeriveBuildID(owner, "svc")

	buildBytes, err := hex.DecodeString(buildID)
	require.NoError(t, err)
	nodeBytes, err := hex.DecodeString(nodeID)
	require.NoError(t, err)

	want := make([]byte, AddressLen)
	for i := range want {
		want[i] = buildBytes[i] ^ nodeBytes[i]
	}

	got, err := DeriveInstanceID(buildID, nodeID)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want), got)
}
