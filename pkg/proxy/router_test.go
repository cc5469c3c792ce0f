package proxy

import (
	"testing"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterAddGetRemove(t *testing.T) {
	r := NewRouter()
	r.AddRoute("api.formation", Backend{Domain: "api.formation", Addresses: []string{"10.0.0.1:8080"}})

	b, ok := r.GetRoute("api.formation")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:8080"}, b.Addresses)

	r.RemoveRoute("api.formation")
	_, ok = r.GetRoute("api.formation")
	assert.False(t, ok)
}

func TestRouterSelectBackendNoRoute(t *testing.T) {
	r := NewRouter()
	_, err := r.SelectBackend("missing.formation")
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.NoBackend))
}

func TestRouterSelectBackendSingleAddress(t *testing.T) {
	r := NewRouter()
	r.AddRoute("api.formation", Backend{Domain: "api.formation", Addresses: []string{"10.0.0.1:8080"}})

	addr, err := r.SelectBackend("api.formation")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", addr)
}

func TestRouterSelectBackendMultipleAddresses(t *testing.T) {
	r := NewRouter()
	addrs := []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080"}
	r.AddRoute("api.formation", Backend{Domain: "api.formation", Addresses: addrs})

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		addr, err := r.SelectBackend("api.formation")
		require.NoError(t, err)
		seen[addr] = true
	}
	assert.NotEmpty(t, seen)
	for addr := range seen {
		assert.Contains(t, addrs, addr)
	}
}
