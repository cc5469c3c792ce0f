package build

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/types"
)

func TestResourceCapabilityMatcherRejectsOverCapacityRequest(t *testing.T) {
	m := NewResourceCapabilityMatcher(NodeCapacity{VCPUs: 2, MemoryMB: 1024, StorageGB: 10}, []string{"node-1"})

	ok, err := m.IsResponsible(types.Formfile{Name: "web", VCPUs: 4, MemoryMB: 512}, "node-1", "build-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResourceCapabilityMatcherRejectsMissingGPU(t *testing.T) {
	m := NewResourceCapabilityMatcher(NodeCapacity{VCPUs: 8, MemoryMB: 8192, StorageGB: 100, GPUModels: map[string]int{"H100": 1}}, []string{"node-1"})

	ok, err := m.IsResponsible(types.Formfile{Name: "infer", VCPUs: 2, MemoryMB: 2048, GPUDevices: []string{"H100:2"}}, "node-1", "build-1")
	require.NoError(t, err)
	require.False(t, ok, "node only has one H100, request needs two")
}

func TestResourceCapabilityMatcherElectsExactlyOneCandidate(t *testing.T) {
	candidates := []string{"node-1", "node-2", "node-3"}
	capacity := NodeCapacity{VCPUs: 8, MemoryMB: 8192, StorageGB: 100}

	winners := map[string]bool{}
	for _, nodeID := range candidates {
		m := NewResourceCapabilityMatcher(capacity, candidates)
		ok, err := m.IsResponsible(types.Formfile{Name: "web", VCPUs: 1, MemoryMB: 512}, nodeID, "build-fixed")
		require.NoError(t, err)
		if ok {
			winners[nodeID] = true
		}
	}
	require.Len(t, winners, 1, "exactly one candidate must be elected for a given build id")
}

func TestResourceCapabilityMatcherElectionIsDeterministic(t *testing.T) {
	candidates := []string{"node-1", "node-2", "node-3"}
	capacity := NodeCapacity{VCPUs: 8, MemoryMB: 8192, StorageGB: 100}

	first := electByHash("build-xyz", candidates)
	second := electByHash("build-xyz", candidates)
	require.Equal(t, first, second)

	m := NewResourceCapabilityMatcher(capacity, candidates)
	ok, err := m.IsResponsible(types.Formfile{Name: "web", VCPUs: 1, MemoryMB: 512}, first, "build-xyz")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResourceCapabilityMatcherDefaultsStorageToFiveGB(t *testing.T) {
	m := NewResourceCapabilityMatcher(NodeCapacity{VCPUs: 8, MemoryMB: 8192, StorageGB: 4}, []string{"node-1"})

	ok, err := m.IsResponsible(types.Formfile{Name: "web", VCPUs: 1, MemoryMB: 512}, "node-1", "build-1")
	require.NoError(t, err)
	require.False(t, ok, "an unset storage request must default to 5GB, exceeding a 4GB-capacity node")
}
