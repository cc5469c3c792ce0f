package build

import (
	"github.com/cuemby/formation/pkg/types"
)

// CapabilityMatcher decides whether the local node should execute a
// given build. Per spec.md's glossary its contract is fixed even though
// its implementation is a pluggable collaborator: deterministic, free
// of side effects, and total (it always returns an answer, never
// blocks indefinitely). The engine calls it once per request and never
// retries a "not responsible" answer -- another node owns the retry.
type CapabilityMatcher interface {
	IsResponsible(formfile types.Formfile, nodeID, buildID string) (bool, error)
}

// NodeCapacity is the resource envelope a ResourceCapabilityMatcher
// checks a Formfile against.
type NodeCapacity struct {
	VCPUs      uint8
	MemoryMB   uint64
	StorageGB  uint64
	GPUModels  map[string]int // model -> available count
}

// ResourceCapabilityMatcher is a deterministic matcher grounded on a
// static resource envelope: a node is responsible for a build only if
// it both fits the requested resources and wins a deterministic,
// hash-based tie-break among the candidate node set, so that exactly
// one of several equally-capable nodes picks up any given build.
type ResourceCapabilityMatcher struct {
	Capacity    NodeCapacity
	Candidates  []string // the full set of node ids eligible to serve this build
}

// NewResourceCapabilityMatcher builds a matcher over a fixed resource
// envelope and peer candidate set.
func NewResourceCapabilityMatcher(capacity NodeCapacity, candidates []string) *ResourceCapabilityMatcher {
	return &ResourceCapabilityMatcher{Capacity: capacity, Candidates: candidates}
}

// IsResponsible reports whether nodeID should execute buildID's build:
// first a resource-fit check, then -- among fitting candidates -- a
// deterministic winner selected by hashing buildID, so placement
// doesn't depend on request arrival order.
func (m *ResourceCapabilityMatcher) IsResponsible(formfile types.Formfile, nodeID, buildID string) (bool, error) {
	if !m.fits(formfile) {
		return false, nil
	}
	winner := electByHash(buildID, m.Candidates)
	return winner == "" || winner == nodeID, nil
}

func (m *ResourceCapabilityMatcher) fits(formfile types.Formfile) bool {
	if formfile.VCPUs > m.Capacity.VCPUs {
		return false
	}
	if formfile.MemoryMB > m.Capacity.MemoryMB {
		return false
	}
	storage := formfile.StorageGB
	if storage == 0 {
		storage = 5
	}
	if storage > m.Capacity.StorageGB {
		return false
	}
	for _, dev := range formfile.GPUDevices {
		gpu, err := types.ParseGPUDevice(dev)
		if err != nil {
			continue
		}
		if m.Capacity.GPUModels[gpu.Model] < gpu.Count {
			return false
		}
	}
	return true
}

// electByHash picks a deterministic winner from candidates using a
// stable hash of buildID, giving every candidate an equal, reproducible
// chance without any coordination round-trip. An empty candidate set
// means "no other known contenders" -- the caller treats that as a win.
func electByHash(buildID string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestScore := fnv1a(buildID + best)
	for _, c := range candidates[1:] {
		score := fnv1a(buildID + c)
		if score < bestScore || (score == bestScore && c < best) {
			best = c
			bestScore = score
		}
	}
	return best
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
