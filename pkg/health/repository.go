package health

import (
	"sync"
)

// IPHealthRepository tracks per-IP availability, generalizing the
// per-task Checker/Status machinery above to the per-address question
// the authoritative DNS resolver asks at lookup time: "is this
// formnet/public IP currently serving traffic?" Checkers remain the
// mechanism that produces a Result; IPHealthRepository is just the
// shared, read-heavy view the DNS resolver consults without re-running
// a check inline on the query path.
type IPHealthRepository struct {
	mu     sync.RWMutex
	status map[string]*Status
	config Config
}

// NewIPHealthRepository builds an empty repository. config governs how
// many consecutive results it takes to flip an address's Healthy bit.
func NewIPHealthRepository(config Config) *IPHealthRepository {
	return &IPHealthRepository{
		status: make(map[string]*Status),
		config: config,
	}
}

// Record folds a check result for addr (host:port) into its running
// status, the only write path into the repository.
func (r *IPHealthRepository) Record(addr string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[addr]
	if !ok {
		s = NewStatus()
		r.status[addr] = s
	}
	s.Update(result, r.config)
}

// Available reports whether addr is currently considered healthy. An
// address this repository has never observed is reported available,
// since an unchecked address must never be treated as unavailable.
func (r *IPHealthRepository) Available(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.status[addr]
	if !ok {
		return true
	}
	return s.Healthy
}

// Filter returns the subset of addrs that are currently available.
// Callers should fall back to the unfiltered set when this returns
// empty -- Filter itself stays pure and leaves that decision to the
// caller.
func (r *IPHealthRepository) Filter(addrs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		s, ok := r.status[a]
		if !ok || s.Healthy {
			out = append(out, a)
		}
	}
	return out
}

// Forget drops addr's tracked status, after which Available and Filter
// treat addr as unchecked.
func (r *IPHealthRepository) Forget(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.status, addr)
}
