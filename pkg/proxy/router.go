package proxy

import (
	"math/rand"
	"sync"

	"github.com/cuemby/formation/pkg/ferrors"
)

// Backend is a routable domain's set of dial addresses. A route with
// more than one address is load balanced by random selection.
type Backend struct {
	Domain    string
	Addresses []string
}

// Router is a domain to Backend table, safe for concurrent access from
// the HTTP and TLS accept loops and from mesh-triggered route updates.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Backend
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Backend)}
}

// AddRoute inserts or replaces the backend for domain.
func (r *Router) AddRoute(domain string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[domain] = backend
}

// RemoveRoute deletes domain's route, if any.
func (r *Router) RemoveRoute(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, domain)
}

// GetRoute returns domain's backend, if one exists.
func (r *Router) GetRoute(domain string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.routes[domain]
	return b, ok
}

// SelectBackend picks a dial address for domain, at random among the
// backend's addresses when there is more than one.
func (r *Router) SelectBackend(domain string) (string, error) {
	r.mu.RLock()
	backend, ok := r.routes[domain]
	r.mu.RUnlock()

	if !ok || len(backend.Addresses) == 0 {
		return "", ferrors.New(ferrors.NoBackend, "proxy.SelectBackend", "no backend for domain "+domain)
	}
	if len(backend.Addresses) == 1 {
		return backend.Addresses[0], nil
	}
	return backend.Addresses[rand.Intn(len(backend.Addresses))], nil
}
