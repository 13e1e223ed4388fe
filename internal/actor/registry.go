// ABOUTME: Maps logical actor names to opaque addresses and delivery endpoints.
// ABOUTME: Registration is an idempotent upsert; several names may share one address.

package actor

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Address is an opaque identifier that resolves to a delivery endpoint.
// Addresses are immutable once minted; re-registering a name mints a new one.
type Address string

// Endpoint delivers messages addressed to one actor. Implementations must be
// safe for concurrent use; delivery is fire-and-forget from the sender's
// point of view, so Deliver should never block indefinitely.
type Endpoint interface {
	Deliver(msg Message) error
}

// Registry tracks the live actor topology: name -> address -> endpoint.
type Registry struct {
	mu        sync.RWMutex
	names     map[string]Address
	endpoints map[Address]Endpoint
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		names:     make(map[string]Address),
		endpoints: make(map[Address]Endpoint),
		logger:    logger.With("component", "registry"),
	}
}

// Register binds a logical name to an endpoint, minting a fresh address.
// Registering an already-bound name replaces the previous binding (upsert);
// the old address is dropped unless another name still points at it.
func (r *Registry) Register(name string, ep Endpoint) Address {
	addr := Address(uuid.New().String())

	r.mu.Lock()
	if old, ok := r.names[name]; ok {
		r.releaseLocked(name, old)
	}
	r.names[name] = addr
	r.endpoints[addr] = ep
	total := len(r.names)
	r.mu.Unlock()

	r.logger.Info("actor registered", "name", name, "address", addr, "total_actors", total)
	return addr
}

// Alias points an additional name at an existing address, so several logical
// roles can share one endpoint. Returns false if the address is unknown.
func (r *Registry) Alias(name string, addr Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[addr]; !ok {
		return false
	}
	if old, exists := r.names[name]; exists && old != addr {
		r.releaseLocked(name, old)
	}
	r.names[name] = addr
	return true
}

// Unregister removes a name binding. The address is dropped once no name
// refers to it.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	addr, ok := r.names[name]
	if ok {
		delete(r.names, name)
		r.dropIfOrphanedLocked(addr)
	}
	total := len(r.names)
	r.mu.Unlock()

	if ok {
		r.logger.Info("actor unregistered", "name", name, "total_actors", total)
	}
}

// Resolve returns the address and endpoint bound to a name.
func (r *Registry) Resolve(name string) (Address, Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.names[name]
	if !ok {
		return "", nil, false
	}
	ep, ok := r.endpoints[addr]
	return addr, ep, ok
}

// releaseLocked detaches name from addr and garbage-collects the endpoint if
// nothing else references it. Must be called with mu held.
func (r *Registry) releaseLocked(name string, addr Address) {
	delete(r.names, name)
	r.dropIfOrphanedLocked(addr)
}

func (r *Registry) dropIfOrphanedLocked(addr Address) {
	for _, a := range r.names {
		if a == addr {
			return
		}
	}
	delete(r.endpoints, addr)
}
