package callback

import (
	"sort"
	"sync"
	"time"
)

// Registry is a concurrency-safe map from Key to Handler plus the set of
// pending requests. Lookups never observe a batch half-applied.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Key]Handler
	pending  map[int64]*Pending
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[Key]Handler),
		pending:  make(map[int64]*Pending),
	}
}

// Register binds h to key, replacing any existing binding.
// A nil handler removes the binding.
func (r *Registry) Register(key Key, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(key, h)
}

// RegisterBatch applies all bindings under a single write lock.
func (r *Registry) RegisterBatch(batch map[Key]Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, h := range batch {
		r.set(key, h)
	}
}

func (r *Registry) set(key Key, h Handler) {
	if h == nil {
		delete(r.bindings, key)
		return
	}
	r.bindings[key] = h
}

// Unregister removes the binding for key.
func (r *Registry) Unregister(key Key) {
	r.mu.Lock()
	delete(r.bindings, key)
	r.mu.Unlock()
}

// Lookup returns the handler for key. For request keys a tracked pending
// request takes precedence over a plain binding.
func (r *Registry) Lookup(key Key) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if key.IsRequest() {
		if p, ok := r.pending[key.ReqID]; ok {
			return p.Handler, true
		}
	}
	h, ok := r.bindings[key]
	return h, ok
}

// Len returns the number of key bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Track records a pending request for id. A later Track for the same id
// replaces the earlier one.
func (r *Registry) Track(id int64, h Handler) *Pending {
	p := &Pending{
		ID:       id,
		Handler:  h,
		IssuedAt: time.Now(),
	}

	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()

	return p
}

// Complete removes the pending request for id.
func (r *Registry) Complete(id int64) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

// PendingCount returns the number of in-flight requests.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// InvalidateAll removes every pending request and returns them ordered by
// id, so the caller can notify each handler of termination.
func (r *Registry) InvalidateAll() []*Pending {
	r.mu.Lock()
	out := make([]*Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	r.pending = make(map[int64]*Pending)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
