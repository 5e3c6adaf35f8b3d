package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-service/pkg/logkey"
)

var ErrCheckoutNotFound = errors.New("checkout not found")

// Owner binds a checkout to the login session it runs under.
type Owner interface {
	SessionID() string
	Attach(sessionID string)
	// Active reports whether the bound login session still exists.
	Active(ctx context.Context) bool
}

// Factory builds the collaborators of a new checkout. sessionID is the login session of the
// caller, empty when anonymous.
type Factory func(checkoutID, sessionID string) (Deps, Owner)

type Entry struct {
	*Session
	Owner Owner
}

// Accessible reports whether a caller with the given login session may drive the checkout.
// A checkout that is unbound, or bound to a session that is gone, is open to anyone holding its id.
func (e *Entry) Accessible(ctx context.Context, sessionID string) bool {
	owner := e.Owner.SessionID()
	return owner == "" || owner == sessionID || !e.Owner.Active(ctx)
}

// Adopt binds the checkout to sessionID. Orders cached under a previous login are dropped.
func (e *Entry) Adopt(sessionID string) {
	if prev := e.Owner.SessionID(); prev != "" && prev != sessionID {
		e.ClearOrders()
	}
	e.Owner.Attach(sessionID)
}

// Registry keeps the live checkouts of this process and drops the idle ones.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry(factory Factory, idleTTL time.Duration) *Registry {
	return &Registry{
		factory: factory,
		idleTTL: idleTTL,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

func (r *Registry) Create(cart CartLine, sessionID string) *Entry {
	id := uuid.NewString()
	deps, owner := r.factory(id, sessionID)
	e := &Entry{Session: NewSession(id, cart, deps), Owner: owner}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return e
}

func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return e, nil
}

// Delete abandons the checkout, cancelling any order it still holds.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrCheckoutNotFound
	}
	e.Close(ctx)
	return nil
}

// ClearOwner forgets the cached orders of every checkout bound to sessionID and unbinds them, so
// the next login can pick them up.
func (r *Registry) ClearOwner(sessionID string) {
	if sessionID == "" {
		return
	}
	for _, e := range r.list() {
		if e.Owner.SessionID() == sessionID {
			e.ClearOrders()
			e.Owner.Attach("")
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes checkouts idle for longer than the idle TTL and returns how many it removed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTTL)
	var stale []*Entry

	for _, e := range r.list() {
		if !e.LastTouched().Before(cutoff) {
			continue
		}
		r.mu.Lock()
		if r.entries[e.ID()] == e {
			delete(r.entries, e.ID())
			stale = append(stale, e)
		}
		r.mu.Unlock()
	}

	for _, e := range stale {
		e.Close(ctx)
		slog.Debug("idle checkout dropped", slog.String(logkey.CheckoutID, e.ID()))
	}
	return len(stale)
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(ctx); n > 0 {
				slog.Info("idle checkouts swept", slog.Int("count", n))
			}
		}
	}
}

func (r *Registry) list() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
