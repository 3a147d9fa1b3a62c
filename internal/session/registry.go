package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already connected")
	ErrTooManySessions = errors.New("too many active sessions")
)

// Registry indexes actors by session id. It holds no session state of its
// own; closed actors are kept for a while so their reports stay reachable.
type Registry struct {
	cfg  Config
	deps Deps

	maxSessions int
	retain      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	live    map[string]*Actor
	retired map[string]*Actor
	order   []string
}

// NewRegistry creates a registry. maxSessions <= 0 means unlimited; retain is
// how many closed sessions stay queryable.
func NewRegistry(cfg Config, deps Deps, maxSessions, retain int) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:         cfg,
		deps:        deps,
		maxSessions: maxSessions,
		retain:      retain,
		ctx:         ctx,
		cancel:      cancel,
		live:        make(map[string]*Actor),
		retired:     make(map[string]*Actor),
	}
}

// Open starts an actor for a new connection. An empty id gets a fresh uuid.
func (r *Registry) Open(id string, sink Sink) (*Actor, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, ok := r.live[id]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	if r.maxSessions > 0 && len(r.live) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	a := NewActor(id, sink, r.cfg, r.deps)
	r.live[id] = a
	r.forget(id)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.Run(r.ctx)
		r.retire(a)
	}()
	return a, nil
}

func (r *Registry) retire(a *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live[a.id] == a {
		delete(r.live, a.id)
	}
	if r.retain <= 0 {
		return
	}
	r.forget(a.id)
	r.retired[a.id] = a
	r.order = append(r.order, a.id)
	for len(r.order) > r.retain {
		delete(r.retired, r.order[0])
		r.order = r.order[1:]
	}
}

// forget drops id from the retained set. Callers hold mu.
func (r *Registry) forget(id string) {
	if _, ok := r.retired[id]; !ok {
		return
	}
	delete(r.retired, id)
	r.order = slices.DeleteFunc(r.order, func(o string) bool { return o == id })
}

// Get returns the live actor for id, or the retired one if the session has
// already closed.
func (r *Registry) Get(id string) (*Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.live[id]; ok {
		return a, nil
	}
	if a, ok := r.retired[id]; ok {
		return a, nil
	}
	return nil, ErrSessionNotFound
}

// Active is the number of live sessions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Shutdown disconnects every live session and waits for the actors to finish
// their report handoff, or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	actors := make([]*Actor, 0, len(r.live))
	for _, a := range r.live {
		actors = append(actors, a)
	}
	r.mu.RUnlock()

	for _, a := range actors {
		a.Disconnect()
	}

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
