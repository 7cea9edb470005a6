package pagesession

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-session/auth"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
)

type entry struct {
	store    *auth.Store
	lastSeen atomic.Int64 // UnixNano of the last lookup
}

func (e *entry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

func (e *entry) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastSeen.Load()))
}

// InMemoryRepo is an in-memory implementation of Repo
type InMemoryRepo struct {
	mu            sync.RWMutex
	entries       map[string]*entry // sessionID -> entry
	newStore      func() *auth.Store
	clock         clockwork.Clock
	idleTTL       time.Duration
	onDelete      func(last sessions.Session)
	onCountChange func(n int)
}

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryOption defines a function type to modify the InMemoryRepo instance.
type InMemoryOption func(*InMemoryRepo)

// WithOnDelete registers a hook run for every store removed by Delete or
// Sweep, after the store has been closed. last is the store's final session.
func WithOnDelete(fn func(last sessions.Session)) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.onDelete = fn
	}
}

// WithOnCountChange registers a hook called with the new number of page
// sessions whenever it changes. It runs under the repo's write lock and must not call back into the repo.
func WithOnCountChange(fn func(n int)) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.onCountChange = fn
	}
}

// WithIdleTTL sets how long a page session may go without a lookup before
// Sweep removes it. Zero, the default, keeps page sessions until deleted.
func WithIdleTTL(ttl time.Duration) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.idleTTL = max(ttl, 0)
	}
}

// WithClock sets the clock idle time is measured on (primarily for testing)
func WithClock(clock clockwork.Clock) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.clock = clock
	}
}

// NewInMemoryRepo creates a registry that builds missing stores with newStore.
// A nil newStore falls back to auth.NewStore with default options.
func NewInMemoryRepo(newStore func() *auth.Store, options ...InMemoryOption) *InMemoryRepo {
	if newStore == nil {
		newStore = func() *auth.Store { return auth.NewStore() }
	}
	r := &InMemoryRepo{
		entries:  make(map[string]*entry),
		newStore: newStore,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *InMemoryRepo) GetOrCreate(sessionID string) (*auth.Store, bool, error) {
	if sessionID == "" {
		return nil, false, apperrors.ErrInvalidSessionID
	}

	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		e.touch(r.clock.Now())
		return e.store, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have created it between the locks
	if e, ok := r.entries[sessionID]; ok {
		e.touch(r.clock.Now())
		return e.store, false, nil
	}

	e = &entry{store: r.newStore()}
	e.touch(r.clock.Now())
	r.entries[sessionID] = e
	r.countChanged()
	return e.store, true, nil
}

func (r *InMemoryRepo) Get(sessionID string) (*auth.Store, error) {
	if sessionID == "" {
		return nil, apperrors.ErrInvalidSessionID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrSessionNotFound, "page session %s", sessionID)
	}
	e.touch(r.clock.Now())
	return e.store, nil
}

// Delete removes a page session. Unknown IDs are not an error.
func (r *InMemoryRepo) Delete(sessionID string) error {
	if sessionID == "" {
		return apperrors.ErrInvalidSessionID
	}

	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
		r.countChanged()
	}
	r.mu.Unlock()

	if ok {
		r.release(e.store)
	}
	return nil
}

func (r *InMemoryRepo) Sweep() int {
	if r.idleTTL == 0 {
		return 0
	}
	now := r.clock.Now()

	var evicted []*auth.Store
	r.mu.Lock()
	for id, e := range r.entries {
		if e.idleFor(now) >= r.idleTTL {
			delete(r.entries, id)
			evicted = append(evicted, e.store)
		}
	}
	if len(evicted) > 0 {
		r.countChanged()
	}
	r.mu.Unlock()

	for _, store := range evicted {
		r.release(store)
	}
	if len(evicted) > 0 {
		log.Debug().Int("evicted", len(evicted)).Msg("Swept idle page sessions")
	}
	return len(evicted)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *InMemoryRepo) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// countChanged must be called with mu held for writing.
func (r *InMemoryRepo) countChanged() {
	if r.onCountChange != nil {
		r.onCountChange(len(r.entries))
	}
}

func (r *InMemoryRepo) release(store *auth.Store) {
	last := store.Close()
	if r.onDelete != nil {
		r.onDelete(last)
	}
}
