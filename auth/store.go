package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
)

// Simulated round trip times of the mock login and logout calls.
const (
	DefaultLoginDelay  = 1000 * time.Millisecond
	DefaultLogoutDelay = 500 * time.Millisecond
)

// Observer is called with the new session after every change to a store.
type Observer func(session sessions.Session)

// Recorder receives operation timings and state transitions from a store.
type Recorder interface {
	RecordLogin(elapsed time.Duration)
	RecordLogout(elapsed time.Duration)
	RecordSessionChange(previous, current sessions.Session)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(time.Duration) {}

func (nopRecorder) RecordLogout(time.Duration) {}

func (nopRecorder) RecordSessionChange(sessions.Session, sessions.Session) {}

// Store holds the login state of one page session and the two mock
// operations that change it.
//
// Login and Logout block the calling goroutine for a fixed delay and then
// overwrite the state. Overlapping calls are not ordered: whichever delay
// expires last decides the final state. A pending call cannot be cancelled.
type Store struct {
	mu            sync.RWMutex
	user          *users.User
	authenticated bool

	// notifyMu keeps observer notifications in the same order as the writes.
	// It also guards closed.
	notifyMu  sync.Mutex
	observers map[string]Observer
	obsMu     sync.RWMutex
	closed    bool
	done      chan struct{}

	clock       clockwork.Clock
	loginDelay  time.Duration
	logoutDelay time.Duration
	logger      zerolog.Logger
	recorder    Recorder
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithClock sets the clock the delays are measured on (primarily for testing)
func WithClock(clock clockwork.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLoginDelay overrides DefaultLoginDelay. Negative values are treated as zero.
func WithLoginDelay(d time.Duration) StoreOption {
	return func(s *Store) {
		s.loginDelay = max(d, 0)
	}
}

// WithLogoutDelay overrides DefaultLogoutDelay. Negative values are treated as zero.
func WithLogoutDelay(d time.Duration) StoreOption {
	return func(s *Store) {
		s.logoutDelay = max(d, 0)
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithRecorder(recorder Recorder) StoreOption {
	return func(s *Store) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// NewStore returns a logged out store.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		observers:   make(map[string]Observer),
		done:        make(chan struct{}),
		clock:       clockwork.NewRealClock(),
		loginDelay:  DefaultLoginDelay,
		logoutDelay: DefaultLogoutDelay,
		logger:      zerolog.Nop(),
		recorder:    nopRecorder{},
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Login waits for the login delay and then marks the store as authenticated
// with the mock user for email. It always succeeds; the password is ignored.
func (s *Store) Login(email, password string) {
	start := s.clock.Now()
	<-s.clock.After(s.loginDelay)

	s.apply(sessions.LoggedIn(users.Mock(email)))
	s.recorder.RecordLogin(s.clock.Since(start))
	s.logger.Debug().Str("email", email).Msg("mock login complete")
}

// Logout waits for the logout delay and then clears the user.
// It always succeeds and is a no-op on an already logged out store.
func (s *Store) Logout() {
	start := s.clock.Now()
	<-s.clock.After(s.logoutDelay)

	s.apply(sessions.LoggedOut())
	s.recorder.RecordLogout(s.clock.Since(start))
	s.logger.Debug().Msg("mock logout complete")
}

// LoginAsync runs Login on its own goroutine. The returned channel is closed once it has completed.
func (s *Store) LoginAsync(email, password string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Login(email, password)
	}()
	return done
}

// LogoutAsync runs Logout on its own goroutine. The returned channel is closed once it has completed.
func (s *Store) LogoutAsync() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Logout()
	}()
	return done
}

// Reset puts the store straight back into the logged out state without any delay.
func (s *Store) Reset() {
	s.apply(sessions.LoggedOut())
}

// User returns a copy of the logged in user, or nil.
func (s *Store) User() *users.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	return utils.Ptr(*s.user)
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Session returns both fields read under one lock.
func (s *Store) Session() sessions.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Subscribe registers fn to be called after every change. Observers run
// synchronously on the goroutine that made the change and must not call
// Login, Logout or Reset on the same store from inside the callback.
// The returned function removes the observer and may be called more than once.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	id := uuid.New().String()

	s.obsMu.Lock()
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Close detaches a discarded store. Changes made after Close, such as a
// login that was already waiting, still update the state but are no longer
// recorded or passed to observers. Close returns the session as it was when
// the store was detached and may be called more than once.
func (s *Store) Close() sessions.Session {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return s.Session()
}

// Done is closed by Close.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) apply(next sessions.Session) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	previous := s.snapshot()
	s.user = next.User
	s.authenticated = next.IsAuthenticated
	current := s.snapshot()
	s.mu.Unlock()

	if s.closed {
		return
	}

	s.recorder.RecordSessionChange(previous, current)

	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(current.Clone())
	}
}

// snapshot must be called with mu held.
func (s *Store) snapshot() sessions.Session {
	return sessions.Session{User: s.user, IsAuthenticated: s.authenticated}.Clone()
}
