package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miciudad/miciudad/internal/users"
)

// UserRepository is the durable storage collaborator for the user record.
type UserRepository interface {
	SaveUser(ctx context.Context, u *users.User) error
	DeleteUser(ctx context.Context) error
}

// Recorder receives store instrumentation. observability.Metrics implements it.
type Recorder interface {
	ObserveDispatch(kind string)
	ObservePersist(op, status string)
}

// Store holds the single process-wide Session State.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners map[uint64]func(State)
	nextID    uint64

	persister        *persister
	logger           *slog.Logger
	recorder         Recorder
	persistOnSetUser bool
}

// Option customises a Store.
type Option func(*storeConfig)

type storeConfig struct {
	logger           *slog.Logger
	recorder         Recorder
	persistOnSetUser bool
	persistTimeout   time.Duration
	onError          func(op string, err error)
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) { c.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *storeConfig) { c.recorder = r }
}

// WithPersistOnSetUser makes SetUser persist the user like SignIn does.
func WithPersistOnSetUser(enabled bool) Option {
	return func(c *storeConfig) { c.persistOnSetUser = enabled }
}

// WithPersistTimeout bounds each storage write or delete.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *storeConfig) { c.persistTimeout = d }
}

// WithErrorHandler is called after a persistence failure has been logged.
func WithErrorHandler(fn func(op string, err error)) Option {
	return func(c *storeConfig) { c.onError = fn }
}

// NewStore constructs a Store in the initial state and starts its persister.
func NewStore(repo UserRepository, opts ...Option) *Store {
	cfg := storeConfig{persistTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	s := &Store{
		state:            InitialState(),
		listeners:        make(map[uint64]func(State)),
		logger:           cfg.logger,
		recorder:         cfg.recorder,
		persistOnSetUser: cfg.persistOnSetUser,
	}
	s.persister = newPersister(repo, cfg)
	go s.persister.run()
	return s
}

// State returns a snapshot of the current session.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Dispatch applies a synchronously. Its persistence side effect is queued in
// transition order and never awaited. Subscribers are notified when the
// state changed.
func (s *Store) Dispatch(a Action) {
	a = normalize(a)

	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	if eff, ok := s.effectFor(a, next); ok {
		s.persister.enqueue(eff)
	}
	changed := !prev.Equal(next)
	var listeners []func(State)
	if changed {
		listeners = make([]func(State), 0, len(s.listeners))
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveDispatch(metricKind(a))
	}
	for _, l := range listeners {
		l(next.Clone())
	}
}

// Subscribe registers fn for state changes. Listeners run on the dispatching
// goroutine and may dispatch themselves.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Sync blocks until every queued persistence effect has been applied.
func (s *Store) Sync(ctx context.Context) error {
	return s.persister.sync(ctx)
}

// Close drains pending persistence effects and stops the persister. Later
// dispatches still update state but no longer reach storage.
func (s *Store) Close(ctx context.Context) error {
	return s.persister.close(ctx)
}

// UnrecognizedKind is the dispatch metric label for every action the reducer ignores.
const UnrecognizedKind = "unrecognized"

func metricKind(a Action) string {
	switch a.(type) {
	case SignIn, SignOut, SetUser, SetToken, SetLoading, SetAssetsLoading:
		return string(a.Kind())
	default:
		return UnrecognizedKind
	}
}

func (s *Store) effectFor(a Action, next State) (effect, bool) {
	switch a.(type) {
	case SignIn:
		return effect{op: opSave, user: next.User.Clone()}, true
	case SignOut:
		return effect{op: opDelete}, true
	case SetUser:
		if !s.persistOnSetUser {
			return effect{}, false
		}
		if next.User == nil {
			return effect{op: opDelete}, true
		}
		return effect{op: opSave, user: next.User.Clone()}, true
	default:
		return effect{}, false
	}
}
