// Package gate decides which root navigation subtree is mounted and recovers
// the stored session once at start-up.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miciudad/miciudad/internal/session"
	"github.com/miciudad/miciudad/internal/users"
)

// ErrNotStarted is returned by Dispatch before Start has been called.
var ErrNotStarted = errors.New("gate: not started")

// UserLoader reads the previously persisted user; nil, nil means none.
type UserLoader interface {
	LoadUser(ctx context.Context) (*users.User, error)
}

// Splash is the bootstrap collaborator hidden once start-up settles.
type Splash interface {
	Hide()
}

// SplashFunc adapts a function to Splash.
type SplashFunc func()

// Hide calls f.
func (f SplashFunc) Hide() { f() }

// Navigator mounts a root subtree. It must not dispatch synchronously.
type Navigator interface {
	Mount(sel Selection)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Selection)

// Mount calls f.
func (f NavigatorFunc) Mount(sel Selection) { f(sel) }

// Recorder receives mount instrumentation.
type Recorder interface {
	ObserveMount(root string)
}

// Option customises a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithNavigator sets the navigator notified of every mount.
func WithNavigator(n Navigator) Option {
	return func(g *Gate) { g.navigator = n }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithRestoreTimeout bounds the start-up storage query. Zero waits indefinitely.
func WithRestoreTimeout(d time.Duration) Option {
	return func(g *Gate) { g.restoreTimeout = d }
}

// Gate keeps the mounted subtree consistent with the session store.
type Gate struct {
	store          *session.Store
	loader         UserLoader
	splash         Splash
	navigator      Navigator
	recorder       Recorder
	logger         *slog.Logger
	restoreTimeout time.Duration

	startOnce   sync.Once
	splashOnce  sync.Once
	ready       chan struct{}
	unsubscribe func()

	mountMu sync.Mutex

	mu         sync.RWMutex
	started    bool
	selection  Selection
	mounts     int
	restoreErr error
}

// New constructs a Gate. Until Start, the selection is the signed-out subtree.
func New(store *session.Store, loader UserLoader, splash Splash, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		loader:    loader,
		splash:    splash,
		ready:     make(chan struct{}),
		selection: Select(false),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Start mounts the initial subtree and launches session restoration. Only the
// first call has an effect; it does not wait for storage.
func (g *Gate) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.mu.Lock()
		g.started = true
		g.mu.Unlock()

		unsubscribe := g.store.Subscribe(func(session.State) { g.remount(false) })
		g.mu.Lock()
		g.unsubscribe = unsubscribe
		g.mu.Unlock()
		g.remount(true)
		go g.restore(ctx)
	})
}

// Stop detaches the gate from the store.
func (g *Gate) Stop() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Ready is closed once start-up restoration has settled.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// Restored reports whether start-up restoration has settled.
func (g *Gate) Restored() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// RestoreErr returns the error of the start-up storage query, if any.
func (g *Gate) RestoreErr() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.restoreErr
}

// Selection returns the currently mounted subtree.
func (g *Gate) Selection() Selection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selection
}

// Mounts reports how many subtree mounts happened since Start.
func (g *Gate) Mounts() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mounts
}

// Dispatch is the interactive entry point into the store. It validates the
// action and holds it until start-up restoration has settled, so a stale
// restore can never overwrite a manual sign-in.
func (g *Gate) Dispatch(ctx context.Context, a session.Action) error {
	g.mu.RLock()
	started := g.started
	g.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if err := session.Validate(a); err != nil {
		return err
	}
	select {
	case <-g.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.store.Dispatch(a)
	return nil
}

func (g *Gate) restore(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("mount after session restore panicked", slog.Any("panic", r))
		}
		g.splashOnce.Do(func() {
			if g.splash != nil {
				g.splash.Hide()
			}
		})
		close(g.ready)
	}()

	if g.loader == nil {
		return
	}
	if g.restoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.restoreTimeout)
		defer cancel()
	}

	user, err := g.load(ctx)
	if err != nil {
		g.fail(fmt.Errorf("gate: load stored user: %w", err))
		return
	}
	if user == nil {
		g.logger.Info("no stored session")
		return
	}
	g.store.Dispatch(session.SetUser{User: user})
	g.logger.Info("session restored", slog.String("user_id", user.ID))
}

// load runs the loader, turning a panic into an error.
func (g *Gate) load(ctx context.Context) (user *users.User, err error) {
	defer func() {
		if r := recover(); r != nil {
			user, err = nil, fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return g.loader.LoadUser(ctx)
}

func (g *Gate) fail(err error) {
	g.mu.Lock()
	g.restoreErr = err
	g.mu.Unlock()
	g.logger.Warn("session restore failed, staying signed out", slog.Any("error", err))
}

// remount re-derives the selection from the store and mounts the other
// subtree when the branch flipped. force mounts even without a flip.
func (g *Gate) remount(force bool) {
	g.mountMu.Lock()
	defer g.mountMu.Unlock()

	signedIn := g.store.State().SignedIn()
	g.mu.Lock()
	if !force && g.selection.SignedIn == signedIn {
		g.mu.Unlock()
		return
	}
	sel := Select(signedIn)
	g.selection = sel
	g.mounts++
	g.mu.Unlock()

	if g.navigator != nil {
		g.navigator.Mount(sel)
	}
	if g.recorder != nil {
		g.recorder.ObserveMount(string(sel.Root))
	}
	g.logger.Debug("mounted subtree", slog.String("root", string(sel.Root)), slog.String("entry", sel.Entry))
}
