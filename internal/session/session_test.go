package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miciudad/miciudad/internal/securestore"
	"github.com/miciudad/miciudad/internal/session"
	"github.com/miciudad/miciudad/internal/users"
	_ "github.com/miciudad/miciudad/testing"
)

type recordingRepo struct {
	mu      sync.Mutex
	ops     []string
	saved   *users.User
	failErr error
	gate    chan struct{}
}

func (r *recordingRepo) SaveUser(ctx context.Context, u *users.User) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "save:"+u.ID)
	if r.failErr != nil {
		return r.failErr
	}
	r.saved = u
	return nil
}

func (r *recordingRepo) DeleteUser(ctx context.Context) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "delete")
	if r.failErr != nil {
		return r.failErr
	}
	r.saved = nil
	return nil
}

func (r *recordingRepo) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type countingRecorder struct {
	mu       sync.Mutex
	dispatch map[string]int
	persist  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dispatch: map[string]int{}, persist: map[string]int{}}
}

func (c *countingRecorder) ObserveDispatch(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch[kind]++
}

func (c *countingRecorder) ObservePersist(op, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist[op+"/"+status]++
}

type unknownAction struct{}

func (unknownAction) Kind() session.ActionKind { return "REFRESH_WEATHER" }

func ana() *users.User {
	return &users.User{ID: "1", Nombre: "Ana", Apellido: "Lopez", Email: "ana@x.com"}
}

func newStore(t *testing.T, repo session.UserRepository, opts ...session.Option) *session.Store {
	t.Helper()
	store := session.NewStore(repo, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = store.Close(ctx)
	})
	return store
}

func syncStore(t *testing.T, store *session.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, store.Sync(ctx))
}

func TestInitialState(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	state := store.State()
	assert.True(t, state.Equal(session.InitialState()))
	assert.False(t, state.SignedIn())
}

func TestSignInSetsPayloadAndPersists(t *testing.T) {
	repo := &recordingRepo{}
	store := newStore(t, repo)

	store.Dispatch(session.SignIn{User: ana(), Token: "tok", RefreshToken: "ref"})

	state := store.State()
	assert.Equal(t, ana(), state.User)
	assert.Equal(t, "tok", state.Token)
	assert.Equal(t, "ref", state.RefreshToken)
	assert.True(t, state.SignedIn())

	syncStore(t, store)
	assert.Equal(t, []string{"save:1"}, repo.snapshot())
	assert.Equal(t, ana(), repo.saved)
}

func TestSignOutIsIdempotent(t *testing.T) {
	repo := &recordingRepo{}
	store := newStore(t, repo)

	store.Dispatch(session.SignOut{})
	assert.True(t, store.State().Equal(session.InitialState()))

	store.Dispatch(session.SignIn{User: ana(), Token: "tok", RefreshToken: "ref"})
	store.Dispatch(session.SetLoading{Loading: true})
	store.Dispatch(session.SetAssetsLoading{Loading: true})
	store.Dispatch(session.SignOut{})
	assert.True(t, store.State().Equal(session.InitialState()))

	store.Dispatch(session.SignOut{})
	assert.True(t, store.State().Equal(session.InitialState()))

	syncStore(t, store)
	assert.Equal(t, []string{"delete", "save:1", "delete", "delete"}, repo.snapshot())
}

func TestUnrecognizedActionIsNoOp(t *testing.T) {
	repo := &recordingRepo{}
	store := newStore(t, repo)
	store.Dispatch(session.SignIn{User: ana(), Token: "tok", RefreshToken: "ref"})
	syncStore(t, store)
	before := store.State()

	notified := 0
	unsubscribe := store.Subscribe(func(session.State) { notified++ })
	defer unsubscribe()

	store.Dispatch(unknownAction{})
	store.Dispatch(session.Unrecognized{Type: "WHATEVER"})
	store.Dispatch(nil)

	assert.True(t, before.Equal(store.State()))
	assert.Zero(t, notified)
	syncStore(t, store)
	assert.Equal(t, []string{"save:1"}, repo.snapshot())
}

func TestScalarActions(t *testing.T) {
	store := newStore(t, &recordingRepo{})

	store.Dispatch(session.SetToken{Token: "abc"})
	store.Dispatch(session.SetLoading{Loading: true})
	store.Dispatch(session.SetAssetsLoading{Loading: true})

	state := store.State()
	assert.Equal(t, "abc", state.Token)
	assert.True(t, state.Loading)
	assert.True(t, state.AssetsLoading)
	assert.False(t, state.SignedIn(), "a token alone does not sign in")
}

func TestPointerActionsAreAccepted(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	store.Dispatch(&session.SetUser{User: ana()})
	assert.True(t, store.State().SignedIn())
	store.Dispatch(&session.SignOut{})
	assert.False(t, store.State().SignedIn())
}

func TestSetUserDoesNotPersistByDefault(t *testing.T) {
	repo := &recordingRepo{}
	store := newStore(t, repo)

	store.Dispatch(session.SetUser{User: ana()})
	assert.Equal(t, ana(), store.State().User)

	syncStore(t, store)
	assert.Empty(t, repo.snapshot())
}

func TestSetUserPersistsWhenEnabled(t *testing.T) {
	repo := &recordingRepo{}
	store := newStore(t, repo, session.WithPersistOnSetUser(true))

	store.Dispatch(session.SetUser{User: ana()})
	store.Dispatch(session.SetUser{User: nil})

	syncStore(t, store)
	assert.Equal(t, []string{"save:1", "delete"}, repo.snapshot())
}

func TestSignedInMatchesUserPresence(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	actions := []session.Action{
		session.SetToken{Token: "t"},
		session.SetUser{User: ana()},
		session.SetLoading{Loading: true},
		session.SignOut{},
		session.SignIn{User: ana(), Token: "t", RefreshToken: "r"},
		session.SetUser{User: nil},
		unknownAction{},
	}
	for _, a := range actions {
		store.Dispatch(a)
		state := store.State()
		assert.Equal(t, state.User != nil, state.SignedIn(), "after %s", a.Kind())
	}
}

func TestStateSnapshotsAreIsolated(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	u := ana()
	store.Dispatch(session.SetUser{User: u})

	u.Nombre = "mutated by caller"
	snap := store.State()
	assert.Equal(t, "Ana", snap.User.Nombre)

	snap.User.Nombre = "mutated snapshot"
	assert.Equal(t, "Ana", store.State().User.Nombre)
}

func TestDispatchDoesNotWaitForStorage(t *testing.T) {
	repo := &recordingRepo{gate: make(chan struct{})}
	store := newStore(t, repo)

	done := make(chan struct{})
	go func() {
		store.Dispatch(session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on storage")
	}
	assert.True(t, store.State().SignedIn())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, store.Sync(ctx), context.DeadlineExceeded)

	close(repo.gate)
	syncStore(t, store)
	assert.Equal(t, []string{"save:1"}, repo.snapshot())
}

func TestPersistenceFailureIsReportedNotReturned(t *testing.T) {
	repo := &recordingRepo{failErr: errors.New("disk full")}
	recorder := newCountingRecorder()
	var mu sync.Mutex
	var failures []string
	store := newStore(t, repo,
		session.WithRecorder(recorder),
		session.WithErrorHandler(func(op string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, op+": "+err.Error())
		}),
	)

	store.Dispatch(session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})
	assert.True(t, store.State().SignedIn())
	syncStore(t, store)

	mu.Lock()
	assert.Equal(t, []string{"save: disk full"}, failures)
	mu.Unlock()
	recorder.mu.Lock()
	assert.Equal(t, 1, recorder.persist["save/failure"])
	assert.Equal(t, 1, recorder.dispatch["SIGN_IN"])
	recorder.mu.Unlock()
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	var seen []bool
	unsubscribe := store.Subscribe(func(s session.State) { seen = append(seen, s.SignedIn()) })

	store.Dispatch(session.SetUser{User: ana()})
	store.Dispatch(session.SetUser{User: ana()}) // unchanged, no notification
	store.Dispatch(session.SignOut{})
	unsubscribe()
	unsubscribe()
	store.Dispatch(session.SetUser{User: ana()})

	assert.Equal(t, []bool{true, false}, seen)
}

func TestListenerMayDispatch(t *testing.T) {
	store := newStore(t, &recordingRepo{})
	store.Subscribe(func(s session.State) {
		if s.SignedIn() && !s.Loading {
			store.Dispatch(session.SetLoading{Loading: true})
		}
	})
	store.Dispatch(session.SetUser{User: ana()})
	assert.True(t, store.State().Loading)
}

func TestConcurrentDispatchKeepsPersistenceOrder(t *testing.T) {
	kv := securestore.NewMemory()
	repo := users.NewRepository(kv)
	store := newStore(t, repo)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				store.Dispatch(session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})
			} else {
				store.Dispatch(session.SignOut{})
			}
		}(i)
	}
	wg.Wait()
	store.Dispatch(session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})
	syncStore(t, store)

	stored, err := repo.LoadUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ana(), stored, "the last transition wins in storage")
}

func TestCloseDrainsAndDropsLater(t *testing.T) {
	repo := &recordingRepo{}
	store := session.NewStore(repo)
	store.Dispatch(session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, store.Close(ctx))
	assert.Equal(t, []string{"save:1"}, repo.snapshot())

	store.Dispatch(session.SignOut{})
	assert.False(t, store.State().SignedIn())
	require.NoError(t, store.Sync(ctx))
	require.NoError(t, store.Close(ctx))
	assert.Equal(t, []string{"save:1"}, repo.snapshot())
}

func TestDecodeAction(t *testing.T) {
	a, err := session.DecodeAction("SIGN_IN", json.RawMessage(`{"user":{"id":"1","nombre":"Ana","apellido":"Lopez","email":"ana@x.com"},"token":"t","refreshToken":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, session.SignIn{User: ana(), Token: "t", RefreshToken: "r"}, a)

	a, err = session.DecodeAction("login", json.RawMessage(`{"user":{"id":"1","nombre":"Ana","apellido":"Lopez","email":"ana@x.com"},"token":"t","refreshToken":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, session.KindSignIn, a.Kind())

	a, err = session.DecodeAction("LOGOUT", nil)
	require.NoError(t, err)
	assert.Equal(t, session.SignOut{}, a)

	a, err = session.DecodeAction("SET_LOADING", json.RawMessage(`{"loading":true}`))
	require.NoError(t, err)
	assert.Equal(t, session.SetLoading{Loading: true}, a)

	a, err = session.DecodeAction("SET_ASSETS_LOADING", json.RawMessage(`{"loading":false}`))
	require.NoError(t, err)
	assert.Equal(t, session.SetAssetsLoading{Loading: false}, a)

	a, err = session.DecodeAction("SET_TOKEN", json.RawMessage(`{"token":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, session.SetToken{Token: "x"}, a)

	a, err = session.DecodeAction("PLAY_RADIO", json.RawMessage(`{"station":"FM 99"}`))
	require.NoError(t, err)
	assert.Equal(t, session.Unrecognized{Type: "PLAY_RADIO"}, a)
}

func TestDecodeActionRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]struct {
		kind    string
		payload string
	}{
		"sign in without payload":   {"SIGN_IN", ""},
		"sign in without tokens":    {"SIGN_IN", `{"user":{"id":"1","nombre":"Ana","apellido":"Lopez","email":"ana@x.com"}}`},
		"sign in with partial user": {"SIGN_IN", `{"user":{"id":"1"},"token":"t","refreshToken":"r"}`},
		"set user null":             {"SET_USER", `null`},
		"set user bad json":         {"SET_USER", `{"user":`},
		"set token missing":         {"SET_TOKEN", `{}`},
		"set loading missing flag":  {"SET_LOADING", `{}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := session.DecodeAction(tc.kind, json.RawMessage(tc.payload))
			require.ErrorIs(t, err, session.ErrInvalidPayload)
		})
	}
}

func TestSetTokenCanClearToken(t *testing.T) {
	a, err := session.DecodeAction("SET_TOKEN", json.RawMessage(`{"token":""}`))
	require.NoError(t, err)
	require.NoError(t, session.Validate(a))

	st := session.Reduce(session.State{Token: "abc"}, a)
	assert.Empty(t, st.Token)
}

func TestValidate(t *testing.T) {
	require.NoError(t, session.Validate(session.SignOut{}))
	require.NoError(t, session.Validate(unknownAction{}))
	require.ErrorIs(t, session.Validate(nil), session.ErrInvalidPayload)
	require.ErrorIs(t, session.Validate(&session.SetUser{}), session.ErrInvalidPayload)
}

func TestReduceIsPure(t *testing.T) {
	start := session.InitialState()
	next := session.Reduce(start, session.SignIn{User: ana(), Token: "t", RefreshToken: "r"})
	assert.True(t, start.Equal(session.InitialState()))
	assert.True(t, next.SignedIn())
}

func TestDispatchMetricCollapsesUnrecognizedKinds(t *testing.T) {
	recorder := newCountingRecorder()
	store := session.NewStore(&recordingRepo{}, session.WithRecorder(recorder))
	defer func() { _ = store.Close(context.Background()) }()

	for i := 0; i < 50; i++ {
		store.Dispatch(session.Unrecognized{Type: fmt.Sprintf("JUNK_%d", i)})
	}
	store.Dispatch(unknownAction{})
	store.Dispatch(nil)
	store.Dispatch(session.SetLoading{Loading: true})

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, map[string]int{session.UnrecognizedKind: 52, "SET_LOADING": 1}, recorder.dispatch)
}
