package readiness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/identity"
)

// fakeProvider records subscriptions and serves a scripted session.
type fakeProvider struct {
	mu          sync.Mutex
	subscribers []identity.ChangeFunc
	subscribes  atomic.Int32
	fetches     atomic.Int32
	fetch       func(ctx context.Context) (*identity.Session, error)
}

func (p *fakeProvider) Subscribe(fn identity.ChangeFunc) func() {
	p.subscribes.Add(1)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	idx := len(p.subscribers) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.subscribers[idx] = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) FetchCurrentSession(ctx context.Context) (*identity.Session, error) {
	p.fetches.Add(1)
	if p.fetch == nil {
		return nil, nil
	}
	return p.fetch(ctx)
}

func (p *fakeProvider) emit(authenticated bool, principal *identity.Principal, sess *identity.Session) {
	p.mu.Lock()
	fns := append([]identity.ChangeFunc(nil), p.subscribers...)
	p.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(authenticated, principal, sess)
		}
	}
}

func validSession(id string) *identity.Session {
	return &identity.Session{
		Principal:  identity.Principal{ID: id},
		Credential: "token-" + id,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func principal(id string) *identity.Principal {
	return &identity.Principal{ID: id}
}

// waitAsync runs WaitUntilReady in a goroutine and returns its result channel
// once the waiter has registered.
func waitAsync(g *Gate, timeout time.Duration) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		out <- g.WaitUntilReady(context.Background(), timeout)
	}()
	// Give the goroutine time to arm its waiter set.
	time.Sleep(20 * time.Millisecond)
	return out
}

func TestGate_InitialStatusLoading(t *testing.T) {
	g := New(&fakeProvider{})
	assert.Equal(t, StatusLoading, g.Status())
	assert.Nil(t, g.Principal())
	assert.Nil(t, g.Session())
}

func TestGate_InitializeTwiceSubscribesOnce(t *testing.T) {
	p := &fakeProvider{}
	g := New(p)

	g.Initialize(context.Background())
	g.Initialize(context.Background())

	assert.Equal(t, int32(1), p.subscribes.Load())
	// The second call finds status past LOADING and skips the query.
	assert.Equal(t, int32(1), p.fetches.Load())
}

func TestGate_InitializeNoSessionSetsNotReady(t *testing.T) {
	g := New(&fakeProvider{})
	g.Initialize(context.Background())
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_InitializeWithSessionSetsReady(t *testing.T) {
	p := &fakeProvider{fetch: func(context.Context) (*identity.Session, error) {
		return validSession("u1"), nil
	}}
	g := New(p)
	g.Initialize(context.Background())

	assert.Equal(t, StatusReady, g.Status())
	require.NotNil(t, g.Principal())
	assert.Equal(t, "u1", g.Principal().ID)
}

func TestGate_InitializeProviderErrorFailsOpenToNotReady(t *testing.T) {
	p := &fakeProvider{fetch: func(context.Context) (*identity.Session, error) {
		return nil, errors.New("provider unreachable")
	}}
	g := New(p)
	g.Initialize(context.Background())
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_InitializeSkipsQueryAfterEvent(t *testing.T) {
	p := &fakeProvider{}
	g := New(p)
	g.UpdateState(true, principal("u1"), validSession("u1"))

	g.Initialize(context.Background())

	assert.Equal(t, int32(0), p.fetches.Load())
	assert.Equal(t, StatusReady, g.Status())
}

func TestGate_EventDuringReconciliationWins(t *testing.T) {
	p := &fakeProvider{}
	g := New(p)
	p.fetch = func(context.Context) (*identity.Session, error) {
		// Sign-in event lands while the query is in flight.
		p.emit(true, principal("u1"), validSession("u1"))
		return nil, nil
	}

	g.Initialize(context.Background())
	assert.Equal(t, StatusReady, g.Status())
}

func TestGate_ProviderEventsDriveStatus(t *testing.T) {
	p := &fakeProvider{}
	g := New(p)
	g.Initialize(context.Background())
	require.Equal(t, StatusNotReady, g.Status())

	p.emit(true, principal("u1"), validSession("u1"))
	assert.Equal(t, StatusReady, g.Status())

	p.emit(false, nil, nil)
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_UpdateStateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name          string
		authenticated bool
		principal     *identity.Principal
		session       *identity.Session
	}{
		{"not authenticated", false, principal("u1"), validSession("u1")},
		{"nil principal", true, nil, validSession("u1")},
		{"nil session", true, principal("u1"), nil},
		{"expired", true, principal("u1"), &identity.Session{Credential: "t", ExpiresAt: time.Now().Add(-time.Minute)}},
		{"inside margin", true, principal("u1"), &identity.Session{Credential: "t", ExpiresAt: time.Now().Add(30 * time.Second)}},
		{"no credential", true, principal("u1"), &identity.Session{ExpiresAt: time.Now().Add(time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeProvider{})
			g.UpdateState(tt.authenticated, tt.principal, tt.session)
			assert.Equal(t, StatusNotReady, g.Status())
			assert.Nil(t, g.Principal())
		})
	}
}

func TestGate_WaitReturnsImmediatelyWhenReady(t *testing.T) {
	g := New(&fakeProvider{})
	g.UpdateState(true, principal("u1"), validSession("u1"))

	start := time.Now()
	assert.True(t, g.WaitUntilReady(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGate_WaiterFromLoadingResolvesOnSignIn(t *testing.T) {
	g := New(&fakeProvider{})
	require.Equal(t, StatusLoading, g.Status())

	start := time.Now()
	result := waitAsync(g, 5*time.Second)

	time.Sleep(100 * time.Millisecond)
	g.UpdateState(true, principal("u1"), validSession("u1"))

	select {
	case ok := <-result:
		assert.True(t, ok)
		assert.Less(t, time.Since(start), 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not resolved by sign-in")
	}
}

func TestGate_WaitTimesOutWhenNeverReady(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	g := New(&fakeProvider{}, WithLogger(zap.New(core)))
	g.Initialize(context.Background())
	require.Equal(t, StatusNotReady, g.Status())

	start := time.Now()
	ok := g.WaitUntilReady(context.Background(), 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 190*time.Millisecond)
	assert.Equal(t, StatusNotReady, g.Status())
	assert.Zero(t, logs.Len(), "timeouts must not be logged as warnings or errors")
}

func TestGate_WaitCanceledByContext(t *testing.T) {
	g := New(&fakeProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, g.WaitUntilReady(ctx, time.Second))
}

func TestGate_NoLostWakeUpAcrossNotReadyUpdates(t *testing.T) {
	g := New(&fakeProvider{})
	g.UpdateState(false, nil, nil)

	result := waitAsync(g, 2*time.Second)

	// A repeated NOT_READY must not replace the pending set.
	g.UpdateState(false, nil, nil)
	g.UpdateState(true, principal("u1"), validSession("u1"))

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter lost its wake-up")
	}
}

func TestGate_WaiterFromLoadingSurvivesNotReady(t *testing.T) {
	g := New(&fakeProvider{})
	result := waitAsync(g, 2*time.Second)

	// LOADING -> NOT_READY keeps the pending set so a slow sign-in still counts.
	g.UpdateState(false, nil, nil)
	g.UpdateState(true, principal("u1"), validSession("u1"))

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter from LOADING was discarded")
	}
}

func TestGate_AllWaitersResolveTogether(t *testing.T) {
	g := New(&fakeProvider{})

	const n = 50
	var wg sync.WaitGroup
	var resolved atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.WaitUntilReady(context.Background(), 2*time.Second) {
				resolved.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)

	g.UpdateState(true, principal("u1"), validSession("u1"))
	wg.Wait()

	assert.Equal(t, int32(n), resolved.Load())
}

func TestGate_RepeatedReadyDoesNotDoubleResolve(t *testing.T) {
	g := New(&fakeProvider{})
	assert.NotPanics(t, func() {
		g.UpdateState(true, principal("u1"), validSession("u1"))
		g.UpdateState(true, principal("u1"), validSession("u1"))
		g.UpdateState(true, principal("u2"), validSession("u2"))
	})
	assert.Equal(t, "u2", g.Principal().ID)
}

func TestGate_LogoutRearmsForNextSignIn(t *testing.T) {
	g := New(&fakeProvider{})
	g.UpdateState(true, principal("u1"), validSession("u1"))
	require.True(t, g.WaitUntilReady(context.Background(), time.Second))

	g.UpdateState(false, nil, nil)
	assert.False(t, g.WaitUntilReady(context.Background(), 50*time.Millisecond),
		"a waiter after logout must not see the stale resolved set")

	result := waitAsync(g, 2*time.Second)
	g.UpdateState(true, principal("u1"), validSession("u1"))

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter after logout was not resolved by the next sign-in")
	}
}

func TestGate_RapidLogoutLoginCycles(t *testing.T) {
	g := New(&fakeProvider{})
	g.UpdateState(false, nil, nil)

	result := waitAsync(g, 2*time.Second)

	g.UpdateState(true, principal("u1"), validSession("u1"))
	g.UpdateState(false, nil, nil)
	g.UpdateState(true, principal("u1"), validSession("u1"))
	g.UpdateState(false, nil, nil)

	select {
	case ok := <-result:
		assert.True(t, ok, "the first READY resolves the earlier waiter")
	case <-time.After(time.Second):
		t.Fatal("waiter was not resolved")
	}

	assert.Equal(t, StatusNotReady, g.Status())
	assert.False(t, g.WaitUntilReady(context.Background(), 30*time.Millisecond))

	g.UpdateState(true, principal("u1"), validSession("u1"))
	assert.True(t, g.WaitUntilReady(context.Background(), 30*time.Millisecond))
}

func TestGate_OutcomeOfLastUpdateIsObserved(t *testing.T) {
	g := New(&fakeProvider{})
	sequence := []bool{true, false, false, true, true, false, true}

	for _, authenticated := range sequence {
		if authenticated {
			g.UpdateState(true, principal("u1"), validSession("u1"))
		} else {
			g.UpdateState(false, nil, nil)
		}
		got := g.WaitUntilReady(context.Background(), 20*time.Millisecond)
		assert.Equal(t, authenticated, got)
	}
}

func TestGate_RevalidatesSessionInsideMargin(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	p := &fakeProvider{}
	g := New(p, WithClock(clock))
	g.UpdateState(true, principal("u1"), &identity.Session{
		Principal:  identity.Principal{ID: "u1"},
		Credential: "old",
		ExpiresAt:  now.Add(5 * time.Minute),
	})
	require.Equal(t, StatusReady, g.Status())

	// Move into the lookahead margin; the provider has a refreshed session.
	now = now.Add(4*time.Minute + 30*time.Second)
	p.fetch = func(context.Context) (*identity.Session, error) {
		return &identity.Session{
			Principal:  identity.Principal{ID: "u1"},
			Credential: "new",
			ExpiresAt:  now.Add(time.Hour),
		}, nil
	}

	assert.True(t, g.WaitUntilReady(context.Background(), 50*time.Millisecond))
	assert.Equal(t, int32(1), p.fetches.Load())
	assert.Equal(t, "new", g.Session().Credential)
}

func TestGate_RevalidationWithoutSessionDropsToNotReady(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{}
	g := New(p, WithClock(func() time.Time { return now }))
	g.UpdateState(true, principal("u1"), &identity.Session{
		Principal:  identity.Principal{ID: "u1"},
		Credential: "old",
		ExpiresAt:  now.Add(5 * time.Minute),
	})

	now = now.Add(10 * time.Minute)

	assert.False(t, g.WaitUntilReady(context.Background(), 30*time.Millisecond))
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_SlowRevalidationRespectsTimeout(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{}
	g := New(p, WithClock(func() time.Time { return now }))
	g.UpdateState(true, principal("u1"), &identity.Session{
		Principal:  identity.Principal{ID: "u1"},
		Credential: "old",
		ExpiresAt:  now.Add(5 * time.Minute),
	})

	now = now.Add(4*time.Minute + 30*time.Second)
	release := make(chan struct{})
	defer close(release)
	p.fetch = func(context.Context) (*identity.Session, error) {
		<-release
		return validSession("u1"), nil
	}

	begin := time.Now()
	ready := g.WaitUntilReady(context.Background(), 100*time.Millisecond)
	took := time.Since(begin)

	assert.False(t, ready)
	assert.Less(t, took, time.Second, "stuck provider must not extend the wait")
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_RevalidationHonorsCallerContext(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{}
	g := New(p, WithClock(func() time.Time { return now }))
	g.UpdateState(true, principal("u1"), &identity.Session{
		Principal:  identity.Principal{ID: "u1"},
		Credential: "old",
		ExpiresAt:  now.Add(5 * time.Minute),
	})

	now = now.Add(4*time.Minute + 30*time.Second)
	release := make(chan struct{})
	defer close(release)
	p.fetch = func(context.Context) (*identity.Session, error) {
		<-release
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.False(t, g.WaitUntilReady(ctx, 5*time.Second))
	assert.Equal(t, StatusReady, g.Status(), "a canceled caller does not change the status")
}

func TestGate_SignInDuringRevalidationIsNotLost(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{}
	g := New(p, WithClock(func() time.Time { return now }))
	g.UpdateState(true, principal("u1"), &identity.Session{
		Principal:  identity.Principal{ID: "u1"},
		Credential: "old",
		ExpiresAt:  now.Add(5 * time.Minute),
	})

	now = now.Add(4*time.Minute + 30*time.Second)
	fetching := make(chan struct{})
	release := make(chan struct{})
	p.fetch = func(context.Context) (*identity.Session, error) {
		close(fetching)
		<-release
		return nil, nil
	}

	out := make(chan bool, 1)
	go func() {
		out <- g.WaitUntilReady(context.Background(), 2*time.Second)
	}()

	<-fetching
	g.UpdateState(false, nil, nil)
	g.UpdateState(true, principal("u2"), &identity.Session{
		Principal:  identity.Principal{ID: "u2"},
		Credential: "fresh",
		ExpiresAt:  now.Add(time.Hour),
	})
	// The stale "no session" answer arrives after the newer sign-in.
	close(release)

	select {
	case ready := <-out:
		assert.True(t, ready)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter did not return")
	}
	assert.Equal(t, StatusReady, g.Status())
	assert.Equal(t, "u2", g.Principal().ID)
}

func TestGate_WatchReceivesChanges(t *testing.T) {
	g := New(&fakeProvider{})

	var mu sync.Mutex
	var got []Status
	stop := g.Watch(func(s Status, p *identity.Principal) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	g.UpdateState(true, principal("u1"), validSession("u1"))
	g.UpdateState(true, principal("u1"), validSession("u1")) // unchanged
	g.UpdateState(false, nil, nil)
	stop()
	g.UpdateState(true, principal("u1"), validSession("u1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusReady, StatusNotReady}, got)
}

func TestGate_CloseUnsubscribes(t *testing.T) {
	p := &fakeProvider{}
	g := New(p)
	g.Initialize(context.Background())
	g.Close()

	p.emit(true, principal("u1"), validSession("u1"))
	assert.Equal(t, StatusNotReady, g.Status())
}

func TestGate_WorksWithIdentityManager(t *testing.T) {
	mgr := identity.NewManager([]byte("secret"))
	g := New(mgr)
	g.Initialize(context.Background())
	require.Equal(t, StatusNotReady, g.Status())

	result := waitAsync(g, 2*time.Second)
	_, err := mgr.SignIn("u1", "Dr. Sari")
	require.NoError(t, err)

	assert.True(t, <-result)
	assert.Equal(t, "u1", g.Principal().ID)

	mgr.SignOut()
	assert.Equal(t, StatusNotReady, g.Status())
}
