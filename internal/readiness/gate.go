// Package readiness tracks whether the identity provider has reached an
// authenticated state and lets any number of callers wait for it.
//
// The Gate is a re-armable broadcast latch. One status flag and one pending
// waiter set live under a mutex; the waiter set is a channel closed exactly
// once when the status becomes READY, after which a fresh set is armed so a
// later sign-out and sign-in cycle can be observed again.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/identity"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/telemetry"
)

// Status is the tri-state readiness of the identity provider.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusReady    Status = "ready"
	StatusNotReady Status = "not_ready"
)

// Provider is the external identity provider consumed by the Gate.
type Provider interface {
	Subscribe(fn identity.ChangeFunc) (unsubscribe func())
	FetchCurrentSession(ctx context.Context) (*identity.Session, error)
}

// StatusFunc receives status changes registered through Watch.
type StatusFunc func(status Status, principal *identity.Principal)

// waiterSet is one generation of callers blocked in WaitUntilReady.
type waiterSet struct {
	done     chan struct{}
	resolved bool
}

func newWaiterSet() *waiterSet {
	return &waiterSet{done: make(chan struct{})}
}

// resolve releases every waiter of the set. Calling it twice is a no-op.
func (ws *waiterSet) resolve() {
	if ws.resolved {
		return
	}
	ws.resolved = true
	close(ws.done)
}

// Gate is the readiness latch. Construct one per process with New and pass
// it to everything that needs to wait for authentication.
type Gate struct {
	provider Provider
	logger   *zap.Logger
	metrics  *telemetry.ReadinessMetrics
	margin   time.Duration
	now      func() time.Time

	subscribeOnce sync.Once
	unsubscribe   func()

	mu        sync.Mutex
	status    Status
	principal *identity.Principal
	session   *identity.Session
	waiters   *waiterSet
	version   uint64 // bumped on every applied update

	watchMu  sync.RWMutex
	watchers map[string]StatusFunc
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.ReadinessMetrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithValidityMargin overrides the credential lookahead margin.
func WithValidityMargin(margin time.Duration) Option {
	return func(g *Gate) {
		if margin >= 0 {
			g.margin = margin
		}
	}
}

// WithClock overrides the time source used for credential checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Gate in the LOADING state.
func New(provider Provider, opts ...Option) *Gate {
	g := &Gate{
		provider: provider,
		logger:   zap.NewNop(),
		margin:   identity.ValidityMargin,
		now:      time.Now,
		status:   StatusLoading,
		watchers: make(map[string]StatusFunc),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize subscribes to provider events (once per Gate) and performs one
// eager reconciliation query. It does nothing further when an event has
// already moved the status past LOADING. Provider failures are treated as
// "no session".
func (g *Gate) Initialize(ctx context.Context) {
	g.subscribeOnce.Do(func() {
		unsubscribe := g.provider.Subscribe(g.UpdateState)
		g.mu.Lock()
		g.unsubscribe = unsubscribe
		g.mu.Unlock()
	})

	if g.Status() != StatusLoading {
		return
	}

	sess, err := g.provider.FetchCurrentSession(ctx)
	if err != nil {
		g.logger.Debug("identity provider unavailable during reconciliation", zap.Error(err))
		sess = nil
	}

	g.mu.Lock()
	if g.status != StatusLoading {
		// An event arrived while the query was in flight; it wins.
		g.mu.Unlock()
		return
	}
	changed := g.applyLocked(sess != nil, principalOf(sess), sess)
	g.mu.Unlock()

	g.notify(changed)
}

// UpdateState is the single transition entry point. It is called for every
// provider event and may be called manually.
func (g *Gate) UpdateState(authenticated bool, principal *identity.Principal, session *identity.Session) {
	g.mu.Lock()
	changed := g.applyLocked(authenticated, principal, session)
	g.mu.Unlock()

	g.notify(changed)
}

// applyLocked performs the state transition and returns the new status when
// it differs from the previous one. g.mu must be held.
func (g *Gate) applyLocked(authenticated bool, principal *identity.Principal, session *identity.Session) *Status {
	prev := g.status
	g.version++

	if authenticated && principal != nil && session.ValidAt(g.now(), g.margin) {
		p := *principal
		s := *session
		g.status = StatusReady
		g.principal = &p
		g.session = &s

		if g.waiters != nil {
			g.waiters.resolve()
		}
		// Armed for a later sign-out/sign-in cycle.
		g.waiters = newWaiterSet()
		return changedStatus(prev, g.status)
	}

	g.status = StatusNotReady
	g.principal = nil
	g.session = nil

	// After an explicit logout the resolved generation must not be reused.
	// With no set at all, a first caller still needs something to wait on.
	// Otherwise a pending set from LOADING or NOT_READY is kept so earlier
	// waiters still see a slow sign-in.
	if prev == StatusReady || g.waiters == nil {
		g.waiters = newWaiterSet()
	}
	return changedStatus(prev, g.status)
}

// WaitUntilReady blocks until the status becomes READY, the timeout elapses
// or ctx is done. It returns false on timeout; that is an expected outcome,
// not an error. A provider query made to revalidate a cached session counts
// against the same timeout.
func (g *Gate) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	ws, res := g.arm()
	for res == armRevalidate {
		if !g.revalidate(ctx, deadline) {
			return g.giveUp(ctx, timeout)
		}
		ws, res = g.arm()
	}
	if res == armReady {
		g.metrics.RecordWait(ctx, "immediate")
		return true
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return g.giveUp(ctx, timeout)
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ws.done:
		g.metrics.RecordWait(ctx, "ready")
		return true
	case <-timer.C:
		return g.giveUp(ctx, timeout)
	case <-ctx.Done():
		return g.giveUp(ctx, timeout)
	}
}

func (g *Gate) giveUp(ctx context.Context, timeout time.Duration) bool {
	if ctx.Err() != nil {
		g.metrics.RecordWait(ctx, "canceled")
		return false
	}
	g.logger.Debug("readiness wait timed out", zap.Duration("timeout", timeout))
	g.metrics.RecordWait(ctx, "timeout")
	return false
}

type armResult int

const (
	armPending armResult = iota
	armReady
	armRevalidate
)

// arm decides under one lock hold whether the caller is done, must wait on
// the pending waiter set, or must first revalidate a cached session that has
// entered the lookahead margin.
func (g *Gate) arm() (*waiterSet, armResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status == StatusReady {
		if g.session.ValidAt(g.now(), g.margin) {
			return nil, armReady
		}
		return nil, armRevalidate
	}
	if g.waiters == nil || g.waiters.resolved {
		g.waiters = newWaiterSet()
	}
	return g.waiters, armPending
}

// revalidate asks the provider for the current session instead of trusting
// a cached copy that is about to expire. The query is abandoned at deadline
// and then counts as "no session". A provider event arriving while the
// query is in flight wins over its answer. It returns false when the caller
// should stop waiting.
func (g *Gate) revalidate(ctx context.Context, deadline time.Time) bool {
	g.mu.Lock()
	version := g.version
	g.mu.Unlock()

	qctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type answer struct {
		sess *identity.Session
		err  error
	}
	out := make(chan answer, 1)
	go func() {
		sess, err := g.provider.FetchCurrentSession(qctx)
		out <- answer{sess, err}
	}()

	var sess *identity.Session
	answered := true
	select {
	case a := <-out:
		sess = a.sess
		if a.err != nil {
			g.logger.Debug("identity provider unavailable during revalidation", zap.Error(a.err))
			sess = nil
		}
	case <-qctx.Done():
		if ctx.Err() != nil {
			return false
		}
		g.logger.Debug("identity provider did not answer before the wait deadline")
		answered = false
	}

	g.mu.Lock()
	if g.version != version {
		g.mu.Unlock()
		return answered
	}
	changed := g.applyLocked(sess != nil, principalOf(sess), sess)
	g.mu.Unlock()

	g.notify(changed)
	return answered
}

// Status returns the current status.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Principal returns a copy of the authenticated principal, or nil.
func (g *Gate) Principal() *identity.Principal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.principal == nil {
		return nil
	}
	p := *g.principal
	return &p
}

// Session returns a copy of the cached session, or nil.
func (g *Gate) Session() *identity.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// Watch registers fn for status changes and returns a function removing it.
func (g *Gate) Watch(fn StatusFunc) func() {
	id := uuid.New().String()

	g.watchMu.Lock()
	g.watchers[id] = fn
	g.watchMu.Unlock()

	return func() {
		g.watchMu.Lock()
		delete(g.watchers, id)
		g.watchMu.Unlock()
	}
}

// Close removes the provider subscription.
func (g *Gate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *Gate) notify(changed *Status) {
	if changed == nil {
		return
	}
	status := *changed
	g.metrics.RecordStatus(context.Background(), string(status))
	g.logger.Info("readiness status changed", zap.String("status", string(status)))

	principal := g.Principal()

	g.watchMu.RLock()
	fns := make([]StatusFunc, 0, len(g.watchers))
	for _, fn := range g.watchers {
		fns = append(fns, fn)
	}
	g.watchMu.RUnlock()

	for _, fn := range fns {
		fn(status, principal)
	}
}

func changedStatus(prev, next Status) *Status {
	if prev == next {
		return nil
	}
	return &next
}

func principalOf(sess *identity.Session) *identity.Principal {
	if sess == nil {
		return nil
	}
	p := sess.Principal
	return &p
}
