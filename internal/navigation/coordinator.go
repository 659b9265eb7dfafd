// Package navigation sequences page transitions of the application shell.
//
// Requests enter through Navigate and land in a single pending slot: a newer
// request replaces one that has not started yet. Requests arriving within the
// debounce window of the previous one are held until the window closes, so
// the last request of a burst wins. One worker goroutine drains the slot, so
// at most one transition runs at a time; its teardown and setup steps never
// interleave with another transition.
package navigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/telemetry"
)

// DefaultDebounce is the window in which repeated requests are collapsed.
const DefaultDebounce = 100 * time.Millisecond

// ErrClosed is returned by Initialize after Close.
var ErrClosed = errors.New("navigation coordinator closed")

// ViewPort is the presentation surface the coordinator drives.
type ViewPort interface {
	Show(page PageHandle) error
	Hide(page PageHandle) error
	Highlight(page PageHandle) error
}

// History is the browser location and its back/forward notifications.
type History interface {
	Location() string
	Push(path string) error
	Listen(fn func(path string)) (stop func())
}

// PageCallback runs when a page is entered or left.
type PageCallback func(ctx context.Context, pageID string) error

// Navigated is emitted after every completed transition.
type Navigated struct {
	Page         string `json:"page"`
	PreviousPage string `json:"previousPage"`
}

// NavigatedFunc receives navigated notifications.
type NavigatedFunc func(Navigated)

// State is a snapshot of the navigation state.
type State struct {
	Current        string    `json:"current"`
	Previous       string    `json:"previous"`
	InTransition   bool      `json:"inTransition"`
	LastTransition time.Time `json:"lastTransition"`
}

type request struct {
	pageID      string
	fromHistory bool
	force       bool
}

// Coordinator owns the navigation state. Construct one per shell with New.
type Coordinator struct {
	table    *Table
	view     ViewPort
	history  History
	logger   *zap.Logger
	metrics  *telemetry.NavigationMetrics
	debounce time.Duration

	modMu   sync.RWMutex
	modules map[string]Module
	records map[string]*ModuleRecord

	cbMu     sync.RWMutex
	onLoad   map[string][]PageCallback
	onUnload map[string][]PageCallback

	subMu       sync.RWMutex
	subscribers map[string]NavigatedFunc

	mu          sync.Mutex
	state       State
	pending     *request
	timer       *time.Timer
	lastCall    time.Time
	idle        chan struct{}
	started     bool
	closed      bool
	cancel      context.CancelFunc
	stopHistory func()

	kick chan struct{}
	done chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.NavigationMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDebounce sets the debounce window. Zero disables debouncing.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// New creates a coordinator. Call Initialize to show the start page and
// begin processing requests.
func New(table *Table, view ViewPort, history History, opts ...Option) (*Coordinator, error) {
	if table == nil {
		return nil, errors.New("page table is required")
	}
	if view == nil {
		return nil, errors.New("view port is required")
	}
	if history == nil {
		return nil, errors.New("history is required")
	}

	c := &Coordinator{
		table:       table,
		view:        view,
		history:     history,
		logger:      zap.NewNop(),
		debounce:    DefaultDebounce,
		modules:     make(map[string]Module),
		records:     make(map[string]*ModuleRecord),
		onLoad:      make(map[string][]PageCallback),
		onUnload:    make(map[string][]PageCallback),
		subscribers: make(map[string]NavigatedFunc),
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RegisterModule adds a module under name. Pages reference modules by name.
func (c *Coordinator) RegisterModule(name string, m Module) {
	c.modMu.Lock()
	defer c.modMu.Unlock()
	c.modules[name] = m
}

// OnPageLoad registers cb to run after pageID's module has started.
func (c *Coordinator) OnPageLoad(pageID string, cb PageCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onLoad[pageID] = append(c.onLoad[pageID], cb)
}

// OnPageUnload registers cb to run when pageID is left.
func (c *Coordinator) OnPageUnload(pageID string, cb PageCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onUnload[pageID] = append(c.onUnload[pageID], cb)
}

// Subscribe registers fn for navigated notifications and returns a function
// removing it.
func (c *Coordinator) Subscribe(fn NavigatedFunc) func() {
	id := uuid.New().String()

	c.subMu.Lock()
	c.subscribers[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

// Initialize shows the page for the current location, starts its module,
// starts the request worker and listens for history navigation. Later calls
// are no-ops. The worker stops when ctx is done or Close is called.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state.InTransition = true
	c.markBusyLocked()
	c.mu.Unlock()

	start := c.table.PageForPath(c.history.Location())
	c.logger.Info("navigation starting", zap.String("page", start))
	c.transition(runCtx, request{pageID: start, fromHistory: true})

	stop := c.history.Listen(c.handleHistory)
	c.mu.Lock()
	c.stopHistory = stop
	c.mu.Unlock()

	go c.run(runCtx)
	c.wake()
	return nil
}

// Navigate requests a transition to pageID. It never blocks on the
// transition itself; use WaitIdle to observe completion.
func (c *Coordinator) Navigate(pageID string) {
	c.submit(request{pageID: pageID})
}

// Refresh re-runs the current page, restarting its module even though the
// page does not change.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	current := c.state.Current
	c.mu.Unlock()

	if current == "" {
		return
	}
	c.submit(request{pageID: current, force: true})
}

// State returns a snapshot of the navigation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ModuleRecord returns the runtime record of pageID's module.
func (c *Coordinator) ModuleRecord(pageID string) (ModuleRecord, bool) {
	c.modMu.RLock()
	defer c.modMu.RUnlock()
	rec, ok := c.records[pageID]
	if !ok {
		return ModuleRecord{}, false
	}
	return *rec, true
}

// UpdateMeta replaces menu titles and icons and re-highlights the current
// page when its entry changed.
func (c *Coordinator) UpdateMeta(meta map[string]Meta) {
	changed := c.table.UpdateMeta(meta)
	if changed == 0 {
		return
	}
	c.logger.Info("page metadata reloaded", zap.Int("changed", changed))

	current := c.State().Current
	if _, ok := meta[current]; !ok {
		return
	}
	if page, ok := c.table.Lookup(current); ok {
		if err := c.view.Highlight(page); err != nil {
			c.logger.Warn("failed to highlight page", zap.String("page", current), zap.Error(err))
		}
	}
}

// WaitIdle blocks until no request is pending, debouncing or running.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	ch := c.idle
	c.mu.Unlock()

	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker and the history listener. A transition in progress
// is allowed to finish; requests not yet started are dropped and later ones
// are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	started := c.started
	cancel := c.cancel
	stop := c.stopHistory
	c.stopHistory = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-c.done
	}

	c.mu.Lock()
	c.pending = nil
	if c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) handleHistory(path string) {
	pageID := c.table.PageForPath(path)
	c.logger.Debug("history navigation", zap.String("path", path), zap.String("page", pageID))
	c.submit(request{pageID: pageID, fromHistory: true})
}

// submit places req in the pending slot, replacing a request that has not
// started yet, and either wakes the worker or defers it to the end of the
// debounce window.
func (c *Coordinator) submit(req request) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("navigation request after close ignored", zap.String("page", req.pageID))
		return
	}

	now := time.Now()
	elapsed := now.Sub(c.lastCall)
	c.lastCall = now

	if c.pending != nil {
		if c.pending.pageID == req.pageID {
			req.force = req.force || c.pending.force
		}
		c.metrics.RecordCoalesced(context.Background())
	}
	c.pending = &req
	c.markBusyLocked()

	if c.debounce > 0 && elapsed < c.debounce {
		if c.timer == nil {
			c.timer = time.AfterFunc(c.debounce-elapsed, c.endDebounce)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.wake()
}

func (c *Coordinator) endDebounce() {
	c.mu.Lock()
	c.timer = nil
	c.mu.Unlock()
	c.wake()
}

func (c *Coordinator) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}

		for {
			req, ok := c.next()
			if !ok {
				break
			}
			c.transition(ctx, req)
		}
	}
}

// next takes the pending request unless a debounce window is still open.
// When nothing is left to do it releases WaitIdle callers.
func (c *Coordinator) next() (request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return request{}, false
	}
	if c.timer != nil || c.pending == nil {
		c.settleLocked()
		return request{}, false
	}
	req := *c.pending
	c.pending = nil
	c.state.InTransition = true
	return req, true
}

func (c *Coordinator) markBusyLocked() {
	if c.idle == nil {
		c.idle = make(chan struct{})
	}
}

func (c *Coordinator) settleLocked() {
	if c.idle == nil || c.timer != nil || c.pending != nil || c.state.InTransition {
		return
	}
	close(c.idle)
	c.idle = nil
}
