package navigation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	phaseLoad   = "load"
	phaseUnload = "unload"
)

// transition runs one page change. Each step isolates its own failures; the
// in-transition flag is always cleared on return.
func (c *Coordinator) transition(ctx context.Context, req request) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("navigation step panicked",
				zap.String("page", req.pageID),
				zap.Any("panic", r))
		}
		c.mu.Lock()
		c.state.InTransition = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	current := c.state.Current
	previous := c.state.Previous
	c.mu.Unlock()

	if req.pageID == current && !req.force {
		return
	}

	target, ok := c.table.Lookup(req.pageID)
	if !ok || target.Container == "" {
		fallback := c.table.Default()
		c.logger.Warn("page has no container, showing default page",
			zap.String("page", req.pageID),
			zap.String("default", fallback.ID))
		target = fallback
		if target.ID == current && !req.force {
			return
		}
	}

	// Tear down the outgoing page.
	if current != "" {
		c.stopModule(ctx, current)
		c.runCallbacks(ctx, phaseUnload, current)
	}

	// Hide everything else before showing the target so that two pages are
	// never visible together.
	for _, page := range c.table.Pages() {
		if page.ID == target.ID {
			continue
		}
		if err := c.view.Hide(page); err != nil {
			c.logger.Warn("failed to hide page", zap.String("page", page.ID), zap.Error(err))
		}
	}
	if err := c.view.Show(target); err != nil {
		c.logger.Warn("failed to show page", zap.String("page", target.ID), zap.Error(err))
	}

	if target.ID != current {
		previous = current
	}
	c.mu.Lock()
	c.state.Current = target.ID
	c.state.Previous = previous
	c.state.LastTransition = time.Now()
	c.mu.Unlock()

	if !req.fromHistory {
		if err := c.history.Push(target.Path); err != nil {
			c.logger.Warn("failed to update location", zap.String("path", target.Path), zap.Error(err))
		}
	}

	if err := c.view.Highlight(target); err != nil {
		c.logger.Warn("failed to highlight page", zap.String("page", target.ID), zap.Error(err))
	}

	moduleOK := c.startModule(ctx, target)
	c.runCallbacks(ctx, phaseLoad, target.ID)

	c.emit(Navigated{Page: target.ID, PreviousPage: previous})

	c.metrics.RecordTransition(ctx, target.ID, time.Since(started), moduleOK)
	c.logger.Info("navigated",
		zap.String("page", target.ID),
		zap.String("previous", previous),
		zap.Duration("took", time.Since(started)))
}

// stopModule runs the cleanup handle of pageID's module, if it is loaded.
func (c *Coordinator) stopModule(ctx context.Context, pageID string) {
	c.modMu.Lock()
	rec, ok := c.records[pageID]
	var cleanup Stopper
	if ok && rec.Loaded {
		cleanup = rec.cleanup
		rec.Loaded = false
	}
	c.modMu.Unlock()

	if cleanup == nil {
		return
	}
	if err := safeCall(func() error { return cleanup.Stop(ctx) }); err != nil {
		c.logger.Warn("module stop failed",
			zap.String("page", pageID),
			zap.String("module", rec.Module),
			zap.Error(err))
	}
}

// startModule starts the target's module and records the outcome. A failed
// start leaves the page visible without its dynamic content.
func (c *Coordinator) startModule(ctx context.Context, target PageHandle) bool {
	if target.Module == "" {
		return true
	}

	c.modMu.RLock()
	m, ok := c.modules[target.Module]
	c.modMu.RUnlock()

	rec := &ModuleRecord{
		Module:    target.Module,
		StartedAt: time.Now(),
	}

	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrModuleNotRegistered, target.Module)
	} else {
		err = safeCall(func() error { return m.Start(ctx) })
		if stopper, isStopper := m.(Stopper); isStopper {
			rec.cleanup = stopper
		}
	}
	rec.Loaded = err == nil
	rec.LastError = err

	c.modMu.Lock()
	c.records[target.ID] = rec
	c.modMu.Unlock()

	if err != nil {
		c.logger.Error("module start failed",
			zap.String("page", target.ID),
			zap.String("module", target.Module),
			zap.Error(err))
		c.metrics.RecordModuleFailure(ctx, target.ID, target.Module)
		return false
	}
	return true
}

// runCallbacks invokes the registered callbacks for pageID in registration
// order. A failing callback is logged and skipped.
func (c *Coordinator) runCallbacks(ctx context.Context, phase, pageID string) {
	c.cbMu.RLock()
	var cbs []PageCallback
	if phase == phaseLoad {
		cbs = append(cbs, c.onLoad[pageID]...)
	} else {
		cbs = append(cbs, c.onUnload[pageID]...)
	}
	c.cbMu.RUnlock()

	for i, cb := range cbs {
		if err := safeCall(func() error { return cb(ctx, pageID) }); err != nil {
			cbErr := &CallbackError{Page: pageID, Phase: phase, Index: i, Err: err}
			c.logger.Warn("page callback failed", zap.Error(cbErr))
			c.metrics.RecordCallbackFailure(ctx, pageID, phase)
		}
	}
}

func (c *Coordinator) emit(ev Navigated) {
	c.subMu.RLock()
	fns := make([]NavigatedFunc, 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		if err := safeCall(func() error { fn(ev); return nil }); err != nil {
			c.logger.Warn("navigated subscriber failed", zap.Error(err))
		}
	}
}
