package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrModuleNotRegistered is recorded when a page names a module that was
// never registered.
var ErrModuleNotRegistered = errors.New("module not registered")

// Module is the per-page logic started after a page becomes visible.
type Module interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by modules that need teardown when their page is
// left.
type Stopper interface {
	Stop(ctx context.Context) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context) error

// Start calls f.
func (f ModuleFunc) Start(ctx context.Context) error {
	return f(ctx)
}

// ModuleRecord is the runtime record of a page's module. It is replaced on
// every start.
type ModuleRecord struct {
	Module    string    `json:"module"`
	Loaded    bool      `json:"loaded"`
	LastError error     `json:"-"`
	StartedAt time.Time `json:"startedAt"`

	cleanup Stopper
}

// CallbackError reports a failed page load or unload callback.
type CallbackError struct {
	Page  string
	Phase string
	Index int
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback %d for page %s: %v", e.Phase, e.Index, e.Page, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
