// Package modules provides the page modules started by the navigation
// coordinator. A page module gates its data on an authenticated session and
// tells connected shells to load or tear down the page's dynamic content.
package modules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/navigation"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/protocol"
)

// ErrNotAuthenticated is returned by Start when no session became ready in
// time.
var ErrNotAuthenticated = errors.New("not authenticated")

// Notifier delivers messages to connected shells.
type Notifier interface {
	Notify(msgType string, payload interface{}) error
}

// Readiness blocks until an authenticated session is available.
type Readiness interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) bool
}

// Registrar accepts modules by name.
type Registrar interface {
	RegisterModule(name string, m navigation.Module)
}

// PageModule loads one page's content once the session is ready.
type PageModule struct {
	name     string
	notifier Notifier
	gate     Readiness
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a PageModule.
type Option func(*PageModule)

// WithReadiness makes Start wait up to timeout for gate.
func WithReadiness(gate Readiness, timeout time.Duration) Option {
	return func(m *PageModule) {
		m.gate = gate
		m.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *PageModule) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a page module.
func New(name string, notifier Notifier, opts ...Option) *PageModule {
	m := &PageModule{
		name:     name,
		notifier: notifier,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the module name.
func (m *PageModule) Name() string {
	return m.name
}

// Start waits for readiness and asks shells to load the page's content.
func (m *PageModule) Start(ctx context.Context) error {
	if m.gate != nil && !m.gate.WaitUntilReady(ctx, m.timeout) {
		return fmt.Errorf("module %s: %w", m.name, ErrNotAuthenticated)
	}

	if err := m.notifier.Notify(protocol.TypeModuleStart, protocol.ModulePayload{Module: m.name}); err != nil {
		return fmt.Errorf("module %s: notify start: %w", m.name, err)
	}
	m.logger.Debug("module started", zap.String("module", m.name))
	return nil
}

// Stop asks shells to tear down the page's content.
func (m *PageModule) Stop(ctx context.Context) error {
	if err := m.notifier.Notify(protocol.TypeModuleStop, protocol.ModulePayload{Module: m.name}); err != nil {
		return fmt.Errorf("module %s: notify stop: %w", m.name, err)
	}
	m.logger.Debug("module stopped", zap.String("module", m.name))
	return nil
}

// RegisterAll registers one PageModule for every distinct module named by
// pages. It returns the number of modules registered.
func RegisterAll(r Registrar, pages []navigation.PageHandle, notifier Notifier, opts ...Option) int {
	seen := make(map[string]bool)
	for _, p := range pages {
		if p.Module == "" || seen[p.Module] {
			continue
		}
		seen[p.Module] = true
		r.RegisterModule(p.Module, New(p.Module, notifier, opts...))
	}
	return len(seen)
}
