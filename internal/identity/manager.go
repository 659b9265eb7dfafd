// Package identity provides the in-process identity provider used by the
// coordinator service. It owns the authenticated session, mints signed
// credentials and notifies subscribers on sign-in and sign-out.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSessionTTL    = time.Hour
	defaultEventCapacity = 100
	credentialIssuer     = "manajemen-resiko"
)

// ErrInvalidCredential is returned by Verify for tokens that fail validation.
var ErrInvalidCredential = errors.New("invalid credential")

// Manager is an identity provider holding at most one signed-in session.
type Manager struct {
	mu      sync.RWMutex
	current *Session
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	events  *RingBuffer
	logger  *zap.Logger

	subMu       sync.RWMutex
	subscribers map[string]ChangeFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the lifetime of credentials minted by SignIn.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type credentialClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewManager creates an identity provider signing credentials with secret.
// An empty secret is replaced with a random per-process one.
func NewManager(secret []byte, opts ...ManagerOption) *Manager {
	if len(secret) == 0 {
		secret = []byte(uuid.New().String())
	}
	m := &Manager{
		secret:      secret,
		ttl:         defaultSessionTTL,
		now:         time.Now,
		events:      NewRingBuffer(defaultEventCapacity),
		logger:      zap.NewNop(),
		subscribers: make(map[string]ChangeFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn establishes a session for the principal and notifies subscribers.
func (m *Manager) SignIn(principalID, displayName string) (*Session, error) {
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := credentialClaims{
		Name: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    credentialIssuer,
			Subject:   principalID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	sess := &Session{
		Principal:  Principal{ID: principalID, DisplayName: displayName},
		Credential: token,
		ExpiresAt:  expires,
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	m.events.Write(Event{
		Type:        EventSignedIn,
		PrincipalID: principalID,
		ExpiresAt:   expires,
		Timestamp:   now,
	})
	m.logger.Info("principal signed in",
		zap.String("principal", principalID),
		zap.Time("expires_at", expires))

	cp := *sess
	m.fanOut(true, &cp.Principal, &cp)
	return &cp, nil
}

// SignOut clears the current session. Subscribers are notified only when a
// session existed.
func (m *Manager) SignOut() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev == nil {
		return
	}

	m.events.Write(Event{
		Type:        EventSignedOut,
		PrincipalID: prev.Principal.ID,
		Timestamp:   m.now().UTC(),
	})
	m.logger.Info("principal signed out", zap.String("principal", prev.Principal.ID))

	m.fanOut(false, nil, nil)
}

// FetchCurrentSession returns a copy of the current session, or nil when
// nobody is signed in or the credential no longer verifies.
func (m *Manager) FetchCurrentSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur == nil {
		return nil, nil
	}
	if _, err := m.Verify(cur.Credential); err != nil {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

// Verify parses and validates a credential minted by this manager.
func (m *Manager) Verify(token string) (*Principal, error) {
	var claims credentialClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(credentialIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return &Principal{ID: claims.Subject, DisplayName: claims.Name}, nil
}

// Subscribe registers fn for state changes. The returned function removes
// the subscription.
func (m *Manager) Subscribe(fn ChangeFunc) func() {
	subID := uuid.New().String()

	m.subMu.Lock()
	m.subscribers[subID] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, subID)
		m.subMu.Unlock()
	}
}

// Events returns recent sign-in and sign-out events in chronological order.
func (m *Manager) Events() []Event {
	return m.events.ReadAll()
}

// fanOut invokes every subscriber synchronously, outside the subscriber lock.
func (m *Manager) fanOut(authenticated bool, principal *Principal, sess *Session) {
	m.subMu.RLock()
	fns := make([]ChangeFunc, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range fns {
		fn(authenticated, principal, sess)
	}
}
