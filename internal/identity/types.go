package identity

import "time"

// ValidityMargin is the lookahead applied when deciding whether a session
// credential can still be trusted.
const ValidityMargin = 60 * time.Second

// Principal identifies the signed-in user.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Session is the provider-owned record of an authenticated principal.
type Session struct {
	Principal  Principal `json:"principal"`
	Credential string    `json:"-"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ValidAt reports whether the session carries a credential that is still
// valid at now plus the lookahead margin.
func (s *Session) ValidAt(now time.Time, margin time.Duration) bool {
	if s == nil || s.Credential == "" {
		return false
	}
	return s.ExpiresAt.After(now.Add(margin))
}

// Valid is ValidAt with the current time and ValidityMargin.
func (s *Session) Valid() bool {
	return s.ValidAt(time.Now(), ValidityMargin)
}

// EventType distinguishes sign-in and sign-out notifications.
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event is a single state change emitted by the provider.
type Event struct {
	Type        EventType `json:"type"`
	PrincipalID string    `json:"principalId,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChangeFunc receives provider state changes. principal and session are nil
// when authenticated is false.
type ChangeFunc func(authenticated bool, principal *Principal, session *Session)
