package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeNavState     = "nav.state"
	TypeNavigated    = "nav.navigated"
	TypeViewShow     = "view.show"
	TypeViewHide     = "view.hide"
	TypeViewMenu     = "view.menu"
	TypeViewLocation = "view.location"
	TypeModuleStart  = "module.start"
	TypeModuleStop   = "module.stop"
	TypeAuthStatus   = "auth.status"
	TypeAuthReady    = "auth.ready"
	TypeError        = "error"
)

// Client → Server message types.
const (
	TypeNavigate = "nav.navigate"
	TypeRefresh  = "nav.refresh"
	TypePopState = "nav.popstate"
	TypeAuthWait = "auth.wait"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrInternal       = "INTERNAL"
)

// MaxWaitTimeoutMs bounds auth.wait timeouts requested by clients.
const MaxWaitTimeoutMs = 60_000

// Server → Client payloads.

type NavStatePayload struct {
	Current    string     `json:"current"`
	Previous   string     `json:"previous"`
	Location   string     `json:"location"`
	AuthStatus string     `json:"authStatus"`
	Principal  *Principal `json:"principal,omitempty"`
}

type NavigatedPayload struct {
	Page         string `json:"page"`
	PreviousPage string `json:"previousPage"`
}

type ViewPayload struct {
	Page      string `json:"page"`
	Container string `json:"container"`
}

type MenuPayload struct {
	Page  string `json:"page"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

type LocationPayload struct {
	Path string `json:"path"`
}

type ModulePayload struct {
	Module string `json:"module"`
}

type AuthStatusPayload struct {
	Status    string     `json:"status"`
	Principal *Principal `json:"principal,omitempty"`
}

type AuthReadyPayload struct {
	RequestID string `json:"requestId"`
	Ready     bool   `json:"ready"`
}

type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type NavigatePayload struct {
	Page string `json:"page"`
}

type PopStatePayload struct {
	Path string `json:"path"`
}

type AuthWaitPayload struct {
	RequestID string `json:"requestId"`
	TimeoutMs int    `json:"timeoutMs"`
}
