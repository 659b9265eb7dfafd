package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeNavigate: true,
	TypeRefresh:  true,
	TypePopState: true,
	TypeAuthWait: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeNavigate:
		var p NavigatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Page == "" {
			return nil, fmt.Errorf("missing required field 'page' in %s payload", msg.Type)
		}

	case TypePopState:
		var p PopStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Path == "" {
			return nil, fmt.Errorf("missing required field 'path' in %s payload", msg.Type)
		}

	case TypeAuthWait:
		var p AuthWaitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.RequestID == "" {
			return nil, fmt.Errorf("missing required field 'requestId' in %s payload", msg.Type)
		}
		if p.TimeoutMs <= 0 || p.TimeoutMs > MaxWaitTimeoutMs {
			return nil, fmt.Errorf("'timeoutMs' in %s payload must be between 1 and %d", msg.Type, MaxWaitTimeoutMs)
		}

	case TypeRefresh:
		var p struct{}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
