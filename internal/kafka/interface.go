package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teamhub/realtime-gateway/internal/domain"
)

// RealtimeEvent is a notification command produced by the CRUD layer.
type RealtimeEvent struct {
	Scope     string          `json:"scope"` // "channel" | "workspace" | "user"
	TargetID  string          `json:"target_id"`
	Type      string          `json:"type"` // event name, e.g. "MessageReceived"
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Validate checks the routing fields of the event.
func (e *RealtimeEvent) Validate() (domain.Scope, error) {
	scope, err := domain.ParseScope(e.Scope)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(e.TargetID) == "" {
		return "", fmt.Errorf("%w: target_id is required", domain.ErrInvalidScope)
	}
	if e.Type == "" {
		return "", fmt.Errorf("%w: type is required", domain.ErrUnknownEvent)
	}
	return scope, nil
}

// RealtimeEventHandler handles incoming realtime events.
type RealtimeEventHandler interface {
	HandleRealtimeEvent(ctx context.Context, event *RealtimeEvent) error
}

// RealtimeEventConsumer defines the interface for consuming realtime events.
type RealtimeEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
