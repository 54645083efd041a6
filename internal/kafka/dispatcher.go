package kafka

import (
	"context"
	"encoding/json"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/domain"
)

// Dispatcher delivers a decoded command to a scope.
type Dispatcher interface {
	DispatchRaw(ctx context.Context, scope domain.Scope, targetID, eventType string, payload json.RawMessage) (broadcast.Report, error)
}

// GatewayHandler adapts a Dispatcher to RealtimeEventHandler.
type GatewayHandler struct {
	dispatcher Dispatcher
}

func NewGatewayHandler(d Dispatcher) *GatewayHandler {
	return &GatewayHandler{dispatcher: d}
}

func (h *GatewayHandler) HandleRealtimeEvent(ctx context.Context, event *RealtimeEvent) error {
	scope, err := event.Validate()
	if err != nil {
		return err
	}
	_, err = h.dispatcher.DispatchRaw(ctx, scope, event.TargetID, event.Type, event.Payload)
	return err
}
