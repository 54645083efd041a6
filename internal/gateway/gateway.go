// Package gateway is the entry point into the realtime core for the transport layer and
// for command handlers of the CRUD layer.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/internal/presence"
	"github.com/teamhub/realtime-gateway/internal/registry"
	"github.com/teamhub/realtime-gateway/pkg/log"
)

// DefaultTypingTTL is how long receivers keep a typing indicator without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Relayer forwards locally submitted notifications to the other gateway instances.
type Relayer interface {
	Publish(ctx context.Context, group string, ev domain.Event) error
}

type Config struct {
	TypingTTL time.Duration
}

type Gateway struct {
	registry    *registry.Registry
	tracker     *presence.Tracker
	broadcaster *broadcast.Broadcaster
	metrics     *metrics.Metrics
	relay       Relayer
	config      Config
	now         func() time.Time
}

// New creates a gateway. m may be nil.
func New(reg *registry.Registry, tracker *presence.Tracker, b *broadcast.Broadcaster, m *metrics.Metrics, cfg Config) *Gateway {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	return &Gateway{
		registry:    reg,
		tracker:     tracker,
		broadcaster: b,
		metrics:     m,
		config:      cfg,
		now:         time.Now,
	}
}

// SetRelay enables cross-instance delivery of Notify* calls and typing indicators.
// It must be called before the gateway serves traffic.
func (g *Gateway) SetRelay(r Relayer) {
	g.relay = r
}

// OnConnect registers an authenticated connection and updates its user's presence.
func (g *Gateway) OnConnect(ctx context.Context, connectionID, userID string) error {
	live, err := g.registry.Register(connectionID, userID)
	if err != nil {
		return err
	}
	g.metrics.ConnectionOpened()

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldUserID, userID).
		Int("connections", live).
		Msg("connection registered")

	g.tracker.OnConnectionAdded(ctx, userID)
	return nil
}

// OnDisconnect removes a connection. Unknown ids are ignored so double disconnects are safe.
func (g *Gateway) OnDisconnect(ctx context.Context, connectionID string) {
	// the transport usually calls this after its request context was canceled
	ctx = context.WithoutCancel(ctx)

	conn, groups, live, err := g.registry.Unregister(connectionID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownConnection) {
			l := log.Ctx(ctx)
			l.Debug().Str(log.FieldConnectionID, connectionID).Msg("disconnect for unknown connection")
		}
		return
	}
	g.metrics.ConnectionClosed()

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConnectionID, connectionID).
		Str(log.FieldUserID, conn.UserID).
		Int("connections", live).
		Msg("connection unregistered")

	g.tracker.OnConnectionRemoved(ctx, conn.UserID, groups)

	remaining := make(map[string]struct{})
	for _, grp := range g.registry.UserGroups(conn.UserID) {
		remaining[grp] = struct{}{}
	}
	for _, grp := range groups {
		scope, channelID, err := domain.ParseGroup(grp)
		if err != nil || scope != domain.ScopeChannel {
			continue
		}
		if _, still := remaining[grp]; still {
			continue
		}
		g.deliver(ctx, grp, &domain.UserLeftChannel{ChannelID: channelID, UserID: conn.UserID})
	}
}

// NotifyChannel delivers ev to every connection joined to the channel.
func (g *Gateway) NotifyChannel(ctx context.Context, channelID string, ev domain.Event) (broadcast.Report, error) {
	return g.notify(ctx, domain.ChannelGroup(channelID), ev)
}

// NotifyWorkspace delivers ev to every connection joined to the workspace.
func (g *Gateway) NotifyWorkspace(ctx context.Context, workspaceID string, ev domain.Event) (broadcast.Report, error) {
	return g.notify(ctx, domain.WorkspaceGroup(workspaceID), ev)
}

// NotifyUser delivers ev to every connection of the user.
func (g *Gateway) NotifyUser(ctx context.Context, userID string, ev domain.Event) (broadcast.Report, error) {
	return g.notify(ctx, domain.UserGroup(userID), ev)
}

// Dispatch routes ev to the Notify* operation of scope.
func (g *Gateway) Dispatch(ctx context.Context, scope domain.Scope, targetID string, ev domain.Event) (broadcast.Report, error) {
	switch scope {
	case domain.ScopeChannel:
		return g.NotifyChannel(ctx, targetID, ev)
	case domain.ScopeWorkspace:
		return g.NotifyWorkspace(ctx, targetID, ev)
	case domain.ScopeUser:
		return g.NotifyUser(ctx, targetID, ev)
	default:
		return broadcast.Report{}, fmt.Errorf("dispatch to %q: %w", scope, domain.ErrInvalidScope)
	}
}

// DispatchRaw decodes a named event payload and dispatches it.
func (g *Gateway) DispatchRaw(ctx context.Context, scope domain.Scope, targetID, eventType string, payload json.RawMessage) (broadcast.Report, error) {
	ev, err := domain.DecodeEvent(eventType, payload)
	if err != nil {
		return broadcast.Report{}, err
	}
	return g.Dispatch(ctx, scope, targetID, ev)
}

// DeliverLocal broadcasts ev to this instance's connections only. It is the receiving
// end of the relay and never publishes again.
func (g *Gateway) DeliverLocal(ctx context.Context, group string, ev domain.Event) (broadcast.Report, error) {
	if scope, _, err := domain.ParseGroup(group); err == nil && scope == domain.ScopeChannel {
		if t, ok := ev.(*domain.TypingIndicator); ok {
			return g.broadcaster.BroadcastExcept(ctx, group, ev, g.registry.ConnectionsOf(t.UserID)...)
		}
	}
	return g.broadcaster.Broadcast(ctx, group, ev)
}

// GetPresence returns the public presence of each user.
func (g *Gateway) GetPresence(ctx context.Context, userIDs []string) map[string]domain.PresenceRecord {
	return g.tracker.Get(ctx, userIDs, "")
}

// GetPresenceAs returns presence as seen by viewerID, who sees their own true status.
func (g *Gateway) GetPresenceAs(ctx context.Context, userIDs []string, viewerID string) map[string]domain.PresenceRecord {
	return g.tracker.Get(ctx, userIDs, viewerID)
}

// SetStatus applies a manual status. expiresIn of zero keeps the status until changed.
func (g *Gateway) SetStatus(ctx context.Context, userID string, status domain.Status, message *string, expiresIn time.Duration) (domain.PresenceRecord, error) {
	if expiresIn > domain.MaxStatusTTL {
		return domain.PresenceRecord{}, fmt.Errorf("%w: expiry exceeds %s", domain.ErrInvalidStatus, domain.MaxStatusTTL)
	}
	var expiresAt *time.Time
	if expiresIn > 0 {
		t := g.now().Add(expiresIn)
		expiresAt = &t
	}
	return g.tracker.SetManualStatus(ctx, userID, status, message, expiresAt)
}

// OnlineUsers lists users online on this instance that viewerID may see.
func (g *Gateway) OnlineUsers(ctx context.Context, viewerID string) []string {
	return g.tracker.OnlineUsers(viewerID)
}

// SetTyping broadcasts a typing indicator to the channel, skipping the typist's own connections.
func (g *Gateway) SetTyping(ctx context.Context, channelID, userID string, isTyping bool) (broadcast.Report, error) {
	group := domain.ChannelGroup(channelID)
	ev := &domain.TypingIndicator{ChannelID: channelID, UserID: userID, IsTyping: isTyping}
	if isTyping {
		t := g.now().Add(g.config.TypingTTL)
		ev.ExpiresAt = &t
	}

	report, err := g.broadcaster.BroadcastExcept(ctx, group, ev, g.registry.ConnectionsOf(userID)...)
	if err != nil {
		return report, err
	}
	g.publish(ctx, group, ev)
	return report, nil
}

// JoinChannel subscribes a connection to a channel. UserJoinedChannel is emitted to this
// instance's members when this is the user's first local connection in the channel.
func (g *Gateway) JoinChannel(ctx context.Context, connectionID, channelID string) error {
	group := domain.ChannelGroup(channelID)
	first, err := g.registry.Join(connectionID, group)
	if err != nil {
		return err
	}
	if first {
		conn, _ := g.registry.Connection(connectionID)
		g.deliver(ctx, group, &domain.UserJoinedChannel{ChannelID: channelID, UserID: conn.UserID})
	}
	return nil
}

// LeaveChannel unsubscribes a connection from a channel. UserLeftChannel is emitted to
// this instance's members when the user has no local connection left in the channel.
func (g *Gateway) LeaveChannel(ctx context.Context, connectionID, channelID string) {
	conn, ok := g.registry.Connection(connectionID)
	if !ok {
		return
	}
	group := domain.ChannelGroup(channelID)
	if g.registry.Leave(connectionID, group) {
		g.deliver(ctx, group, &domain.UserLeftChannel{ChannelID: channelID, UserID: conn.UserID})
	}
}

// JoinWorkspace subscribes a connection to a workspace, which also makes the workspace
// part of the user's presence audience.
func (g *Gateway) JoinWorkspace(ctx context.Context, connectionID, workspaceID string) error {
	_, err := g.registry.Join(connectionID, domain.WorkspaceGroup(workspaceID))
	return err
}

func (g *Gateway) LeaveWorkspace(ctx context.Context, connectionID, workspaceID string) {
	g.registry.Leave(connectionID, domain.WorkspaceGroup(workspaceID))
}

// Stats is a snapshot of this instance's connection state.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Connections: g.registry.Count(),
		Users:       len(g.registry.OnlineUsers()),
	}
}

func (g *Gateway) notify(ctx context.Context, group string, ev domain.Event) (broadcast.Report, error) {
	report, err := g.broadcaster.Broadcast(ctx, group, ev)
	if err != nil {
		return report, err
	}
	g.publish(ctx, group, ev)
	return report, nil
}

// deliver sends a membership event to this instance's connections only. Membership is
// tracked per instance, so other instances cannot tell whether the user is still in the group.
func (g *Gateway) deliver(ctx context.Context, group string, ev domain.Event) {
	if _, err := g.broadcaster.Broadcast(ctx, group, ev); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldGroup, group).Str(log.FieldEvent, ev.EventName()).Msg("broadcast failed")
	}
}

func (g *Gateway) publish(ctx context.Context, group string, ev domain.Event) {
	if g.relay == nil {
		return
	}
	if err := g.relay.Publish(ctx, group, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldGroup, group).Str(log.FieldEvent, ev.EventName()).Msg("relay publish failed")
	}
}
