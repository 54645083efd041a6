package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/gateway"
	"github.com/teamhub/realtime-gateway/internal/hub"
	"github.com/teamhub/realtime-gateway/pkg/jwt"
	"github.com/teamhub/realtime-gateway/pkg/log"
	"github.com/teamhub/realtime-gateway/pkg/middleware"
	"github.com/teamhub/realtime-gateway/pkg/response"
)

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub       *hub.Hub
	gateway   *gateway.Gateway
	validator middleware.TokenValidator
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler. An empty allowedOrigins accepts any origin.
func NewWSHandler(h *hub.Hub, gw *gateway.Gateway, v middleware.TokenValidator, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:       h,
		gateway:   gw,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket authenticates the upgrade request and runs the connection.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.Authenticate(h.validator, r)
	if err != nil {
		response.Unauthorized(w, err.Error())
		return
	}
	if claims.Type != jwt.TypeAccess {
		response.Unauthorized(w, "access token required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := uuid.New().String()
	client := hub.NewClient(connectionID, claims.UserID, h.hub, conn)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}

	// the request context ends when this handler returns
	ctx := log.WithConnection(log.WithLogger(context.Background(), log.Ctx(r.Context())), connectionID, claims.UserID)
	if err := h.gateway.OnConnect(ctx, connectionID, claims.UserID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to register connection")
		h.hub.Unregister(client)
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleMessage(ctx, c, message)
	}, func(c *hub.Client) {
		h.gateway.OnDisconnect(ctx, c.ID)
	})
}

func (h *WSHandler) handleMessage(ctx context.Context, c *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypeJoinWorkspace, domain.MsgTypeLeaveWorkspace:
		var msg domain.WorkspaceMessageWS
		if err := json.Unmarshal(message, &msg); err != nil || msg.WorkspaceID == "" {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "workspaceId is required"))
			return
		}
		if base.Type == domain.MsgTypeLeaveWorkspace {
			h.gateway.LeaveWorkspace(ctx, c.ID, msg.WorkspaceID)
			return
		}
		if err := h.gateway.JoinWorkspace(ctx, c.ID, msg.WorkspaceID); err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, err.Error()))
		}

	case domain.MsgTypeJoinChannel, domain.MsgTypeLeaveChannel:
		var msg domain.ChannelMessageWS
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChannelID == "" {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "channelId is required"))
			return
		}
		if base.Type == domain.MsgTypeLeaveChannel {
			h.gateway.LeaveChannel(ctx, c.ID, msg.ChannelID)
			return
		}
		if err := h.gateway.JoinChannel(ctx, c.ID, msg.ChannelID); err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, err.Error()))
		}

	case domain.MsgTypeTypingStart, domain.MsgTypeTypingStop:
		var msg domain.ChannelMessageWS
		if err := json.Unmarshal(message, &msg); err != nil || msg.ChannelID == "" {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "channelId is required"))
			return
		}
		if _, err := h.gateway.SetTyping(ctx, msg.ChannelID, c.UserID, base.Type == domain.MsgTypeTypingStart); err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, err.Error()))
		}

	case domain.MsgTypeUpdateStatus:
		var msg domain.UpdateStatusMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid update_status message"))
			return
		}
		ttl, err := domain.StatusTTL(msg.ExpiresInSeconds)
		if err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, err.Error()))
			return
		}
		status, err := domain.ParseStatus(msg.Status)
		if err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeInvalidStatus, err.Error()))
			return
		}
		if _, err := h.gateway.SetStatus(ctx, c.UserID, status, msg.StatusMessage, ttl); err != nil {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeInvalidStatus, err.Error()))
		}

	case domain.MsgTypeGetPresence:
		var msg domain.GetPresenceMessage
		if err := json.Unmarshal(message, &msg); err != nil || len(msg.UserIDs) == 0 {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "userIds is required"))
			return
		}
		if len(msg.UserIDs) > maxPresenceQuery {
			h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "too many userIds"))
			return
		}
		h.reply(ctx, c, &domain.PresenceSnapshot{Users: h.gateway.GetPresenceAs(ctx, msg.UserIDs, c.UserID)})

	case domain.MsgTypeGetOnlineUsers:
		h.reply(ctx, c, &domain.OnlineUsers{UserIDs: h.gateway.OnlineUsers(ctx, c.UserID)})

	case domain.MsgTypePing:
		h.reply(ctx, c, &domain.Pong{})

	default:
		h.reply(ctx, c, domain.NewErrorEvent(domain.ErrCodeUnknownType, "unknown message type: "+base.Type))
	}
}

func (h *WSHandler) reply(ctx context.Context, c *hub.Client, ev domain.Event) {
	if err := c.SendEvent(ev); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str(log.FieldEvent, ev.EventName()).Msg("failed to reply")
	}
}
