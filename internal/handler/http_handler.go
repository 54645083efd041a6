package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/gateway"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/pkg/jwt"
	"github.com/teamhub/realtime-gateway/pkg/log"
	"github.com/teamhub/realtime-gateway/pkg/middleware"
	"github.com/teamhub/realtime-gateway/pkg/response"
)

const (
	commandSource = "http"

	// maxPresenceQuery caps the user ids accepted by one presence query.
	maxPresenceQuery = 200
)

// HTTPHandler serves the command-handler facing API.
type HTTPHandler struct {
	gateway *gateway.Gateway
	metrics *metrics.Metrics
}

// NewHTTPHandler creates a new HTTP handler. m may be nil.
func NewHTTPHandler(gw *gateway.Gateway, m *metrics.Metrics) *HTTPHandler {
	return &HTTPHandler{
		gateway: gw,
		metrics: m,
	}
}

// RegisterRoutes mounts the API under /api/v1 behind auth.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router, auth func(http.Handler) http.Handler) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	api.HandleFunc("/channels/{id}/events", h.notify(domain.ScopeChannel)).Methods(http.MethodPost)
	api.HandleFunc("/workspaces/{id}/events", h.notify(domain.ScopeWorkspace)).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/events", h.notify(domain.ScopeUser)).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/status", h.UpdateStatus).Methods(http.MethodPut)
	api.HandleFunc("/presence", h.GetPresence).Methods(http.MethodGet)
	api.HandleFunc("/online-users", h.GetOnlineUsers).Methods(http.MethodGet)
}

// Health handles GET /health
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  h.gateway.Stats(),
	})
}

// notify handles POST /api/v1/{channels|workspaces|users}/{id}/events.
// Partial delivery failures are reported in the 202 body.
func (h *HTTPHandler) notify(scope domain.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isService(r) {
			response.Forbidden(w, "service token required")
			return
		}
		targetID := mux.Vars(r)["id"]

		var cmd domain.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			h.metrics.Command(commandSource, "rejected")
			response.BadRequest(w, "invalid request body")
			return
		}
		if cmd.Type == "" {
			h.metrics.Command(commandSource, "rejected")
			response.BadRequest(w, "type is required")
			return
		}

		report, err := h.gateway.DispatchRaw(r.Context(), scope, targetID, cmd.Type, cmd.Payload)
		if err != nil {
			h.metrics.Command(commandSource, "rejected")
			if errors.Is(err, domain.ErrUnknownEvent) {
				response.Error(w, http.StatusBadRequest, domain.ErrCodeUnknownType, err.Error())
				return
			}
			// invalid target id or a payload that does not match the event
			response.BadRequest(w, err.Error())
			return
		}

		h.metrics.Command(commandSource, "accepted")
		response.Accepted(w, report)
	}
}

// GetPresence handles GET /api/v1/presence?user_ids=a,b
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get("user_ids"))
	if len(ids) == 0 {
		response.BadRequest(w, "user_ids is required")
		return
	}
	if len(ids) > maxPresenceQuery {
		response.BadRequest(w, "too many user_ids")
		return
	}

	viewer := middleware.GetUserID(r.Context())
	if isService(r) {
		viewer = ""
	}
	response.Success(w, h.gateway.GetPresenceAs(r.Context(), ids, viewer))
}

// GetOnlineUsers handles GET /api/v1/online-users
func (h *HTTPHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.GetUserID(r.Context())
	if isService(r) {
		viewer = ""
	}
	response.Success(w, domain.OnlineUsers{UserIDs: h.gateway.OnlineUsers(r.Context(), viewer)})
}

// UpdateStatusRequest is the body of PUT /api/v1/users/{id}/status.
type UpdateStatusRequest struct {
	Status           string  `json:"status"`
	StatusMessage    *string `json:"statusMessage,omitempty"`
	ExpiresInSeconds int64   `json:"expiresInSeconds,omitempty"`
}

// UpdateStatus handles PUT /api/v1/users/{id}/status. Users may only set their own status.
func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if !isService(r) && middleware.GetUserID(r.Context()) != userID {
		response.Forbidden(w, "cannot change another user's status")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	ttl, err := domain.StatusTTL(req.ExpiresInSeconds)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		response.Error(w, http.StatusBadRequest, domain.ErrCodeInvalidStatus, err.Error())
		return
	}

	rec, err := h.gateway.SetStatus(r.Context(), userID, status, req.StatusMessage, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatus) {
			response.Error(w, http.StatusBadRequest, domain.ErrCodeInvalidStatus, err.Error())
			return
		}
		l := log.Ctx(r.Context())
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to set status")
		response.InternalError(w, "failed to set status")
		return
	}
	response.Success(w, rec)
}

func isService(r *http.Request) bool {
	c, ok := middleware.ClaimsFromContext(r.Context())
	return ok && c.Type == jwt.TypeService
}

func splitIDs(raw string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
