package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeJoinWorkspace  = "join_workspace"
	MsgTypeLeaveWorkspace = "leave_workspace"
	MsgTypeJoinChannel    = "join_channel"
	MsgTypeLeaveChannel   = "leave_channel"
	MsgTypeTypingStart    = "typing_start"
	MsgTypeTypingStop     = "typing_stop"
	MsgTypeUpdateStatus   = "update_status"
	MsgTypeGetPresence    = "get_presence"
	MsgTypeGetOnlineUsers = "get_online_users"
	MsgTypePing           = "ping"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnknownType   = "UNKNOWN_TYPE"
	ErrCodeInvalidStatus = "INVALID_STATUS"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type WorkspaceMessageWS struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

type ChannelMessageWS struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

type UpdateStatusMessage struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	StatusMessage *string `json:"statusMessage,omitempty"`
	// ExpiresInSeconds clears the status automatically when positive.
	ExpiresInSeconds int64 `json:"expiresInSeconds,omitempty"`
}

type GetPresenceMessage struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

// NewErrorEvent creates an error event for a client.
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Code: code, Message: message}
}

// Command is a notification request from the CRUD layer, received over HTTP or Kafka.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
