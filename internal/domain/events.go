package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Event is a payload sent to clients. The set of implementations is closed:
// every event name maps to exactly one payload type.
type Event interface {
	EventName() string
}

// Event names.
const (
	EventMessageReceived   = "MessageReceived"
	EventMessageEdited     = "MessageEdited"
	EventMessageDeleted    = "MessageDeleted"
	EventReactionChanged   = "ReactionChanged"
	EventReactionAdded     = "ReactionAdded"
	EventReactionRemoved   = "ReactionRemoved"
	EventTypingIndicator   = "TypingIndicator"
	EventUserStatusChanged = "UserStatusChanged"
	EventChannelCreated    = "ChannelCreated"
	EventChannelUpdated    = "ChannelUpdated"
	EventUserJoinedChannel = "UserJoinedChannel"
	EventUserLeftChannel   = "UserLeftChannel"
	EventUserMessage       = "UserMessage"
	EventWorkspaceMessage  = "WorkspaceMessage"
	EventOnlineUsers       = "OnlineUsers"
	EventPresenceSnapshot  = "PresenceSnapshot"
	EventError             = "Error"
	EventPong              = "Pong"
)

type Reaction struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// MessageReceived announces a new message in a channel.
type MessageReceived struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Type      string    `json:"type,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	IsEdited  bool      `json:"isEdited"`
	CreatedAt time.Time `json:"createdAt"`
}

func (MessageReceived) EventName() string { return EventMessageReceived }

// MessageEdited carries the message after an edit.
type MessageEdited struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channelId"`
	AuthorID    string       `json:"authorId"`
	AuthorName  string       `json:"authorName,omitempty"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	EditReason  string       `json:"editReason,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (MessageEdited) EventName() string { return EventMessageEdited }

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

func (MessageDeleted) EventName() string { return EventMessageDeleted }

type ReactionUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

type ReactionSummary struct {
	Emoji       string         `json:"emoji"`
	Count       int            `json:"count"`
	UserReacted bool           `json:"userReacted"`
	Users       []ReactionUser `json:"users,omitempty"`
}

// ReactionChanged carries the aggregated reaction state for one emoji on a message.
type ReactionChanged struct {
	MessageID string          `json:"messageId"`
	Reaction  ReactionSummary `json:"reaction"`
}

func (ReactionChanged) EventName() string { return EventReactionChanged }

type ReactionAdded struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

func (ReactionAdded) EventName() string { return EventReactionAdded }

type ReactionRemoved struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

func (ReactionRemoved) EventName() string { return EventReactionRemoved }

// TypingIndicator is broadcast only. Receivers clear it after ExpiresAt.
type TypingIndicator struct {
	ChannelID string     `json:"channelId"`
	UserID    string     `json:"userId"`
	IsTyping  bool       `json:"isTyping"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (TypingIndicator) EventName() string { return EventTypingIndicator }

type UserStatusChanged struct {
	UserID        string  `json:"userId"`
	Status        Status  `json:"status"`
	StatusMessage *string `json:"statusMessage,omitempty"`
}

func (UserStatusChanged) EventName() string { return EventUserStatusChanged }

type ChannelInfo struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type ChannelCreated struct {
	ChannelInfo
}

func (ChannelCreated) EventName() string { return EventChannelCreated }

type ChannelUpdated struct {
	ChannelInfo
}

func (ChannelUpdated) EventName() string { return EventChannelUpdated }

type UserJoinedChannel struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

func (UserJoinedChannel) EventName() string { return EventUserJoinedChannel }

type UserLeftChannel struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

func (UserLeftChannel) EventName() string { return EventUserLeftChannel }

// UserMessage is an application-defined notification addressed to one user.
type UserMessage struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (UserMessage) EventName() string { return EventUserMessage }

// WorkspaceMessage is an application-defined notification addressed to a workspace.
type WorkspaceMessage struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (WorkspaceMessage) EventName() string { return EventWorkspaceMessage }

type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

func (OnlineUsers) EventName() string { return EventOnlineUsers }

type PresenceSnapshot struct {
	Users map[string]PresenceRecord `json:"users"`
}

func (PresenceSnapshot) EventName() string { return EventPresenceSnapshot }

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return EventError }

type Pong struct{}

func (Pong) EventName() string { return EventPong }

var eventFactories = map[string]func() Event{
	EventMessageReceived:   func() Event { return &MessageReceived{} },
	EventMessageEdited:     func() Event { return &MessageEdited{} },
	EventMessageDeleted:    func() Event { return &MessageDeleted{} },
	EventReactionChanged:   func() Event { return &ReactionChanged{} },
	EventReactionAdded:     func() Event { return &ReactionAdded{} },
	EventReactionRemoved:   func() Event { return &ReactionRemoved{} },
	EventTypingIndicator:   func() Event { return &TypingIndicator{} },
	EventUserStatusChanged: func() Event { return &UserStatusChanged{} },
	EventChannelCreated:    func() Event { return &ChannelCreated{} },
	EventChannelUpdated:    func() Event { return &ChannelUpdated{} },
	EventUserJoinedChannel: func() Event { return &UserJoinedChannel{} },
	EventUserLeftChannel:   func() Event { return &UserLeftChannel{} },
	EventUserMessage:       func() Event { return &UserMessage{} },
	EventWorkspaceMessage:  func() Event { return &WorkspaceMessage{} },
	EventOnlineUsers:       func() Event { return &OnlineUsers{} },
	EventPresenceSnapshot:  func() Event { return &PresenceSnapshot{} },
	EventError:             func() Event { return &ErrorEvent{} },
	EventPong:              func() Event { return &Pong{} },
}

// DecodeEvent decodes a payload for the named event. A missing or null payload is
// ErrNilPayload.
func DecodeEvent(name string, payload json.RawMessage) (Event, error) {
	factory, ok := eventFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, fmt.Errorf("decode %s: %w", name, ErrNilPayload)
	}
	ev := factory()
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return ev, nil
}

// Envelope is the frame written to a WebSocket client.
type Envelope struct {
	Type      string `json:"type"`
	Payload   Event  `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeEvent renders ev as an envelope frame stamped with now.
func EncodeEvent(ev Event, now time.Time) ([]byte, error) {
	if IsNilEvent(ev) {
		return nil, ErrNilPayload
	}
	return json.Marshal(Envelope{
		Type:      ev.EventName(),
		Payload:   ev,
		Timestamp: now.UnixMilli(),
	})
}

// IsNilEvent reports whether ev is nil or a nil pointer.
func IsNilEvent(ev Event) bool {
	if ev == nil {
		return true
	}
	v := reflect.ValueOf(ev)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
