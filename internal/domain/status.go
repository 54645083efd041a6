package domain

import (
	"fmt"
	"time"
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline       Status = "online"
	StatusAway         Status = "away"
	StatusBusy         Status = "busy"
	StatusDoNotDisturb Status = "do_not_disturb"
	StatusOffline      Status = "offline"
	StatusInvisible    Status = "invisible"
)

// ParseStatus parses a wire status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOnline, StatusAway, StatusBusy, StatusDoNotDisturb, StatusOffline, StatusInvisible:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// MaxStatusTTL is the longest expiry a manual status may be given.
const MaxStatusTTL = 365 * 24 * time.Hour

// StatusTTL converts a client supplied expiry in seconds. Zero means no expiry.
func StatusTTL(seconds int64) (time.Duration, error) {
	if seconds < 0 || seconds > int64(MaxStatusTTL/time.Second) {
		return 0, fmt.Errorf("%w: expiry must be between 0 and %d seconds", ErrInvalidStatus, int64(MaxStatusTTL/time.Second))
	}
	return time.Duration(seconds) * time.Second, nil
}

// IsOverride reports whether s is a manual override that survives connection changes.
func (s Status) IsOverride() bool {
	switch s {
	case StatusAway, StatusBusy, StatusDoNotDisturb, StatusInvisible:
		return true
	}
	return false
}

// Public returns the status shown to other users. Invisible users appear offline.
func (s Status) Public() Status {
	if s == StatusInvisible {
		return StatusOffline
	}
	return s
}

// PresenceRecord is a user's presence as seen by a viewer.
type PresenceRecord struct {
	UserID          string     `json:"userId"`
	Status          Status     `json:"status"`
	StatusMessage   *string    `json:"statusMessage,omitempty"`
	StatusExpiresAt *time.Time `json:"statusExpiresAt,omitempty"`
	LastSeenAt      time.Time  `json:"lastSeenAt"`
	Connections     int        `json:"connections"`
}

// Masked returns the record as shown to other users.
func (r PresenceRecord) Masked() PresenceRecord {
	if r.Status != StatusInvisible {
		return r
	}
	return PresenceRecord{
		UserID:     r.UserID,
		Status:     StatusOffline,
		LastSeenAt: r.LastSeenAt,
	}
}
