package domain

import "errors"

var (
	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrUnknownConnection is returned for operations on a connection that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrInvalidScope is returned for a malformed group id.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrNilPayload is returned when a broadcast is requested without an event.
	ErrNilPayload = errors.New("nil payload")
	// ErrInvalidStatus is returned for a status that cannot be set manually.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrUnknownEvent is returned when decoding an event name outside the known set.
	ErrUnknownEvent = errors.New("unknown event")
)
