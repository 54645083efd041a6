package domain

import (
	"fmt"
	"strings"
)

// Scope is the kind of a broadcast group.
type Scope string

const (
	ScopeChannel   Scope = "channel"
	ScopeWorkspace Scope = "workspace"
	ScopeUser      Scope = "user"
)

// ParseScope parses a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeChannel, ScopeWorkspace, ScopeUser:
		return sc, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, s)
}

// Group builds the group id "{scope}:{id}".
func (s Scope) Group(id string) string {
	return string(s) + ":" + id
}

func ChannelGroup(channelID string) string     { return ScopeChannel.Group(channelID) }
func WorkspaceGroup(workspaceID string) string { return ScopeWorkspace.Group(workspaceID) }
func UserGroup(userID string) string           { return ScopeUser.Group(userID) }

// ParseGroup splits a group id into its scope and target id.
func ParseGroup(group string) (Scope, string, error) {
	prefix, id, ok := strings.Cut(group, ":")
	if !ok || id == "" || strings.ContainsAny(id, ": \t\r\n") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidScope, group)
	}
	scope, err := ParseScope(prefix)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidScope, group)
	}
	return scope, id, nil
}

// ValidateGroup returns ErrInvalidScope for a malformed group id.
func ValidateGroup(group string) error {
	_, _, err := ParseGroup(group)
	return err
}
