// Package registry tracks live connections, their owners and their group memberships.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teamhub/realtime-gateway/internal/domain"
)

// Connection is one live transport session.
type Connection struct {
	ID            string
	UserID        string
	EstablishedAt time.Time
}

type entry struct {
	conn   Connection
	groups map[string]struct{}
}

// Registry is the single source of truth for who is connected and in which groups.
// All mutations are serialized by one lock. Reads return copies.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry              // connectionID -> entry
	groups map[string]map[string]struct{} // group -> connectionIDs
	users  map[string]map[string]struct{} // userID -> connectionIDs
	now    func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		groups: make(map[string]map[string]struct{}),
		users:  make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Register adds a connection and places it into its user's group. It returns the
// user's live connection count after the mutation.
func (r *Registry) Register(connectionID, userID string) (int, error) {
	if connectionID == "" || userID == "" {
		return 0, fmt.Errorf("register %q: %w", connectionID, domain.ErrInvalidScope)
	}
	userGroup := domain.UserGroup(userID)
	if err := domain.ValidateGroup(userGroup); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connectionID]; ok {
		return len(r.users[userID]), fmt.Errorf("register %q: %w", connectionID, domain.ErrDuplicateConnection)
	}

	r.conns[connectionID] = &entry{
		conn:   Connection{ID: connectionID, UserID: userID, EstablishedAt: r.now()},
		groups: make(map[string]struct{}),
	}
	addTo(r.users, userID, connectionID)
	r.joinLocked(connectionID, userGroup)

	return len(r.users[userID]), nil
}

// Unregister removes a connection and all of its memberships. It returns the groups
// the connection was in, its owner, and the owner's live connection count afterwards.
func (r *Registry) Unregister(connectionID string) (Connection, []string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, nil, 0, fmt.Errorf("unregister %q: %w", connectionID, domain.ErrUnknownConnection)
	}

	groups := make([]string, 0, len(e.groups))
	for g := range e.groups {
		removeFrom(r.groups, g, connectionID)
		groups = append(groups, g)
	}
	sort.Strings(groups)

	removeFrom(r.users, e.conn.UserID, connectionID)
	delete(r.conns, connectionID)

	return e.conn, groups, len(r.users[e.conn.UserID]), nil
}

// Join adds a connection to a group. Joining a group twice is a no-op.
// It reports whether the connection's user had no other connection in the group.
func (r *Registry) Join(connectionID, group string) (bool, error) {
	if err := domain.ValidateGroup(group); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return false, fmt.Errorf("join %q: %w", connectionID, domain.ErrUnknownConnection)
	}
	if _, member := e.groups[group]; member {
		return false, nil
	}
	first := r.userMembersLocked(e.conn.UserID, group) == 0
	r.joinLocked(connectionID, group)
	return first, nil
}

// Leave removes a connection from a group. It is a no-op for non-members.
// It reports whether the connection's user has no connection left in the group.
func (r *Registry) Leave(connectionID, group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	if _, member := e.groups[group]; !member {
		return false
	}
	delete(e.groups, group)
	removeFrom(r.groups, group, connectionID)
	return r.userMembersLocked(e.conn.UserID, group) == 0
}

// MembersOf returns a snapshot of the connections in a group.
func (r *Registry) MembersOf(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.groups[group])
}

// ConnectionsOf returns a snapshot of a user's connections.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.users[userID])
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Connection returns a registered connection.
func (r *Registry) Connection(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// GroupsOf returns a snapshot of a connection's groups.
func (r *Registry) GroupsOf(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	return keys(e.groups)
}

// UserGroups returns the union of groups joined by any of the user's connections.
func (r *Registry) UserGroups(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for id := range r.users[userID] {
		for g := range r.conns[id].groups {
			set[g] = struct{}{}
		}
	}
	return keys(set)
}

// OnlineUsers returns the users with at least one live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.users)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) joinLocked(connectionID, group string) {
	r.conns[connectionID].groups[group] = struct{}{}
	addTo(r.groups, group, connectionID)
}

func (r *Registry) userMembersLocked(userID, group string) int {
	n := 0
	for id := range r.users[userID] {
		if _, ok := r.conns[id].groups[group]; ok {
			n++
		}
	}
	return n
}

func addTo(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
