// Package presence derives per-user status from live connections and manual overrides.
package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/internal/store"
	"github.com/teamhub/realtime-gateway/pkg/log"
)

// Config holds presence tracker configuration.
type Config struct {
	// OfflineGracePeriod delays the Offline transition after the last connection
	// closes. Zero marks the user offline immediately.
	OfflineGracePeriod time.Duration
	// StoreTimeout bounds each StatusStore call.
	StoreTimeout time.Duration
}

// Broadcaster delivers presence events.
type Broadcaster interface {
	Broadcast(ctx context.Context, group string, ev domain.Event) (broadcast.Report, error)
	BroadcastExcept(ctx context.Context, group string, ev domain.Event, exclude ...string) (broadcast.Report, error)
}

// Connections exposes the registry state the tracker derives presence from.
type Connections interface {
	ConnectionCount(userID string) int
	ConnectionsOf(userID string) []string
	UserGroups(userID string) []string
	OnlineUsers() []string
}

type userState struct {
	derived   domain.Status // StatusOnline or StatusOffline
	override  domain.Status // empty when the status is derived
	message   *string
	expiresAt *time.Time
	lastSeen  time.Time
	live      int

	offlineTimer *time.Timer
	expiryTimer  *time.Timer
	// timer generations invalidate callbacks that fired after being superseded
	offlineGen uint64
	expiryGen  uint64

	// workspace groups of connections closed since the user last came online
	lastAudience []string

	pending  []change
	draining bool
}

func (s *userState) effective() domain.Status {
	if s.override != "" {
		return s.override
	}
	return s.derived
}

func (s *userState) record(userID string) domain.PresenceRecord {
	rec := domain.PresenceRecord{
		UserID:      userID,
		Status:      s.effective(),
		LastSeenAt:  s.lastSeen,
		Connections: s.live,
	}
	if rec.Status != domain.StatusOffline {
		rec.StatusMessage = copyString(s.message)
		rec.StatusExpiresAt = copyTime(s.expiresAt)
	}
	return rec
}

// change is one queued side effect for a user: persistence and optionally a broadcast.
type change struct {
	rec  domain.PresenceRecord
	emit bool
	// override is set when the manual status changed and must be written to the store.
	// Connection changes only record the last-seen time, so an override set through
	// another instance sharing the store is kept.
	override bool
	audience []string
	exclude  []string
}

// Tracker aggregates connection events into per-user presence and broadcasts transitions.
//
// Changes for one user are applied under the tracker lock and their side effects are
// queued per user, so broadcasts for a user go out in the order the changes happened.
type Tracker struct {
	conns       Connections
	broadcaster Broadcaster
	store       store.StatusStore
	metrics     *metrics.Metrics
	config      Config

	mu      sync.Mutex
	users   map[string]*userState
	stopped bool
	now     func() time.Time
}

// NewTracker creates a presence tracker. st and m may be nil.
func NewTracker(conns Connections, b Broadcaster, st store.StatusStore, m *metrics.Metrics, cfg Config) *Tracker {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Tracker{
		conns:       conns,
		broadcaster: b,
		store:       st,
		metrics:     m,
		config:      cfg,
		users:       make(map[string]*userState),
		now:         time.Now,
	}
}

// OnConnectionAdded reconciles a user's presence after one of their connections was registered.
// The first live connection turns a derived Offline into Online; manual overrides are kept.
func (t *Tracker) OnConnectionAdded(ctx context.Context, userID string) {
	t.load(ctx, userID)

	t.mu.Lock()
	st := t.stateLocked(userID)
	st.live = t.conns.ConnectionCount(userID)
	if st.live == 0 {
		t.mu.Unlock()
		return
	}

	// A pending grace timer means the user never went offline. The connections that
	// closed before the reconnect are no longer part of the Offline audience.
	if st.offlineTimer != nil {
		st.lastAudience = nil
	}
	t.cancelOfflineLocked(st)

	var c *change
	if st.derived != domain.StatusOnline {
		before := st.effective()
		st.derived = domain.StatusOnline
		st.lastAudience = nil
		c = t.changeLocked(userID, st, st.effective() != before)
	}
	drain := t.enqueueLocked(st, c)
	t.mu.Unlock()

	if drain {
		t.drain(ctx, userID)
	}
}

// OnConnectionRemoved reconciles a user's presence after one of their connections was
// unregistered. groups are the groups that connection was in.
func (t *Tracker) OnConnectionRemoved(ctx context.Context, userID string, groups []string) {
	t.load(ctx, userID)

	t.mu.Lock()
	st := t.stateLocked(userID)
	st.live = t.conns.ConnectionCount(userID)
	st.lastAudience = mergeAudience(st.lastAudience, groups)
	if st.live > 0 {
		t.mu.Unlock()
		return
	}

	st.lastSeen = t.now()

	var c *change
	switch {
	case st.derived != domain.StatusOnline:
		c = t.changeLocked(userID, st, false)
	case t.config.OfflineGracePeriod > 0 && !t.stopped:
		t.startOfflineLocked(userID, st)
		c = t.changeLocked(userID, st, false)
	default:
		before := st.effective()
		st.derived = domain.StatusOffline
		c = t.changeLocked(userID, st, st.effective() != before)
	}
	drain := t.enqueueLocked(st, c)
	t.mu.Unlock()

	if drain {
		t.drain(ctx, userID)
	}
}

// SetManualStatus sets or clears a user's status override and always broadcasts the result.
// Online clears the override. Offline cannot be set manually.
func (t *Tracker) SetManualStatus(ctx context.Context, userID string, status domain.Status, message *string, expiresAt *time.Time) (domain.PresenceRecord, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return domain.PresenceRecord{}, err
	}
	if status == domain.StatusOffline {
		return domain.PresenceRecord{}, fmt.Errorf("%w: offline is derived from connections", domain.ErrInvalidStatus)
	}
	if expiresAt != nil && !expiresAt.After(t.now()) {
		return domain.PresenceRecord{}, fmt.Errorf("%w: expiry %s is in the past", domain.ErrInvalidStatus, expiresAt.Format(time.RFC3339))
	}
	if message != nil && strings.TrimSpace(*message) == "" {
		message = nil
	}

	t.load(ctx, userID)

	t.mu.Lock()
	st := t.stateLocked(userID)
	st.live = t.conns.ConnectionCount(userID)
	if st.live > 0 {
		st.derived = domain.StatusOnline
	}

	t.cancelExpiryLocked(st)
	if status == domain.StatusOnline {
		st.override = ""
	} else {
		st.override = status
	}
	st.message = copyString(message)
	st.expiresAt = copyTime(expiresAt)
	if expiresAt != nil && !t.stopped {
		t.startExpiryLocked(userID, st, expiresAt.Sub(t.now()))
	}

	c := t.changeLocked(userID, st, true)
	c.override = true
	rec := c.rec
	drain := t.enqueueLocked(st, c)
	t.mu.Unlock()

	if drain {
		t.drain(ctx, userID)
	}
	return rec, nil
}

// Get returns the presence of each user as seen by viewerID.
// An empty viewerID is an anonymous caller and always sees the public view.
func (t *Tracker) Get(ctx context.Context, userIDs []string, viewerID string) map[string]domain.PresenceRecord {
	out := make(map[string]domain.PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		t.load(ctx, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		st, ok := t.users[id]
		if !ok {
			out[id] = domain.PresenceRecord{UserID: id, Status: domain.StatusOffline}
			continue
		}
		rec := st.record(id)
		if viewerID != id {
			rec = rec.Masked()
		}
		out[id] = rec
	}
	return out
}

// OnlineUsers returns the users with a live connection that viewerID may see as online.
func (t *Tracker) OnlineUsers(viewerID string) []string {
	ids := t.conns.OnlineUsers()

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if st, ok := t.users[id]; ok && st.effective() == domain.StatusInvisible && id != viewerID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Stop cancels all pending grace and expiry timers.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, st := range t.users {
		t.cancelOfflineLocked(st)
		t.cancelExpiryLocked(st)
	}
}

func (t *Tracker) stateLocked(userID string) *userState {
	st, ok := t.users[userID]
	if !ok {
		st = &userState{derived: domain.StatusOffline}
		t.users[userID] = st
	}
	return st
}

// load fetches a user's stored record the first time the user is seen.
// Users without a stored record are not inserted.
func (t *Tracker) load(ctx context.Context, userID string) {
	t.mu.Lock()
	_, known := t.users[userID]
	t.mu.Unlock()
	if known {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, t.config.StoreTimeout)
	defer cancel()
	rec, err := t.store.Load(sctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to load stored presence")
		return
	}
	if rec == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.users[userID]; known {
		return
	}
	st := &userState{derived: domain.StatusOffline, lastSeen: rec.LastSeenAt}
	now := t.now()
	if rec.Status.IsOverride() && (rec.StatusExpiresAt == nil || rec.StatusExpiresAt.After(now)) {
		st.override = rec.Status
		st.message = copyString(rec.StatusMessage)
		st.expiresAt = copyTime(rec.StatusExpiresAt)
		if st.expiresAt != nil && !t.stopped {
			t.startExpiryLocked(userID, st, st.expiresAt.Sub(now))
		}
	}
	t.users[userID] = st
}

func (t *Tracker) changeLocked(userID string, st *userState, emit bool) *change {
	c := &change{rec: st.record(userID), emit: emit}
	if emit {
		c.audience = t.audienceLocked(userID, st)
		c.exclude = t.conns.ConnectionsOf(userID)
	}
	return c
}

// audienceLocked returns the workspace groups that should see the user's status.
func (t *Tracker) audienceLocked(userID string, st *userState) []string {
	if st.live == 0 {
		return append([]string(nil), st.lastAudience...)
	}
	return mergeAudience(nil, t.conns.UserGroups(userID))
}

// enqueueLocked queues c and reports whether the caller must drain the queue.
func (t *Tracker) enqueueLocked(st *userState, c *change) bool {
	if c == nil {
		return false
	}
	st.pending = append(st.pending, *c)
	if st.draining {
		return false
	}
	st.draining = true
	return true
}

// drain applies queued changes for a user in order, outside the tracker lock.
func (t *Tracker) drain(ctx context.Context, userID string) {
	for {
		t.mu.Lock()
		st := t.users[userID]
		if st == nil || len(st.pending) == 0 {
			if st != nil {
				st.draining = false
			}
			t.mu.Unlock()
			return
		}
		c := st.pending[0]
		st.pending = st.pending[1:]
		t.mu.Unlock()

		t.apply(ctx, c)
	}
}

func (t *Tracker) apply(ctx context.Context, c change) {
	l := log.Ctx(ctx)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.config.StoreTimeout)
	var err error
	switch {
	case c.override:
		err = t.store.SaveStatus(sctx, c.rec)
	case !c.rec.LastSeenAt.IsZero():
		err = t.store.Touch(sctx, c.rec.UserID, c.rec.LastSeenAt)
	}
	if err != nil {
		l.Warn().Err(err).Str(log.FieldUserID, c.rec.UserID).Msg("failed to persist presence")
	}
	cancel()

	if !c.emit || t.broadcaster == nil {
		return
	}

	t.metrics.PresenceChanged(string(c.rec.Status))
	l.Debug().Str(log.FieldUserID, c.rec.UserID).Str("status", string(c.rec.Status)).Msg("presence changed")

	own := domain.UserStatusChanged{UserID: c.rec.UserID, Status: c.rec.Status, StatusMessage: c.rec.StatusMessage}
	if _, err := t.broadcaster.Broadcast(ctx, domain.UserGroup(c.rec.UserID), own); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, c.rec.UserID).Msg("failed to broadcast presence to user")
	}

	masked := c.rec.Masked()
	public := domain.UserStatusChanged{UserID: masked.UserID, Status: masked.Status, StatusMessage: masked.StatusMessage}
	for _, g := range c.audience {
		if _, err := t.broadcaster.BroadcastExcept(ctx, g, public, c.exclude...); err != nil {
			l.Error().Err(err).Str(log.FieldGroup, g).Msg("failed to broadcast presence")
		}
	}
}

func (t *Tracker) startOfflineLocked(userID string, st *userState) {
	t.cancelOfflineLocked(st)
	gen := st.offlineGen
	st.offlineTimer = time.AfterFunc(t.config.OfflineGracePeriod, func() {
		t.settleOffline(userID, gen)
	})
}

func (t *Tracker) cancelOfflineLocked(st *userState) {
	st.offlineGen++
	if st.offlineTimer != nil {
		st.offlineTimer.Stop()
		st.offlineTimer = nil
	}
}

// settleOffline runs when the grace period elapsed without a reconnect.
func (t *Tracker) settleOffline(userID string, gen uint64) {
	ctx := context.Background()

	t.mu.Lock()
	st, ok := t.users[userID]
	if !ok || st.offlineGen != gen || t.stopped {
		t.mu.Unlock()
		return
	}
	st.offlineTimer = nil
	st.live = t.conns.ConnectionCount(userID)
	if st.live > 0 || st.derived == domain.StatusOffline {
		t.mu.Unlock()
		return
	}
	before := st.effective()
	st.derived = domain.StatusOffline
	drain := t.enqueueLocked(st, t.changeLocked(userID, st, st.effective() != before))
	t.mu.Unlock()

	if drain {
		t.drain(ctx, userID)
	}
}

func (t *Tracker) startExpiryLocked(userID string, st *userState, after time.Duration) {
	gen := st.expiryGen
	st.expiryTimer = time.AfterFunc(after, func() {
		t.expireOverride(userID, gen)
	})
}

func (t *Tracker) cancelExpiryLocked(st *userState) {
	st.expiryGen++
	if st.expiryTimer != nil {
		st.expiryTimer.Stop()
		st.expiryTimer = nil
	}
}

// expireOverride clears an override whose expiry passed and broadcasts the derived status.
func (t *Tracker) expireOverride(userID string, gen uint64) {
	ctx := context.Background()

	t.mu.Lock()
	st, ok := t.users[userID]
	if !ok || st.expiryGen != gen || t.stopped {
		t.mu.Unlock()
		return
	}
	st.expiryTimer = nil
	st.override = ""
	st.message = nil
	st.expiresAt = nil
	st.live = t.conns.ConnectionCount(userID)
	c := t.changeLocked(userID, st, true)
	c.override = true
	drain := t.enqueueLocked(st, c)
	t.mu.Unlock()

	if drain {
		t.drain(ctx, userID)
	}
}

// mergeAudience appends the workspace groups of groups to dst, deduplicated and sorted.
func mergeAudience(dst []string, groups []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(groups))
	for _, g := range dst {
		seen[g] = struct{}{}
	}
	for _, g := range groups {
		if scope, _, err := domain.ParseGroup(g); err != nil || scope != domain.ScopeWorkspace {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		dst = append(dst, g)
	}
	sort.Strings(dst)
	return dst
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
