// Package broadcast fans a single event out to every live connection in a group.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/pkg/log"
)

// DefaultSendTimeout bounds a single broadcast when Config.SendTimeout is unset.
const DefaultSendTimeout = 5 * time.Second

// Sender hands an encoded frame to one connection's transport.
// It must not block past ctx and must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, connectionID, event string, frame []byte) error
}

// Members resolves a group to its current connections.
type Members interface {
	MembersOf(group string) []string
}

// Config holds broadcaster configuration.
type Config struct {
	SendTimeout time.Duration
}

// FailedSend is one connection that did not receive the event.
type FailedSend struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason"`
}

// Report aggregates the per-connection outcomes of one broadcast.
type Report struct {
	Group     string       `json:"group"`
	Event     string       `json:"event"`
	Targets   int          `json:"targets"`
	Delivered int          `json:"delivered"`
	Failed    []FailedSend `json:"failed,omitempty"`
}

// Merge adds the outcomes of other to r.
func (r *Report) Merge(other Report) {
	r.Targets += other.Targets
	r.Delivered += other.Delivered
	r.Failed = append(r.Failed, other.Failed...)
}

// Broadcaster resolves groups through Members and delivers through Sender.
type Broadcaster struct {
	members Members
	sender  Sender
	metrics *metrics.Metrics
	config  Config
	now     func() time.Time
}

// New creates a broadcaster. m may be nil.
func New(members Members, sender Sender, m *metrics.Metrics, cfg Config) *Broadcaster {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Broadcaster{
		members: members,
		sender:  sender,
		metrics: m,
		config:  cfg,
		now:     time.Now,
	}
}

// Broadcast delivers ev to every connection in group.
// Partial failure is reported in Report.Failed, never as an error.
func (b *Broadcaster) Broadcast(ctx context.Context, group string, ev domain.Event) (Report, error) {
	return b.BroadcastExcept(ctx, group, ev)
}

// BroadcastExcept delivers ev to every connection in group other than exclude.
func (b *Broadcaster) BroadcastExcept(ctx context.Context, group string, ev domain.Event, exclude ...string) (Report, error) {
	scope, _, err := domain.ParseGroup(group)
	if err != nil {
		return Report{Group: group}, err
	}
	if domain.IsNilEvent(ev) {
		return Report{Group: group}, fmt.Errorf("broadcast to %s: %w", group, domain.ErrNilPayload)
	}

	name := ev.EventName()
	frame, err := domain.EncodeEvent(ev, b.now())
	if err != nil {
		return Report{Group: group, Event: name}, fmt.Errorf("encode %s: %w", name, err)
	}

	targets := filter(b.members.MembersOf(group), exclude)
	report := Report{Group: group, Event: name, Targets: len(targets)}
	if len(targets) == 0 {
		return report, nil
	}

	start := time.Now()
	report.Delivered, report.Failed = b.fanOut(ctx, targets, name, frame)
	b.metrics.ObserveBroadcast(string(scope), name, report.Delivered, len(report.Failed), time.Since(start))

	if len(report.Failed) > 0 {
		l := log.Ctx(ctx)
		l.Warn().
			Str(log.FieldGroup, group).
			Str(log.FieldEvent, name).
			Int("targets", report.Targets).
			Int("failed", len(report.Failed)).
			Msg("broadcast partially failed")
	}

	return report, nil
}

type result struct {
	connectionID string
	err          error
}

// fanOut sends concurrently under one shared deadline. Sends still running at the
// deadline are reported as timed out; their goroutines finish on their own because
// the result channel is buffered.
func (b *Broadcaster) fanOut(ctx context.Context, targets []string, event string, frame []byte) (int, []FailedSend) {
	sendCtx, cancel := context.WithTimeout(ctx, b.config.SendTimeout)
	defer cancel()

	results := make(chan result, len(targets))
	for _, id := range targets {
		go func(id string) {
			defer func() {
				if r := recover(); r != nil {
					results <- result{connectionID: id, err: fmt.Errorf("panic during send: %v", r)}
				}
			}()
			results <- result{connectionID: id, err: b.sender.Send(sendCtx, id, event, frame)}
		}(id)
	}

	pending := make(map[string]struct{}, len(targets))
	for _, id := range targets {
		pending[id] = struct{}{}
	}

	delivered := 0
	var failed []FailedSend
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.connectionID)
			if r.err != nil {
				failed = append(failed, FailedSend{ConnectionID: r.connectionID, Reason: reason(r.err)})
				continue
			}
			delivered++
		case <-sendCtx.Done():
			for id := range pending {
				failed = append(failed, FailedSend{ConnectionID: id, Reason: reason(sendCtx.Err())})
			}
			pending = nil
		}
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].ConnectionID < failed[j].ConnectionID })
	return delivered, failed
}

func reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrUnknownConnection):
		return "unknown connection"
	default:
		return err.Error()
	}
}

func filter(ids []string, exclude []string) []string {
	if len(exclude) == 0 {
		return ids
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
