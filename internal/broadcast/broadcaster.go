// Package broadcast implements the in-process pub/sub that fans incident,
// chain, and agent-activity events out to connected SSE clients.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/incidentchain/internal/metrics"
	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// Kind discriminates broadcast events.
type Kind string

const (
	KindIncident Kind = "incident"
	KindChain    Kind = "chain"
	KindActivity Kind = "activity"
)

// Event is one published item. Exactly one payload field is set, matching Kind.
type Event struct {
	Kind     Kind
	Incident *models.Incident
	Chain    *models.ChainEntry
	Activity *models.AgentActivity
}

// Filter is a subscriber's view of the stream. Zero-length sets mean "all".
type Filter struct {
	Severities      []models.Severity
	Statuses        []models.Status
	AgentIDs        []string
	IncludeChain    bool
	IncludeActivity bool
}

// Matches reports whether the event passes the filter.
func (f *Filter) Matches(ev *Event) bool {
	switch ev.Kind {
	case KindIncident:
		if len(f.Severities) > 0 && !containsSeverity(f.Severities, ev.Incident.Severity) {
			return false
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, ev.Incident.Status) {
			return false
		}
		return true
	case KindChain:
		return f.IncludeChain
	case KindActivity:
		if !f.IncludeActivity {
			return false
		}
		if len(f.AgentIDs) > 0 && !containsString(f.AgentIDs, ev.Activity.AgentID) {
			return false
		}
		return true
	}
	return false
}

type subscriber struct {
	ch     chan *Event
	filter *Filter
}

// Broadcaster is the process-wide broadcast set, constructed per process and
// torn down on shutdown. It is deliberately not a module-level variable so it
// stays substitutable with a real message bus.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	bufferSize int
	closed     bool
}

// New creates a broadcaster. bufferSize is the per-subscriber channel depth.
func New(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		subs:       make(map[string]*subscriber),
		bufferSize: bufferSize,
	}
}

// Register adds a subscriber and returns its id and receive channel. The
// channel is closed on Unregister or Close.
func (b *Broadcaster) Register(filter *Filter) (string, <-chan *Event) {
	if filter == nil {
		filter = &Filter{}
	}
	sub := &subscriber{
		ch:     make(chan *Event, b.bufferSize),
		filter: filter,
	}
	id := uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return id, sub.ch
	}
	b.subs[id] = sub
	metrics.SSEConnectionsActive.Set(float64(len(b.subs)))
	return id, sub.ch
}

// Unregister removes a subscriber. Safe to call more than once; broadcasts to
// a removed subscriber are silent no-ops.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
		metrics.SSEConnectionsActive.Set(float64(len(b.subs)))
	}
}

// Publish delivers the event to every subscriber whose filter matches. A slow
// subscriber has its oldest buffered event dropped rather than blocking the
// publisher; the poll path makes delivery at-least-once regardless.
func (b *Broadcaster) Publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				metrics.SSEDroppedTotal.Inc()
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// PublishIncident publishes an incident create/update.
func (b *Broadcaster) PublishIncident(inc *models.Incident) {
	b.Publish(&Event{Kind: KindIncident, Incident: inc})
}

// PublishChain publishes a new chain entry.
func (b *Broadcaster) PublishChain(entry *models.ChainEntry) {
	b.Publish(&Event{Kind: KindChain, Chain: entry})
}

// PublishActivity publishes an agent activity item.
func (b *Broadcaster) PublishActivity(act *models.AgentActivity) {
	b.Publish(&Event{Kind: KindActivity, Activity: act})
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close tears down all subscriptions. Further Register/Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	metrics.SSEConnectionsActive.Set(0)
}

func containsSeverity(list []models.Severity, s models.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []models.Status, s models.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
