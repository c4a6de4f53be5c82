// Package events records raffle notifications (entries, draw requests,
// winners, coordinator fulfilments) in a bounded, sequenced journal and fans
// them out to subscribers such as the round archiver and the Redis publisher.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a notification.
type EventType string

const (
	// Raffle engine notifications
	EventEntered       EventType = "raffle.entered"
	EventDrawRequested EventType = "raffle.draw_requested"
	EventWinnerPicked  EventType = "raffle.winner_picked"
	EventPayoutFailed  EventType = "raffle.payout_failed"

	// Randomness coordinator notifications
	EventRandomnessRequested EventType = "vrf.requested"
	EventRandomnessFulfilled EventType = "vrf.fulfilled"
	EventFulfillFailed       EventType = "vrf.fulfill_failed"

	// Keeper notifications
	EventUpkeepPerformed EventType = "keeper.upkeep_performed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single notification. Seq is assigned by the journal and grows by
// one per logged event.
type Event struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Component   string `json:"component,omitempty"` // raffle|vrf|keeper
	Round       int64  `json:"round,omitempty"`
	Participant string `json:"participant,omitempty"`
	RequestID   uint64 `json:"request_id,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Payload carries the typed value behind the notification, e.g. the
	// round result of a winner-picked event. It is not serialized.
	Payload any `json:"-"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// Journal keeps the last capacity events, indexed by sequence number, and
// delivers every logged event to its subscribers in subscription order.
// Handlers run on the logging goroutine after the journal lock is released.
type Journal struct {
	mu       sync.RWMutex
	slots    []Event
	last     uint64
	subs     map[uint64]subscription
	nextSub  uint64
	capacity uint64
}

type subscription struct {
	filter  EventFilter
	handler EventHandler
}

// NewJournal creates a journal holding up to capacity events (1000 when
// capacity is not positive).
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Journal{
		slots:    make([]Event, capacity),
		subs:     make(map[uint64]subscription),
		capacity: uint64(capacity),
	}
}

func (j *Journal) slot(seq uint64) *Event {
	return &j.slots[(seq-1)%j.capacity]
}

// oldest is the lowest sequence number still held. Callers hold j.mu.
func (j *Journal) oldest() uint64 {
	if j.last <= j.capacity {
		return 1
	}
	return j.last - j.capacity + 1
}

// Log stamps the event with the next sequence number, filling in id,
// timestamp and severity when unset, and notifies subscribers.
func (j *Journal) Log(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	j.mu.Lock()
	j.last++
	e.Seq = j.last
	*j.slot(e.Seq) = e
	targets := j.subscribersLocked()
	j.mu.Unlock()

	for _, s := range targets {
		if s.filter == nil || s.filter(e) {
			s.handler(e)
		}
	}
}

func (j *Journal) subscribersLocked() []subscription {
	if len(j.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(j.subs))
	for id := range j.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	out := make([]subscription, len(ids))
	for i, id := range ids {
		out[i] = j.subs[id]
	}
	return out
}

// Subscribe registers a handler for all events.
func (j *Journal) Subscribe(handler EventHandler) func() {
	return j.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler for events accepted by filter and
// returns its unsubscribe function. Unsubscribing twice is harmless.
func (j *Journal) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	j.mu.Lock()
	j.nextSub++
	id := j.nextSub
	j.subs[id] = subscription{filter: filter, handler: handler}
	j.mu.Unlock()

	return func() {
		j.mu.Lock()
		delete(j.subs, id)
		j.mu.Unlock()
	}
}

// Recent returns up to n events, newest first.
func (j *Journal) Recent(n int) []Event {
	return j.collect(n, nil)
}

// RecentByType returns up to n events of type t, newest first.
func (j *Journal) RecentByType(t EventType, n int) []Event {
	return j.collect(n, func(e Event) bool { return e.Type == t })
}

func (j *Journal) collect(n int, keep EventFilter) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n <= 0 || j.last == 0 {
		return nil
	}
	var out []Event
	for seq := j.last; seq >= j.oldest() && len(out) < n; seq-- {
		e := *j.slot(seq)
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Since returns up to limit events with a sequence number above after,
// oldest first. Events already evicted are skipped, so a reader that falls
// behind sees a gap in Seq rather than an error.
func (j *Journal) Since(after uint64, limit int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || after >= j.last {
		return nil
	}
	from := after + 1
	if o := j.oldest(); from < o {
		from = o
	}
	var out []Event
	for seq := from; seq <= j.last && len(out) < limit; seq++ {
		out = append(out, *j.slot(seq))
	}
	return out
}

// LastSeq returns the sequence number of the newest event, 0 when empty.
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// Count returns the number of events held.
func (j *Journal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == 0 {
		return 0
	}
	return int(j.last - j.oldest() + 1)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Log(Event) {}

// EventBuilder assembles an event field by field.
type EventBuilder struct {
	e Event
}

// NewEvent starts an info-level event of type t stamped with the current time.
func NewEvent(t EventType) *EventBuilder {
	return &EventBuilder{e: Event{Type: t, Severity: SeverityInfo, Timestamp: time.Now().UTC()}}
}

func (b *EventBuilder) Component(name string) *EventBuilder {
	b.e.Component = name
	return b
}

func (b *EventBuilder) Round(number int64) *EventBuilder {
	b.e.Round = number
	return b
}

// Participant sets the participant address in hex.
func (b *EventBuilder) Participant(hex string) *EventBuilder {
	b.e.Participant = hex
	return b
}

func (b *EventBuilder) RequestID(id uint64) *EventBuilder {
	b.e.RequestID = id
	return b
}

// At overrides the timestamp, typically with the engine clock.
func (b *EventBuilder) At(ts time.Time) *EventBuilder {
	b.e.Timestamp = ts.UTC()
	return b
}

func (b *EventBuilder) Severity(s Severity) *EventBuilder {
	b.e.Severity = s
	return b
}

func (b *EventBuilder) Message(text string) *EventBuilder {
	b.e.Message = text
	return b
}

// ErrorFrom records err and raises the severity to error. A nil err is ignored.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err == nil {
		return b
	}
	b.e.Error = err.Error()
	b.e.Severity = SeverityError
	return b
}

func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.e.Metadata == nil {
		b.e.Metadata = map[string]string{}
	}
	b.e.Metadata[key] = value
	return b
}

func (b *EventBuilder) Payload(v any) *EventBuilder {
	b.e.Payload = v
	return b
}

// Build returns the event, assigning an id if none was set.
func (b *EventBuilder) Build() Event {
	if b.e.ID == "" {
		b.e.ID = uuid.NewString()
	}
	return b.e
}

// LogTo builds the event and logs it to sink.
func (b *EventBuilder) LogTo(sink interface{ Log(Event) }) {
	sink.Log(b.Build())
}
