// Package events publishes capture session lifecycle events to a message
// broker.
//
// The Notifier is a triggercapture.Observer. Observer callbacks run on the
// capture goroutine, so events are queued and published from a separate
// goroutine; when the queue is full new events are dropped and counted.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
)

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Event types, also the last topic segment.
const (
	TypeState   = "state"
	TypeTrigger = "trigger"
	TypeFrame   = "frame"
	TypeReopen  = "reopen"
)

// Event is the JSON payload of every published message.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Trigger string `json:"trigger,omitempty"`

	Seq            uint64 `json:"seq,omitempty"`
	Index          int    `json:"index,omitempty"`
	DeviceSequence uint32 `json:"device_sequence,omitempty"`
	IntervalMS     int64  `json:"interval_ms,omitempty"`
	Bytes          int    `json:"bytes,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`

	ReopenOK    *bool  `json:"reopen_ok,omitempty"`
	ReopenError string `json:"reopen_error,omitempty"`
}

// NotifierStats are the Notifier counters.
type NotifierStats struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// Notifier queues session events and publishes them as JSON to
// <prefix>/<type>.
type Notifier struct {
	pub       Publisher
	prefix    string
	sessionID string
	log       *slog.Logger
	now       func() time.Time

	queue chan Event
	done  chan struct{}
	once  sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

var _ triggercapture.Observer = (*Notifier)(nil)

// NewNotifier starts the publishing goroutine. queueSize <= 0 uses 64.
// Close must be called to drain the queue.
func NewNotifier(pub Publisher, prefix, sessionID string, queueSize int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	n := &Notifier{
		pub:       pub,
		prefix:    prefix,
		sessionID: sessionID,
		log:       logger,
		now:       time.Now,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		topic := fmt.Sprintf("%s/%s", n.prefix, ev.Type)
		payload, err := json.Marshal(ev)
		if err != nil {
			n.errors.Add(1)
			n.log.Warn("events: marshal failed", "type", ev.Type, "error", err)
			continue
		}
		if err := n.pub.Publish(topic, payload); err != nil {
			n.errors.Add(1)
			n.log.Debug("events: publish failed", "topic", topic, "error", err)
			continue
		}
		n.published.Add(1)
	}
}

func (n *Notifier) enqueue(ev Event) {
	ev.SessionID = n.sessionID
	ev.Time = n.now()
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
	}
}

func (n *Notifier) StateChanged(from, to triggercapture.State) {
	n.enqueue(Event{Type: TypeState, From: from.String(), To: to.String()})
}

func (n *Notifier) TriggerFired(kind triggercapture.TriggerKind) {
	n.enqueue(Event{Type: TypeTrigger, Trigger: kind.String()})
}

func (n *Notifier) FrameCaptured(f triggercapture.Frame) {
	n.enqueue(Event{
		Type:           TypeFrame,
		Seq:            f.Seq,
		Index:          f.Index,
		DeviceSequence: f.DeviceSequence,
		IntervalMS:     f.Interval.Milliseconds(),
		Bytes:          len(f.Data),
		TraceID:        f.TraceID,
	})
}

// DequeueRetried is not published.
func (n *Notifier) DequeueRetried() {}

func (n *Notifier) ReopenVerified(r triggercapture.ReopenResult) {
	ok := r.OK()
	ev := Event{Type: TypeReopen, ReopenOK: &ok}
	if r.Err != nil {
		ev.ReopenError = r.Err.Error()
	}
	n.enqueue(ev)
}

// Close stops accepting events and waits until queued ones are published.
// Observer calls after Close panic.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.queue) })
	<-n.done
}

// Stats returns the notifier counters.
func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Published: n.published.Load(),
		Dropped:   n.dropped.Load(),
		Errors:    n.errors.Load(),
	}
}
