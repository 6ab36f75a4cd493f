package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/scamwatch-io/scamwatch/internal/telemetry"
)

// Stream is the append-only event log for one task id plus its fan-out set.
// All mutation is serialized by the stream mutex; subscribers never block a
// publish because fan-out sends are non-blocking.
type Stream struct {
	taskID string

	mu             sync.Mutex
	log            []Event
	terminal       bool
	endReason      CloseReason
	subs           map[uint64]*Subscription
	nextSubID      uint64
	lastEvent      time.Time
	terminalAt     time.Time
	everSubscribed bool
}

func newStream(taskID string, now time.Time) *Stream {
	return &Stream{
		taskID:    taskID,
		subs:      make(map[uint64]*Subscription),
		lastEvent: now,
	}
}

// TaskID returns the task identifier the stream is bound to.
func (s *Stream) TaskID() string {
	return s.taskID
}

// Terminal reports whether a terminal event has been recorded.
func (s *Stream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Events returns a snapshot of the recorded log.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.log...)
}

// append records the next event and pushes it to every live subscription.
// A subscription whose queue is full is closed with an overflow signal; the
// remaining subscriptions are unaffected.
func (s *Stream) append(kind Kind, payload json.RawMessage, now time.Time) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		if s.endReason == ReasonBrokerUnavailable {
			return Event{}, ErrUnavailable
		}
		return Event{}, ErrAlreadyTerminal
	}
	evt := Event{
		TaskID:    s.taskID,
		Sequence:  uint64(len(s.log)) + 1,
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	}
	s.log = append(s.log, evt)
	s.lastEvent = now

	for id, sub := range s.subs {
		select {
		case sub.ch <- evt:
		default:
			delete(s.subs, id)
			sub.close(ReasonOverflow)
		}
	}

	if kind.Terminal() {
		reason := ReasonCompleted
		if kind == KindFailed {
			reason = ReasonFailed
		}
		s.markTerminalLocked(reason, now)
	}
	return evt, nil
}

// Subscribe attaches a new bounded subscription and returns the buffered
// prefix for replay-from-start. Events published after the call flow through
// the subscription's channel, so the caller observes the full sequence with
// no gaps or duplicates. Subscribing to an already-terminal stream returns
// the complete log and a subscription that is closed immediately.
func (s *Stream) Subscribe(buffer int) ([]Event, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replay := append([]Event(nil), s.log...)
	sub := &Subscription{
		id:     s.nextSubID,
		stream: s,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	s.nextSubID++
	s.everSubscribed = true
	telemetry.IncSubscriptions()
	if s.terminal {
		sub.close(s.endReason)
		return replay, sub
	}
	s.subs[sub.id] = sub
	return replay, sub
}

// fail force-terminates the stream, detaching every subscriber with the
// given reason. Used for broker outages and process shutdown.
func (s *Stream) fail(reason CloseReason, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		// Already ended normally; still detach any lingering subscribers.
		for id, sub := range s.subs {
			delete(s.subs, id)
			sub.close(reason)
		}
		return
	}
	s.markTerminalLocked(reason, now)
}

func (s *Stream) markTerminalLocked(reason CloseReason, now time.Time) {
	s.terminal = true
	s.endReason = reason
	s.terminalAt = now
	for id, sub := range s.subs {
		delete(s.subs, id)
		sub.close(reason)
	}
}

func (s *Stream) detach(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.close(ReasonDetached)
}

func (s *Stream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscription is one client's live tail of a stream. It owns a bounded
// event queue independent of every other subscription.
type Subscription struct {
	id     uint64
	stream *Stream
	ch     chan Event

	closeOnce sync.Once
	reason    CloseReason
	done      chan struct{}
}

// Events returns the live event queue. The channel is never closed; callers
// must select on Done as well.
func (sub *Subscription) Events() <-chan Event {
	return sub.ch
}

// Done is closed once the subscription ends. Reason is valid afterwards.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Reason reports why the subscription ended. Only meaningful after Done.
func (sub *Subscription) Reason() CloseReason {
	return sub.reason
}

// Cancel detaches the subscription from its stream. Safe to call multiple
// times and after the subscription has already ended.
func (sub *Subscription) Cancel() {
	sub.stream.detach(sub)
}

func (sub *Subscription) close(reason CloseReason) {
	sub.closeOnce.Do(func() {
		sub.reason = reason
		close(sub.done)
		telemetry.DecSubscriptions(string(reason))
	})
}
