package stream

import (
	"encoding/json"
	"time"
)

// Kind denotes the lifecycle milestone carried by an Event.
type Kind string

// Supported progress event kinds.
const (
	KindStarted   Kind = "started"
	KindStep      Kind = "step"
	KindWarning   Kind = "warning"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Terminal reports whether the kind ends its stream.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is one progress record for a task. Sequence numbers are assigned by
// the publisher, start at 1, and are strictly increasing with no gaps.
type Event struct {
	TaskID    string          `json:"-"`
	Sequence  uint64          `json:"sequence"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// CloseReason identifies why a subscription (or its stream) ended.
type CloseReason string

// Subscription close reasons. All except ReasonDetached are surfaced to the
// client as the connection's terminal record.
const (
	ReasonCompleted         CloseReason = "completed"
	ReasonFailed            CloseReason = "failed"
	ReasonTimeout           CloseReason = "timeout"
	ReasonOverflow          CloseReason = "overflow"
	ReasonBrokerUnavailable CloseReason = "broker_unavailable"
	ReasonDetached          CloseReason = "detached"
)
