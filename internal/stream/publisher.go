package stream

import (
	"encoding/json"
	"fmt"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/telemetry"
)

// Publisher appends ordered progress events to exactly one task's stream.
// It assigns sequence numbers, never blocks on subscribers, and rejects
// publishes after a terminal event.
type Publisher struct {
	stream *Stream
	clock  scamcheck.Clock
}

// NewPublisher binds a publisher to the given stream.
func NewPublisher(st *Stream, clock scamcheck.Clock) *Publisher {
	return &Publisher{stream: st, clock: clock}
}

// TaskID returns the bound task identifier.
func (p *Publisher) TaskID() string {
	return p.stream.TaskID()
}

// Publish appends an event with the next sequence number and pushes it to all
// current subscribers. Returns ErrAlreadyTerminal once the stream has ended.
func (p *Publisher) Publish(kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if _, err := p.stream.append(kind, raw, p.clock.Now()); err != nil {
		return err
	}
	telemetry.ObserveProgressEvent(string(kind))
	return nil
}

// Started publishes the initial lifecycle event.
func (p *Publisher) Started(payload any) error {
	return p.Publish(KindStarted, payload)
}

// Step publishes an intermediate progress event.
func (p *Publisher) Step(payload any) error {
	return p.Publish(KindStep, payload)
}

// Warning publishes a non-fatal degradation notice.
func (p *Publisher) Warning(payload any) error {
	return p.Publish(KindWarning, payload)
}

// Complete publishes the terminal success event and marks the stream terminal.
func (p *Publisher) Complete(payload any) error {
	return p.Publish(KindCompleted, payload)
}

// Fail publishes the terminal failure event carrying the error detail.
func (p *Publisher) Fail(cause error) error {
	detail := map[string]string{"error": "unknown"}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	return p.Publish(KindFailed, detail)
}
