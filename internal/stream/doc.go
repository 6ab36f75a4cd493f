// Package stream implements the task-progress relay: a process-wide registry
// of per-task event streams, a publisher that appends ordered lifecycle
// events, and bounded fan-out subscriptions that replay history to
// late-connecting clients.
//
// The producer never blocks on consumers. Each subscription owns an
// independent bounded queue; a subscriber that cannot keep up is closed with
// an overflow signal while the stream and its other subscribers continue.
package stream
