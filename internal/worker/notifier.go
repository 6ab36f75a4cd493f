package worker

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/stream"
)

// Notifier mirrors terminal verdicts to the notification topic and tracks
// broker health for the whole worker pool. After FailureThreshold consecutive
// publish failures it trips the stream registry into its unavailable state; a
// later success clears it.
type Notifier struct {
	publisher scamcheck.Publisher
	registry  *stream.Registry
	topic     string
	threshold int32
	failures  atomic.Int32
	logger    *zap.Logger
}

const defaultFailureThreshold = 3

// NewNotifier constructs a Notifier shared by all workers.
func NewNotifier(publisher scamcheck.Publisher, registry *stream.Registry, topic string, threshold int, logger *zap.Logger) *Notifier {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher: publisher,
		registry:  registry,
		topic:     topic,
		threshold: int32(threshold),
		logger:    logger,
	}
}

// Notify publishes the verdict. Failures are counted but never fail the check.
func (n *Notifier) Notify(ctx context.Context, verdict scamcheck.Verdict) {
	if n == nil || n.publisher == nil {
		return
	}
	id, err := n.publisher.Publish(ctx, n.topic, verdict)
	if err != nil {
		failures := n.failures.Add(1)
		n.logger.Warn("verdict publish failed",
			zap.String("task_id", verdict.TaskID),
			zap.Int32("consecutive_failures", failures),
			zap.Error(err))
		if failures >= n.threshold {
			n.registry.SetUnavailable(err)
		}
		return
	}
	if n.failures.Swap(0) >= n.threshold {
		n.registry.SetAvailable()
	}
	n.logger.Debug("verdict published",
		zap.String("task_id", verdict.TaskID),
		zap.String("message_id", id))
}
