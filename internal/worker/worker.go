// Package worker implements the scam-check analysis loop.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/cache"
	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/store"
	"github.com/scamwatch-io/scamwatch/internal/stream"
	"github.com/scamwatch-io/scamwatch/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	StepTimeout time.Duration
	MaxEvidence int
}

const (
	defaultStepTimeout = 10 * time.Second
	defaultMaxEvidence = 3
)

// Worker consumes queued checks and executes the analysis pipeline, narrating
// each stage on the task's progress stream.
type Worker struct {
	queue      scamcheck.Queue
	reports    store.ReportRepository
	cache      *cache.Cache
	registry   *stream.Registry
	lookup     scamcheck.Lookup
	verifier   scamcheck.Verifier
	classifier scamcheck.Classifier
	policy     scamcheck.Policy
	notifier   *Notifier
	clock      scamcheck.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue scamcheck.Queue,
	reports store.ReportRepository,
	dedup *cache.Cache,
	registry *stream.Registry,
	lookup scamcheck.Lookup,
	verifier scamcheck.Verifier,
	classifier scamcheck.Classifier,
	policy scamcheck.Policy,
	notifier *Notifier,
	clock scamcheck.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = defaultMaxEvidence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		reports:    reports,
		cache:      dedup,
		registry:   registry,
		lookup:     lookup,
		verifier:   verifier,
		classifier: classifier,
		policy:     policy,
		notifier:   notifier,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued check", zap.String("task_id", item.TaskID))
		w.processItem(ctx, item)
	}
}

// progress is the slice of stream.Publisher the pipeline needs. During a
// broker outage the analysis still runs; events are simply dropped.
type progress interface {
	TaskID() string
	Started(payload any) error
	Step(payload any) error
	Warning(payload any) error
	Complete(payload any) error
	Fail(cause error) error
}

type noopProgress struct{ taskID string }

func (n noopProgress) TaskID() string   { return n.taskID }
func (noopProgress) Started(any) error  { return nil }
func (noopProgress) Step(any) error     { return nil }
func (noopProgress) Warning(any) error  { return nil }
func (noopProgress) Complete(any) error { return nil }
func (noopProgress) Fail(error) error   { return nil }

func (w *Worker) processItem(ctx context.Context, item scamcheck.QueueItem) {
	var pub progress
	streamPub, err := w.registry.Publisher(item.TaskID)
	if err != nil {
		w.logger.Warn("open progress stream failed, continuing without events",
			zap.String("task_id", item.TaskID), zap.Error(err))
		pub = noopProgress{taskID: item.TaskID}
	} else {
		pub = streamPub
	}

	if err := pub.Started(map[string]int{"text_length": len(item.Text)}); err != nil {
		w.logger.Warn("publish started failed",
			zap.String("task_id", item.TaskID), zap.Error(err))
	}

	if payload, ok := w.cache.Get(item.Text); ok {
		w.completeFromCache(ctx, item, pub, payload)
		return
	}

	urls := scamcheck.ExtractURLs(item.Text)
	domains := scamcheck.ExtractDomains(item.Text)
	w.step(pub, "extract", 0.2, map[string]any{
		"urls":    len(urls),
		"domains": len(domains),
	})

	evidence := w.gatherEvidence(ctx, pub, urls)
	w.step(pub, "lookup", 0.5, map[string]any{"fetched": len(evidence)})

	findings := w.verifyDomains(ctx, pub, domains)
	w.step(pub, "verify", 0.7, map[string]any{"findings": len(findings)})

	stepCtx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	verdict, err := w.classifier.Classify(stepCtx, item.Text, evidence, findings)
	cancel()
	if err != nil {
		w.logger.Error("classify failed", zap.String("task_id", item.TaskID), zap.Error(err))
		w.failReport(ctx, item.TaskID, err.Error())
		if ferr := pub.Fail(err); ferr != nil {
			w.logger.Warn("publish failed event", zap.String("task_id", item.TaskID), zap.Error(ferr))
		}
		telemetry.ObserveCheck("failed")
		return
	}
	verdict.TaskID = item.TaskID

	if err := w.reports.CompleteReport(ctx, item.TaskID, verdict, false, w.clock.Now()); err != nil {
		w.logger.Error("complete report failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	if raw, err := json.Marshal(verdict); err == nil {
		w.cache.Set(item.Text, raw)
	}

	if err := pub.Complete(verdict); err != nil {
		w.logger.Warn("publish completed failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	w.notifier.Notify(ctx, verdict)
	telemetry.ObserveCheck("completed")
}

// completeFromCache short-circuits the pipeline with a previously computed
// verdict. The stored verdict carries the original task id, so it is rebound
// before republishing.
func (w *Worker) completeFromCache(ctx context.Context, item scamcheck.QueueItem, pub progress, payload json.RawMessage) {
	var verdict scamcheck.Verdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		w.logger.Error("decode cached verdict failed",
			zap.String("task_id", item.TaskID), zap.Error(err))
		w.failReport(ctx, item.TaskID, "corrupt cache entry")
		if ferr := pub.Fail(err); ferr != nil {
			w.logger.Warn("publish failed event", zap.String("task_id", item.TaskID), zap.Error(ferr))
		}
		telemetry.ObserveCheck("failed")
		return
	}
	verdict.TaskID = item.TaskID

	w.step(pub, "cache", 1.0, map[string]any{"hit": true})
	if err := w.reports.CompleteReport(ctx, item.TaskID, verdict, true, w.clock.Now()); err != nil {
		w.logger.Error("complete report failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	if err := pub.Complete(verdict); err != nil {
		w.logger.Warn("publish completed failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	w.notifier.Notify(ctx, verdict)
	telemetry.ObserveCheck("cache_hit")
}

// gatherEvidence fetches up to MaxEvidence URLs. Individual failures degrade
// to warnings on the stream rather than failing the check.
func (w *Worker) gatherEvidence(ctx context.Context, pub progress, urls []string) []scamcheck.Evidence {
	if w.lookup == nil {
		return nil
	}
	evidence := make([]scamcheck.Evidence, 0, w.cfg.MaxEvidence)
	for _, url := range urls {
		if len(evidence) >= w.cfg.MaxEvidence {
			break
		}
		if w.policy != nil {
			if err := w.policy.Wait(ctx, url); err != nil {
				w.warn(pub, "lookup", url, err)
				continue
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
		ev, err := w.lookup.Fetch(stepCtx, url)
		cancel()
		if err != nil {
			w.warn(pub, "lookup", url, err)
			continue
		}
		evidence = append(evidence, ev)
	}
	return evidence
}

func (w *Worker) verifyDomains(ctx context.Context, pub progress, domains []string) []scamcheck.DomainFinding {
	if w.verifier == nil || len(domains) == 0 {
		return nil
	}
	stepCtx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()
	findings, err := w.verifier.Verify(stepCtx, domains)
	if err != nil {
		w.warn(pub, "verify", "", err)
		return nil
	}
	return findings
}

func (w *Worker) step(pub progress, stage string, progress float64, extra map[string]any) {
	payload := map[string]any{"stage": stage, "progress": progress}
	for k, v := range extra {
		payload[k] = v
	}
	if err := pub.Step(payload); err != nil {
		w.logger.Debug("publish step failed", zap.String("task_id", pub.TaskID()), zap.Error(err))
	}
}

func (w *Worker) warn(pub progress, stage, url string, cause error) {
	payload := map[string]any{"stage": stage, "error": cause.Error()}
	if url != "" {
		payload["url"] = url
	}
	if err := pub.Warning(payload); err != nil {
		w.logger.Debug("publish warning failed", zap.String("task_id", pub.TaskID()), zap.Error(err))
	}
}

func (w *Worker) failReport(ctx context.Context, taskID, msg string) {
	if err := w.reports.FailReport(ctx, taskID, msg, w.clock.Now()); err != nil {
		w.logger.Error("fail report update failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
