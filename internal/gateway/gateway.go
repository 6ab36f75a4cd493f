// Package gateway relays task-progress streams to clients over Server-Sent
// Events. Each connection subscribes to one task id, receives the buffered
// history first, then live events, and always ends with exactly one terminal
// record: completed, failed, timeout, overflow, or broker_unavailable.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/stream"
)

// Config controls per-connection relay behavior.
//   - IdleTimeout: closes the connection with a timeout signal when no event
//     flows for this long (default 60s).
type Config struct {
	IdleTimeout time.Duration
}

const defaultIdleTimeout = 60 * time.Second

// Gateway subscribes client connections to task streams via the registry.
type Gateway struct {
	registry *stream.Registry
	clock    scamcheck.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Gateway.
func New(registry *stream.Registry, clock scamcheck.Clock, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry: registry,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleEvents serves GET /v1/checks/{task_id}/events. Unknown task ids are
// rejected immediately with 404; during a broker outage the connection fails
// fast with 503 and the broker_unavailable signal name.
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	replay, sub, err := g.registry.Subscribe(taskID)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown or expired task")
		case errors.Is(err, stream.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, string(stream.ReasonBrokerUnavailable))
		default:
			g.logger.Error("subscribe failed", zap.String("task_id", taskID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "subscribe failed")
		}
		return
	}
	defer sub.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.relay(w, r, flusher, taskID, replay, sub)
}

// relay drives one subscription until a terminal record is written or the
// client goes away. The idle deadline is per subscription, independent of
// other subscriptions on the same stream.
func (g *Gateway) relay(
	w http.ResponseWriter,
	r *http.Request,
	flusher http.Flusher,
	taskID string,
	replay []stream.Event,
	sub *stream.Subscription,
) {
	for _, evt := range replay {
		if err := writeEvent(w, flusher, evt); err != nil {
			g.logger.Debug("replay write failed", zap.String("task_id", taskID), zap.Error(err))
			return
		}
	}

	timer := time.NewTimer(g.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case evt := <-sub.Events():
			if err := writeEvent(w, flusher, evt); err != nil {
				g.logger.Debug("event write failed", zap.String("task_id", taskID), zap.Error(err))
				return
			}
			resetTimer(timer, g.cfg.IdleTimeout)
		case <-sub.Done():
			g.finish(w, flusher, taskID, sub)
			return
		case <-timer.C:
			g.writeSignal(w, flusher, stream.ReasonTimeout)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// finish drains events queued before the subscription closed, then emits the
// synthetic terminal record when the stream itself did not provide one.
func (g *Gateway) finish(w http.ResponseWriter, flusher http.Flusher, taskID string, sub *stream.Subscription) {
	for {
		select {
		case evt := <-sub.Events():
			if err := writeEvent(w, flusher, evt); err != nil {
				return
			}
		default:
			switch reason := sub.Reason(); reason {
			case stream.ReasonCompleted, stream.ReasonFailed:
				// Terminal event already relayed from the stream log.
			case stream.ReasonDetached:
			default:
				g.writeSignal(w, flusher, reason)
			}
			return
		}
	}
}

func (g *Gateway) writeSignal(w http.ResponseWriter, flusher http.Flusher, reason stream.CloseReason) {
	record := map[string]any{
		"kind":      string(reason),
		"timestamp": g.clock.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", reason, data); err != nil {
		return
	}
	flusher.Flush()
}

// resetTimer safely rearms a timer that may have already fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, evt stream.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
