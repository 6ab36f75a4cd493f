package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

// Config controls registry buffering and eviction.
//   - SubscriberBuffer: per-subscription queue bound (default 64).
//   - GracePeriod: how long a terminal stream lingers after its last
//     subscriber detaches (default 30s).
//   - IdleTimeout: how long a never-subscribed stream may sit without events
//     before eviction (default 60s).
//   - SweepInterval: eviction scan cadence (default 1s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SubscriberBuffer int
	GracePeriod      time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	Logger           *zap.Logger
}

const (
	defaultSubscriberBuffer = 64
	defaultGracePeriod      = 30 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultSweepInterval    = time.Second
)

// Registry is the process-wide directory from task id to its stream. It owns
// stream lifecycle: creation on Open, eviction after the grace period or idle
// timeout, and force-termination on broker outage.
type Registry struct {
	cfg    Config
	clock  scamcheck.Clock
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*Stream
	down    bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewRegistry initializes a Registry and starts its background sweeper.
func NewRegistry(cfg Config, clock scamcheck.Clock) *Registry {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		streams: make(map[string]*Stream),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Open returns the stream for taskID, creating it if absent. Idempotent: a
// second Open for the same id returns the existing stream rather than
// forking a duplicate.
func (r *Registry) Open(taskID string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, ErrUnavailable
	}
	st, ok := r.streams[taskID]
	if !ok {
		st = newStream(taskID, r.clock.Now())
		r.streams[taskID] = st
	}
	return st, nil
}

// Lookup returns the stream for taskID or ErrNotFound. It never creates one,
// so subscribers can distinguish an unknown or expired task from a task that
// simply has no events yet.
func (r *Registry) Lookup(taskID string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, ErrUnavailable
	}
	st, ok := r.streams[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Publisher opens (or reuses) the stream for taskID and binds a publisher to it.
func (r *Registry) Publisher(taskID string) (*Publisher, error) {
	st, err := r.Open(taskID)
	if err != nil {
		return nil, fmt.Errorf("open stream %q: %w", taskID, err)
	}
	return NewPublisher(st, r.clock), nil
}

// Subscribe attaches a bounded subscription to taskID's stream, returning the
// replay prefix alongside the live tail.
func (r *Registry) Subscribe(taskID string) ([]Event, *Subscription, error) {
	st, err := r.Lookup(taskID)
	if err != nil {
		return nil, nil, err
	}
	replay, sub := st.Subscribe(r.cfg.SubscriberBuffer)
	return replay, sub, nil
}

// SetUnavailable marks the backing transport down: every active subscription
// is closed with a broker-unavailable signal and subsequent Open/Lookup calls
// fail fast until SetAvailable.
func (r *Registry) SetUnavailable(cause error) {
	r.mu.Lock()
	if r.down {
		r.mu.Unlock()
		return
	}
	r.down = true
	streams := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		streams = append(streams, st)
	}
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()

	r.logger.Warn("progress broker unavailable", zap.Error(cause))
	now := r.clock.Now()
	for _, st := range streams {
		st.fail(ReasonBrokerUnavailable, now)
	}
}

// Available reports whether the registry is accepting streams.
func (r *Registry) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.down
}

// SetAvailable clears the outage flag.
func (r *Registry) SetAvailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		r.down = false
		r.logger.Info("progress broker available again")
	}
}

// Close stops the sweeper and detaches every remaining subscriber with a
// broker-unavailable signal so no client is left hanging through shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("registry close wait: %w", ctx.Err())
	}

	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		streams = append(streams, st)
	}
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()

	now := r.clock.Now()
	for _, st := range streams {
		st.fail(ReasonBrokerUnavailable, now)
	}
	return nil
}

func (r *Registry) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep evicts terminal streams past their grace period once the last
// subscriber has detached, and never-subscribed streams past the idle timeout.
func (r *Registry) sweep() {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.streams {
		st.mu.Lock()
		evict := false
		switch {
		case st.terminal && len(st.subs) == 0 && now.Sub(st.terminalAt) >= r.cfg.GracePeriod:
			evict = true
		case !st.terminal && !st.everSubscribed && now.Sub(st.lastEvent) >= r.cfg.IdleTimeout:
			evict = true
		}
		st.mu.Unlock()
		if evict {
			delete(r.streams, id)
			r.logger.Debug("evicted task stream", zap.String("task_id", id))
		}
	}
}
