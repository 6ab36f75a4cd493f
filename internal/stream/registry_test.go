package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	r := NewRegistry(Config{
		SubscriberBuffer: 8,
		GracePeriod:      30 * time.Second,
		IdleTimeout:      time.Minute,
		SweepInterval:    10 * time.Millisecond,
	}, clock)
	t.Cleanup(func() {
		require.NoError(t, r.Close(context.Background()))
	})
	return r
}

// TestOpenIsIdempotent verifies a second Open returns the same stream.
func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeClock())
	a, err := r.Open("t1")
	require.NoError(t, err)
	b, err := r.Open("t1")
	require.NoError(t, err)
	require.Same(t, a, b)
}

// TestLookupUnknownTask asserts Lookup never creates streams.
func TestLookupUnknownTask(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeClock())
	_, err := r.Lookup("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, _, err = r.Subscribe("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestTerminalStreamEvictedAfterGrace verifies a finished stream with no
// subscribers disappears once the grace period elapses.
func TestTerminalStreamEvictedAfterGrace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	pub, err := r.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Complete(nil))

	_, err = r.Lookup("t1")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool {
		_, err := r.Lookup("t1")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

// TestIdleStreamEvicted verifies a never-subscribed stream is dropped after
// the idle timeout even without a terminal event.
func TestIdleStreamEvicted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	_, err := r.Open("t1")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		_, err := r.Lookup("t1")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

// TestSubscribedStreamSurvivesIdleTimeout verifies the idle eviction only
// applies to streams nobody ever attached to.
func TestSubscribedStreamSurvivesIdleTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	_, err := r.Open("t1")
	require.NoError(t, err)
	_, sub, err := r.Subscribe("t1")
	require.NoError(t, err)
	defer sub.Cancel()

	clock.Advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond) // let several sweeps run
	_, err = r.Lookup("t1")
	require.NoError(t, err)
}

// TestBrokerOutage verifies every active subscription is closed with the
// broker-unavailable signal and new attempts fail fast until recovery.
func TestBrokerOutage(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	_, err := r.Open("t1")
	require.NoError(t, err)
	_, err = r.Open("t2")
	require.NoError(t, err)

	_, subA, err := r.Subscribe("t1")
	require.NoError(t, err)
	_, subB, err := r.Subscribe("t2")
	require.NoError(t, err)

	r.SetUnavailable(errors.New("pubsub publish: connection refused"))

	<-subA.Done()
	<-subB.Done()
	require.Equal(t, ReasonBrokerUnavailable, subA.Reason())
	require.Equal(t, ReasonBrokerUnavailable, subB.Reason())

	_, err = r.Open("t3")
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = r.Lookup("t1")
	require.ErrorIs(t, err, ErrUnavailable)

	r.SetAvailable()
	_, err = r.Open("t3")
	require.NoError(t, err)
}

// TestRegistryCloseDetachesSubscribers verifies shutdown never leaves a
// subscriber hanging without a terminal signal.
func TestRegistryCloseDetachesSubscribers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := NewRegistry(Config{SweepInterval: 10 * time.Millisecond}, clock)
	_, err := r.Open("t1")
	require.NoError(t, err)
	_, sub, err := r.Subscribe("t1")
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	<-sub.Done()
	require.Equal(t, ReasonBrokerUnavailable, sub.Reason())
}
