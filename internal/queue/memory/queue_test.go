package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, scamcheck.QueueItem{TaskID: "t1", Text: "a"}))
	require.NoError(t, q.Enqueue(ctx, scamcheck.QueueItem{TaskID: "t2", Text: "b"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "t1", first.TaskID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "t2", second.TaskID)
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scamcheck.QueueItem{TaskID: "t1"}))

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(blocked, scamcheck.QueueItem{TaskID: "t2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), scamcheck.QueueItem{TaskID: "t1"}))
	q.Close()
	q.Close() // idempotent

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "t1", item.TaskID)

	_, err = q.Dequeue(context.Background())
	require.EqualError(t, err, "queue closed")
}
