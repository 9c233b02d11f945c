package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kwesidev/backend-bundles/internal/queue"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDequeue(t *testing.T) {
	client := newClient(t)

	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := enq.Enqueue(ctx, queue.Task{Kind: "email", Payload: []byte("payload"), IdempotencyKey: "1"})
	require.NoError(t, err)

	processed := make(chan []byte, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "email",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task.Payload
			cancel()
			return nil
		},
	}

	go func() { _ = worker.Run(ctx) }()

	select {
	case payload := <-processed:
		require.Equal(t, []byte("payload"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not processed in time")
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	enq := queue.Enqueuer{R: client, Prefix: "test"}
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "email", Payload: []byte("a"), IdempotencyKey: "same"}))
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "email", Payload: []byte("b"), IdempotencyKey: "same"}))

	depth, err := client.ZCard(ctx, "test:queue:email").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestFailedTaskLandsInDLQ(t *testing.T) {
	client := newClient(t)

	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := enq.Enqueue(ctx, queue.Task{Kind: "email", Payload: []byte("doomed"), MaxAttempts: 2})
	require.NoError(t, err)

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "email",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			attempts.Add(1)
			return errors.New("handler failed")
		},
	}

	go func() { _ = worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		size, err := client.LLen(context.Background(), "test:email:dlq").Result()
		return err == nil && size == 1
	}, 3*time.Second, 20*time.Millisecond)
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestRejectsInvalidKind(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client}
	err := enq.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind!"})
	require.Error(t, err)
}
