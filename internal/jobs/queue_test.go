package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewQueue(rdb)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	env, err := q.Enqueue(ctx, KindSendWebhook, SendWebhookPayload{Endpoint: "https://example.com/hook"})
	require.NoError(t, err)
	assert.Equal(t, QueueDefault, env.Queue)

	depth, err := q.Depth(ctx, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Dequeue(ctx, QueueDefault, time.Second)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)

	depth, err = q.Depth(ctx, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, q.Ack(ctx, got))

	stuck, err := q.ReapStuck(ctx, QueueDefault, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, stuck)
}

func TestQueue_DequeueEmptyReturnsErrEmpty(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Dequeue(context.Background(), QueueDefault, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_NackRetriesThenExhausts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	env, err := q.Enqueue(ctx, KindAnalyzePR, AnalyzePRPayload{RepoID: "repo-1"})
	require.NoError(t, err)
	require.Equal(t, 2, env.MaxRetries)

	for i := 0; i < env.MaxRetries; i++ {
		got, err := q.Dequeue(ctx, QueueAnalysis, time.Second)
		require.NoError(t, err)

		exhausted, err := q.Nack(ctx, got)
		require.NoError(t, err)
		assert.False(t, exhausted, "attempt %d should not exhaust retries", i+1)

		// Force the scheduled retry to be immediately due, bypassing the
		// real backoff-with-jitter delay so the test doesn't sleep.
		promoted, err := forcePromote(ctx, q, QueueAnalysis)
		require.NoError(t, err)
		assert.Equal(t, 1, promoted)
	}

	got, err := q.Dequeue(ctx, QueueAnalysis, time.Second)
	require.NoError(t, err)
	exhausted, err := q.Nack(ctx, got)
	require.NoError(t, err)
	assert.True(t, exhausted)

	_, err = q.Dequeue(ctx, QueueAnalysis, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

// forcePromote rewrites every member of queueName's delayed set to a
// past-due score and promotes it, so retry tests don't depend on the
// real jittered backoff delay elapsing.
func forcePromote(ctx context.Context, q *Queue, queueName string) (int, error) {
	members, err := q.rdb.ZRange(ctx, delayedKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if err := q.rdb.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: 0, Member: m}).Err(); err != nil {
			return 0, err
		}
	}
	return q.PromoteDelayed(ctx, queueName)
}

func TestQueue_ReapStuckRequeuesStaleClaims(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindSendWebhook, SendWebhookPayload{Endpoint: "https://example.com/hook"})
	require.NoError(t, err)

	got, err := q.Dequeue(ctx, QueueDefault, time.Second)
	require.NoError(t, err)

	// Backdate the claim so it looks like the worker died a while ago.
	require.NoError(t, q.rdb.HSet(ctx, claimsKey(QueueDefault), got.ID, time.Now().Add(-time.Hour).Unix()).Err())

	reaped, err := q.ReapStuck(ctx, QueueDefault, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	depth, err := q.Depth(ctx, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestEveryJobKindHasARetryTimeoutSpec(t *testing.T) {
	for _, kind := range []string{
		KindAnalyzeRepository, KindAnalyzeRepositoryPriority, KindAnalyzePR,
		KindOnComplete, KindOnFailed, KindPostPRComment, KindPostCheckRun, KindSendWebhook,
	} {
		spec, ok := Specs[kind]
		assert.True(t, ok, "missing spec for %s", kind)
		assert.NotEmpty(t, spec.Queue)
		assert.Greater(t, spec.SoftTimeout, time.Duration(0))
	}
}
