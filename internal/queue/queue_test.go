package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Adapters cache per connection name; a fixed name would hand later
	// tests a client bound to an earlier, closed server.
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "engine",
		ConsumerName:      "worker-0",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testConfig("jobs"))
	require.NoError(t, err)

	ctx := context.Background()
	envelope := model.JobEnvelope{Kind: model.JobKindSendMessages, JobID: 12, CampaignID: 3}

	_, err = q.PublishJSON(ctx, envelope, map[string]string{"kind": string(envelope.Kind)})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	err = q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		var got model.JobEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, model.JobKindSendMessages, got.Kind)
		assert.Equal(t, int64(12), got.JobID)
		assert.Equal(t, string(model.JobKindSendMessages), msg.Metadata["kind"])
		assert.False(t, msg.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not received")
	}

	require.NoError(t, q.Stop(time.Second))
}

func TestQueue_FailedHandlerLeavesEntryPending(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	cfg := testConfig("jobs:retry")
	cfg.VisibilityTimeout = time.Second

	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	_, err = q.PublishJSON(ctx, model.JobEnvelope{Kind: model.JobKindReassembleInbound}, nil)
	require.NoError(t, err)

	attempted := make(chan struct{}, 4)
	err = q.Consume(func(ctx context.Context, msg *Message) error {
		attempted <- struct{}{}
		return assert.AnError
	})
	require.NoError(t, err)

	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	// Let dispatch record the outcome after the handler returned.
	time.Sleep(200 * time.Millisecond)

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ProcessedCount)
	assert.GreaterOrEqual(t, stats.FailedCount, int64(1))
	assert.GreaterOrEqual(t, stats.PendingMessages, int64(1), "unacked entry must stay pending for reclaim")
}

func TestQueue_GetStats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testConfig("jobs:stats"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.PublishJSON(ctx, model.JobEnvelope{Kind: model.JobKindClearOldJobs}, nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(5))
}

func TestMessage_AckNack(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testConfig("jobs:ack"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	t.Run("ack marks delivery handled", func(t *testing.T) {
		msgID, err := q.Publish(context.Background(), []byte(`{}`), nil)
		require.NoError(t, err)

		msg := &Message{ID: msgID, queue: q}
		require.NoError(t, msg.Ack())
		assert.True(t, msg.acked)
		assert.False(t, msg.nacked)
	})

	t.Run("nack leaves delivery for reclaim", func(t *testing.T) {
		msg := &Message{ID: "0-1", queue: q}
		require.NoError(t, msg.Nack())
		assert.False(t, msg.acked)
		assert.True(t, msg.nacked)
	})

	t.Run("double ack rejected", func(t *testing.T) {
		msg := &Message{ID: "0-2", acked: true}
		err := msg.Ack()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already acknowledged")
	})

	t.Run("double nack rejected", func(t *testing.T) {
		msg := &Message{ID: "0-3", nacked: true}
		err := msg.Nack()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already rejected")
	})
}

func TestQueue_RequiresName(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testConfig("jobs:concurrent"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	const publishers = 10
	done := make(chan struct{}, publishers)

	for i := 0; i < publishers; i++ {
		go func(id int64) {
			_, err := q.PublishJSON(ctx, model.JobEnvelope{Kind: model.JobKindSendMessages, JobID: id}, nil)
			assert.NoError(t, err)
			done <- struct{}{}
		}(int64(i))
	}
	for i := 0; i < publishers; i++ {
		<-done
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(publishers))
}

func TestQueue_Stop(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testConfig("jobs:stop"))
	require.NoError(t, err)

	err = q.Consume(func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, q.Stop(2*time.Second))
}
