package services

import (
	"context"
	"testing"

	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueNotifier_PublishesToOwnStream(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	defer mr.Close()

	// The jobs stream exists alongside the notifications stream; events
	// must never leak onto it, the dispatcher cannot decode them.
	_, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "jobs"})
	require.NoError(t, err)
	notifyQ, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "notifications"})
	require.NoError(t, err)

	n := NewQueueNotifier(notifyQ)
	n.Notify(context.Background(), NotificationEvent{
		Type:         NotificationAssignmentCreated,
		CampaignID:   1,
		AssignmentID: 2,
		TexterID:     3,
	})

	count, err := adapter.XLen("notifications")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = adapter.XLen("jobs")
	require.NoError(t, err)
	assert.Zero(t, count, "assignment events must not land on the jobs stream")
}

func TestQueueNotifier_NilQueueIsNoop(t *testing.T) {
	n := NewQueueNotifier(nil)
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), NotificationEvent{Type: NotificationExportReady})
	})
}
