package services

import (
	"context"

	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/pkg/logger"
)

// NotificationEvent tells a texter their assignment changed. Delivery
// is fire-and-forget; losing one never fails the surrounding commit.
type NotificationEvent struct {
	Type         string `json:"type"`
	CampaignID   int64  `json:"campaign_id"`
	AssignmentID int64  `json:"assignment_id"`
	TexterID     int64  `json:"texter_id"`
}

const (
	NotificationAssignmentCreated = "assignment.created"
	NotificationAssignmentUpdated = "assignment.updated"
	NotificationExportReady       = "export.ready"
	NotificationExportFailed      = "export.failed"
)

type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent)
}

// QueueNotifier publishes events onto a notifications stream consumed
// by the delivery side of the platform.
type QueueNotifier struct {
	queue *queue.Queue
}

func NewQueueNotifier(q *queue.Queue) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

func (n *QueueNotifier) Notify(ctx context.Context, event NotificationEvent) {
	if n.queue == nil {
		return
	}
	if _, err := n.queue.PublishJSON(ctx, event, nil); err != nil {
		logger.Warn("failed to publish notification", "type", event.Type, "assignment_id", event.AssignmentID, "error", err)
	}
}

// NopNotifier drops events; tests and the CLI use it.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, NotificationEvent) {}
