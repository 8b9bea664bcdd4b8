package services

import (
	"context"
	"fmt"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/relaytext/campaign-engine/pkg/prom"
)

const (
	defaultSendBatch     = 50
	defaultRecentRingCap = 1024
)

// recentRing remembers the ids this instance dispatched most recently.
// It is a best-effort guard against double-dispatch on queue redelivery,
// scoped to one process and capped so memory stays flat. The database
// status flip remains the source of truth.
type recentRing struct {
	ids  []int64
	seen map[int64]bool
	next int
}

func newRecentRing(capacity int) *recentRing {
	return &recentRing{
		ids:  make([]int64, capacity),
		seen: make(map[int64]bool, capacity),
	}
}

func (r *recentRing) contains(id int64) bool { return r.seen[id] }

func (r *recentRing) add(id int64) {
	if r.seen[id] {
		return
	}
	if old := r.ids[r.next]; old != 0 {
		delete(r.seen, old)
	}
	r.ids[r.next] = id
	r.seen[id] = true
	r.next = (r.next + 1) % len(r.ids)
}

// SenderService drains queued outbound messages through the carrier
// adapters. Batches are claimed under a skip-locked select so multiple
// workers never dispatch the same row.
type SenderService struct {
	messageRepo  *repository.MessageRepository
	contactRepo  *repository.ContactRepository
	campaignRepo *repository.CampaignRepository
	router       *RouterService
	registry     *carrier.Registry
	batchSize    int
	recent       *recentRing
}

func NewSenderService(
	messageRepo *repository.MessageRepository,
	contactRepo *repository.ContactRepository,
	campaignRepo *repository.CampaignRepository,
	router *RouterService,
	registry *carrier.Registry,
) *SenderService {
	return &SenderService{
		messageRepo:  messageRepo,
		contactRepo:  contactRepo,
		campaignRepo: campaignRepo,
		router:       router,
		registry:     registry,
		batchSize:    defaultSendBatch,
		recent:       newRecentRing(defaultRecentRingCap),
	}
}

// SendResult summarizes one drained batch.
type SendBatchResult struct {
	Claimed int
	Sent    int
	Failed  int
	Skipped int
}

func (r SendBatchResult) String() string {
	return fmt.Sprintf("sent %d of %d claimed messages (%d failed, %d skipped)",
		r.Sent, r.Claimed, r.Failed, r.Skipped)
}

// ProcessQueue claims one batch and dispatches it sequentially inside
// the claiming transaction, so a crash mid-batch rolls the unsent rows
// back to queued. An empty claim is a clean no-op: another worker owns
// the batch.
func (s *SenderService) ProcessQueue(ctx context.Context) (*SendBatchResult, error) {
	result := &SendBatchResult{}

	err := s.messageRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		batch, err := s.messageRepo.ClaimQueued(ctx, s.batchSize)
		if err != nil {
			return err
		}
		result.Claimed = len(batch)
		if len(batch) == 0 {
			return nil
		}

		for _, msg := range batch {
			if s.recent.contains(msg.ID) {
				result.Skipped++
				continue
			}
			if err := s.dispatch(ctx, msg); err != nil {
				logger.Error("message dispatch failed", "message_id", msg.ID, "error", err)
				if err := s.messageRepo.MarkFailed(ctx, msg.ID); err != nil {
					return err
				}
				prom.IncMessageSent("failed")
				result.Failed++
				continue
			}
			s.recent.add(msg.ID)
			prom.IncMessageSent("sent")
			result.Sent++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Claimed > 0 {
		logger.Info("drained outbound batch", "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
	}
	return result, nil
}

func (s *SenderService) dispatch(ctx context.Context, msg *model.Message) error {
	// Sticky routing: a message without a source number gets the bound
	// identity for its destination before it ever reaches a carrier.
	if msg.UserNumber == "" {
		contact, err := s.contactRepo.Get(ctx, msg.ContactID)
		if err != nil {
			return fmt.Errorf("load contact %d: %w", msg.ContactID, err)
		}
		campaign, err := s.campaignRepo.Get(ctx, contact.CampaignID)
		if err != nil {
			return fmt.Errorf("load campaign %d: %w", contact.CampaignID, err)
		}
		identity, err := s.router.ResolveIdentity(ctx, msg.ContactNumber, campaign.OrganizationID)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		msg.UserNumber = identity
	}

	adapter := s.registry.Default()
	res, err := adapter.SendMessage(ctx, msg)
	if err != nil {
		return err
	}

	if err := s.messageRepo.MarkSent(ctx, msg.ID, res.CarrierMessageID, res.SentAt); err != nil {
		return err
	}
	// The first outbound text moves the contact out of the assignable
	// pool for good.
	return s.contactRepo.UpdateStatus(ctx, msg.ContactID, model.MessageStatusMessaged)
}
