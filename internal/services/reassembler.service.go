package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultReassembleBatch = 500
	defaultGraceAge        = 2 * time.Minute
)

// ReassemblerService merges pending inbound fragments into finished
// messages and drops duplicates. Fragments of still-incomplete groups
// stay in the table for a later pass; one carrier's failure never
// blocks another's batch.
type ReassemblerService struct {
	partRepo    *repository.PartRepository
	messageRepo *repository.MessageRepository
	contactRepo *repository.ContactRepository
	registry    *carrier.Registry
	batchSize   int
	graceAge    time.Duration
	now         func() time.Time
}

func NewReassemblerService(
	partRepo *repository.PartRepository,
	messageRepo *repository.MessageRepository,
	contactRepo *repository.ContactRepository,
	registry *carrier.Registry,
) *ReassemblerService {
	return &ReassemblerService{
		partRepo:    partRepo,
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		registry:    registry,
		batchSize:   defaultReassembleBatch,
		graceAge:    defaultGraceAge,
		now:         time.Now,
	}
}

// ReassembleResult summarizes one pass over the pending parts table.
type ReassembleResult struct {
	Saved             int
	DroppedDuplicates int
	DroppedOrphans    int
	Deferred          int
}

func (r ReassembleResult) String() string {
	return fmt.Sprintf("saved %d messages (%d duplicates dropped, %d orphans dropped, %d deferred)",
		r.Saved, r.DroppedDuplicates, r.DroppedOrphans, r.Deferred)
}

type groupKey struct {
	groupID       string
	contactNumber string
	userNumber    string
}

type partGroup struct {
	slots  []*model.PendingMessagePart
	filled int
}

// stagedMessage pairs a finished message with the fragment rows it
// consumed, so save and delete travel together.
type stagedMessage struct {
	message *model.Message
	partIDs []int64
}

// Process handles one bounded batch of pending fragments, grouped by
// carrier.
func (s *ReassemblerService) Process(ctx context.Context) (*ReassembleResult, error) {
	parts, err := s.partRepo.ListBatch(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	byCarrier := make(map[string][]*model.PendingMessagePart)
	for _, p := range parts {
		byCarrier[p.Carrier] = append(byCarrier[p.Carrier], p)
	}

	result := &ReassembleResult{}
	for name, carrierParts := range byCarrier {
		adapter, err := s.registry.Resolve(name)
		if err != nil {
			logger.Warn("pending parts for unknown carrier left in place", "carrier", name, "parts", len(carrierParts))
			continue
		}
		if err := s.processCarrier(ctx, adapter, carrierParts, result); err != nil {
			// Carrier batches are isolated; the others still run.
			logger.Error("carrier reassembly batch failed", "carrier", name, "error", err)
		}
	}
	return result, nil
}

func (s *ReassemblerService) processCarrier(ctx context.Context, adapter carrier.Adapter, parts []*model.PendingMessagePart, result *ReassembleResult) error {
	var (
		staged    []stagedMessage
		dropped   []int64
		stagedIDs = make(map[string]bool)
		groups    = make(map[groupKey]*partGroup)
	)

	// Out-of-order carriers get a grace window: young fragments wait
	// for their siblings before their group is treated as resolvable.
	var graceCut time.Time
	if adapter.SyncMessagePartProcessing() {
		graceCut = s.now().Add(-s.graceAge)
	}

	for _, part := range parts {
		if !graceCut.IsZero() && part.CreatedAt.After(graceCut) {
			result.Deferred++
			continue
		}

		// A reply with no thread to attach to is an orphan.
		thread, err := s.messageRepo.LatestOutbound(ctx, part.ContactNumber, part.UserNumber)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				dropped = append(dropped, part.ID)
				result.DroppedOrphans++
				continue
			}
			return err
		}

		if stagedIDs[part.CarrierMessageID] {
			dropped = append(dropped, part.ID)
			result.DroppedDuplicates++
			continue
		}
		saved, err := s.messageRepo.HasCarrierMessageID(ctx, part.CarrierMessageID)
		if err != nil {
			return err
		}
		if saved {
			dropped = append(dropped, part.ID)
			result.DroppedDuplicates++
			continue
		}

		if part.GroupID == "" {
			msg, err := adapter.ConvertMessagePartsToMessage([]*model.PendingMessagePart{part})
			if err != nil {
				dropped = append(dropped, part.ID)
				continue
			}
			msg.ContactID = thread.ContactID
			msg.AssignmentID = thread.AssignmentID
			staged = append(staged, stagedMessage{message: msg, partIDs: []int64{part.ID}})
			stagedIDs[part.CarrierMessageID] = true
			continue
		}

		// The slot array is sized from the carrier-declared total; a
		// total outside a sane range discards the row, never the batch.
		if part.TotalParts < 1 || part.TotalParts > carrier.MaxDeclaredParts {
			dropped = append(dropped, part.ID)
			continue
		}

		key := groupKey{part.GroupID, part.ContactNumber, part.UserNumber}
		group := groups[key]
		if group == nil {
			group = &partGroup{slots: make([]*model.PendingMessagePart, part.TotalParts)}
			groups[key] = group
		}

		if part.PartIndex < 0 || part.PartIndex >= len(group.slots) {
			// Index outside the declared slot array: discard the row,
			// never the batch.
			dropped = append(dropped, part.ID)
			continue
		}
		if group.slots[part.PartIndex] != nil {
			dropped = append(dropped, part.ID)
			result.DroppedDuplicates++
			continue
		}
		group.slots[part.PartIndex] = part
		group.filled++

		if group.filled == len(group.slots) {
			msg, err := adapter.ConvertMessagePartsToMessage(group.slots)
			if err != nil {
				return err
			}
			if stagedIDs[msg.CarrierMessageID] {
				for _, p := range group.slots {
					dropped = append(dropped, p.ID)
				}
				result.DroppedDuplicates++
				delete(groups, key)
				continue
			}
			msg.ContactID = thread.ContactID
			msg.AssignmentID = thread.AssignmentID
			ids := make([]int64, len(group.slots))
			for i, p := range group.slots {
				ids[i] = p.ID
			}
			staged = append(staged, stagedMessage{message: msg, partIDs: ids})
			stagedIDs[msg.CarrierMessageID] = true
			delete(groups, key)
		}
	}

	// Persist each finished message with its fragment deletes in one
	// transaction; saving also flips the contact to needs-response.
	for _, sm := range staged {
		sm := sm
		err := s.messageRepo.WithinTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.messageRepo.Create(ctx, sm.message); err != nil {
				return err
			}
			if err := s.contactRepo.UpdateStatus(ctx, sm.message.ContactID, model.MessageStatusNeedsResponse); err != nil {
				return err
			}
			_, err := s.partRepo.DeleteByIDs(ctx, sm.partIDs)
			return err
		})
		if err != nil {
			// Likely a concurrent worker saved the same carrier id
			// first; the fragments stay and the next pass drops them.
			logger.Warn("failed to persist reassembled message", "carrier_message_id", sm.message.CarrierMessageID, "error", err)
			continue
		}
		result.Saved++
	}

	if _, err := s.partRepo.DeleteByIDs(ctx, dropped); err != nil {
		return err
	}
	return nil
}
