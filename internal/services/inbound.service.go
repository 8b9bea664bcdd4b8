package services

import (
	"context"
	"errors"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"gorm.io/gorm"
)

var (
	// ErrNoOpenThread marks a reply for a number pair we never texted.
	ErrNoOpenThread = errors.New("no open thread for inbound message")
	// ErrUnknownContact marks a reply whose cell has no live contact.
	ErrUnknownContact = errors.New("no active contact for inbound number")
)

// InboundService accepts carrier webhook deliveries and persists them as
// pending parts for the reassembler. Validation happens at the door:
// malformed payloads and replies with nothing to attach to never reach
// the part table.
type InboundService struct {
	partRepo    *repository.PartRepository
	messageRepo *repository.MessageRepository
	contactRepo *repository.ContactRepository
	registry    *carrier.Registry
}

func NewInboundService(
	partRepo *repository.PartRepository,
	messageRepo *repository.MessageRepository,
	contactRepo *repository.ContactRepository,
	registry *carrier.Registry,
) *InboundService {
	return &InboundService{
		partRepo:    partRepo,
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		registry:    registry,
	}
}

// Receive decodes one raw webhook delivery through the named carrier's
// adapter and stores the resulting part.
func (s *InboundService) Receive(ctx context.Context, carrierName string, rawPayload []byte) (*model.PendingMessagePart, error) {
	adapter, err := s.registry.Resolve(carrierName)
	if err != nil {
		return nil, err
	}

	part, err := adapter.HandleIncomingMessage(rawPayload)
	if err != nil {
		return nil, err
	}

	open, err := s.messageRepo.HasOpenThread(ctx, part.ContactNumber, part.UserNumber)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrNoOpenThread
	}

	if _, err := s.contactRepo.FindByCell(ctx, part.ContactNumber); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownContact
		}
		return nil, err
	}

	created, err := s.partRepo.Create(ctx, part)
	if err != nil {
		return nil, err
	}

	logger.Debug("stored inbound part",
		"carrier", carrierName,
		"carrier_message_id", created.CarrierMessageID,
		"group_id", created.GroupID,
		"part_index", created.PartIndex)
	return created, nil
}
