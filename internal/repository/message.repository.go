package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// HasCarrierMessageID reports whether an inbound fragment's carrier id
// was already saved. Duplicate fragments are dropped on a hit.
func (r *MessageRepository) HasCarrierMessageID(ctx context.Context, carrierMessageID string) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("carrier_message_id = ?", carrierMessageID).
		Count(&count).Error
	return count > 0, err
}

// HasOpenThread reports whether an outbound message exists for the
// (contact number, user number) pair, i.e. there is a conversation the
// reply can attach to.
func (r *MessageRepository) HasOpenThread(ctx context.Context, contactNumber, userNumber string) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("contact_number = ? AND user_number = ? AND is_from_contact = ?", contactNumber, userNumber, false).
		Count(&count).Error
	return count > 0, err
}

// LatestOutbound returns the newest outbound message in the thread, used
// to attach a reply to the right contact and assignment.
func (r *MessageRepository) LatestOutbound(ctx context.Context, contactNumber, userNumber string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("contact_number = ? AND user_number = ? AND is_from_contact = ?", contactNumber, userNumber, false).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// ClaimQueued picks up to limit queued outbound messages under a
// non-blocking row lock and flips them to sending. Rows locked by
// another worker are skipped; an empty result means another worker owns
// the batch, never an error.
func (r *MessageRepository) ClaimQueued(ctx context.Context, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := r.Write(ctx).WithContext(ctx).
		Where("send_status = ? AND is_from_contact = ?", string(model.SendStatusQueued), false).
		Order("id").
		Limit(limit)
	if r.Write(ctx).Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var entities []*MessageEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	err := r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id IN ? AND send_status = ?", ids, string(model.SendStatusQueued)).
		Update("send_status", string(model.SendStatusSending)).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

func (r *MessageRepository) MarkSent(ctx context.Context, id int64, carrierMessageID string, sentAt time.Time) error {
	return r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"send_status":        string(model.SendStatusSent),
			"carrier_message_id": carrierMessageID,
			"sent_at":            sentAt,
		}).Error
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Where("id = ?", id).
		Update("send_status", string(model.SendStatusFailed)).Error
}

func (r *MessageRepository) ListByContactIDs(ctx context.Context, contactIDs []int64) ([]*model.Message, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}
	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("contact_id IN ?", contactIDs).
		Order("id").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}
