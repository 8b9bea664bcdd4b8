package repository

import (
	"context"
	"errors"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm"
)

var ErrAssignmentNotFound = errors.New("assignment not found")

type AssignmentRepository struct {
	*pg.DB
}

func NewAssignmentRepository(db *pg.DB) *AssignmentRepository {
	return &AssignmentRepository{
		db,
	}
}

func (r *AssignmentRepository) Create(ctx context.Context, a *model.Assignment) (*model.Assignment, error) {
	entity := toAssignmentEntity(a)
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toAssignmentModel(entity), nil
}

func (r *AssignmentRepository) GetByCampaignTexter(ctx context.Context, campaignID, texterID int64) (*model.Assignment, error) {
	var entity AssignmentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("campaign_id = ? AND texter_id = ?", campaignID, texterID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return toAssignmentModel(&entity), nil
}

func (r *AssignmentRepository) UpdateMaxContacts(ctx context.Context, id int64, maxContacts *int) error {
	return r.Write(ctx).WithContext(ctx).Model(&AssignmentEntity{}).
		Where("id = ?", id).
		Update("max_contacts", maxContacts).Error
}

// AggregatesByCampaign returns the persisted per-texter view the
// reconciler diffs the client roster against: needs-message count and
// full contact count joined from campaign_contacts.
func (r *AssignmentRepository) AggregatesByCampaign(ctx context.Context, campaignID int64) ([]*model.AssignmentAggregate, error) {
	var rows []*model.AssignmentAggregate
	err := r.Read(ctx).WithContext(ctx).
		Table("assignments AS a").
		Select(`
            a.id        AS assignment_id,
            a.texter_id AS texter_id,
            a.max_contacts AS max_contacts,
            COUNT(CASE WHEN c.message_status = ? THEN 1 END) AS needs_message_count,
            COUNT(c.id) AS full_contact_count
        `, string(model.MessageStatusNeedsMessage)).
		Joins("LEFT JOIN campaign_contacts AS c ON c.assignment_id = a.id").
		Where("a.campaign_id = ?", campaignID).
		Group("a.id, a.texter_id, a.max_contacts").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteIfEmpty drops an assignment only when no contact points at it.
// Standard-mode reconciliation calls this for every demoted texter.
func (r *AssignmentRepository) DeleteIfEmpty(ctx context.Context, id int64) (bool, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("id = ? AND NOT EXISTS (?)",
			id,
			r.Write(ctx).Model(&ContactEntity{}).Select("1").Where("assignment_id = ?", id),
		).
		Delete(&AssignmentEntity{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
