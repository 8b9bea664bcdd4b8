package repository

import (
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type AssignmentEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID  int64     `db:"campaign_id"  gorm:"column:campaign_id;not null;uniqueIndex:idx_assignment_campaign_texter"`
	TexterID    int64     `db:"texter_id"    gorm:"column:texter_id;not null;uniqueIndex:idx_assignment_campaign_texter"`
	MaxContacts *int      `db:"max_contacts" gorm:"column:max_contacts"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (AssignmentEntity) TableName() string { return "assignments" }

func toAssignmentEntity(a *model.Assignment) *AssignmentEntity {
	if a == nil {
		return nil
	}
	return &AssignmentEntity{
		ID:          a.ID,
		CampaignID:  a.CampaignID,
		TexterID:    a.TexterID,
		MaxContacts: a.MaxContacts,
		CreatedAt:   a.CreatedAt,
	}
}

func toAssignmentModel(e *AssignmentEntity) *model.Assignment {
	if e == nil {
		return nil
	}
	return &model.Assignment{
		ID:          e.ID,
		CampaignID:  e.CampaignID,
		TexterID:    e.TexterID,
		MaxContacts: e.MaxContacts,
		CreatedAt:   e.CreatedAt,
	}
}
