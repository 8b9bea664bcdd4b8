package repository

import (
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type CampaignEntity struct {
	ID                   int64     `db:"id"                     gorm:"primaryKey;autoIncrement;column:id"`
	OrganizationID       int64     `db:"organization_id"        gorm:"column:organization_id;not null;index"`
	Title                string    `db:"title"                  gorm:"column:title;not null"`
	UseDynamicAssignment bool      `db:"use_dynamic_assignment" gorm:"column:use_dynamic_assignment;not null;default:false"`
	Archived             bool      `db:"archived"               gorm:"column:archived;not null;default:false"`
	CreatedAt            time.Time `db:"created_at"             gorm:"column:created_at;autoCreateTime"`
}

func (CampaignEntity) TableName() string { return "campaigns" }

type OptOutEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Cell           string    `db:"cell"            gorm:"column:cell;not null;uniqueIndex:idx_optout_cell_org"`
	OrganizationID int64     `db:"organization_id" gorm:"column:organization_id;not null;uniqueIndex:idx_optout_cell_org"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (OptOutEntity) TableName() string { return "opt_outs" }

func toCampaignModel(e *CampaignEntity) *model.Campaign {
	if e == nil {
		return nil
	}
	return &model.Campaign{
		ID:                   e.ID,
		OrganizationID:       e.OrganizationID,
		Title:                e.Title,
		UseDynamicAssignment: e.UseDynamicAssignment,
		Archived:             e.Archived,
		CreatedAt:            e.CreatedAt,
	}
}
