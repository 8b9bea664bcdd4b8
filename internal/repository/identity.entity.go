package repository

import (
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type MessagingIdentityEntity struct {
	ID             string    `db:"id"              gorm:"primaryKey;column:id"`
	OrganizationID int64     `db:"organization_id" gorm:"column:organization_id;not null;index"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (MessagingIdentityEntity) TableName() string { return "messaging_identities" }

type StickyBindingEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Cell           string    `db:"cell"            gorm:"column:cell;not null;uniqueIndex:idx_binding_cell_org"`
	OrganizationID int64     `db:"organization_id" gorm:"column:organization_id;not null;uniqueIndex:idx_binding_cell_org"`
	IdentityID     string    `db:"identity_id"     gorm:"column:identity_id;not null;index"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (StickyBindingEntity) TableName() string { return "sticky_bindings" }

func toBindingModel(e *StickyBindingEntity) *model.StickyBinding {
	if e == nil {
		return nil
	}
	return &model.StickyBinding{
		ID:             e.ID,
		Cell:           e.Cell,
		OrganizationID: e.OrganizationID,
		IdentityID:     e.IdentityID,
		CreatedAt:      e.CreatedAt,
	}
}

func toIdentityModels(entities []*MessagingIdentityEntity) []*model.MessagingIdentity {
	if entities == nil {
		return nil
	}
	models := make([]*model.MessagingIdentity, len(entities))
	for i, e := range entities {
		models[i] = &model.MessagingIdentity{
			ID:             e.ID,
			OrganizationID: e.OrganizationID,
			CreatedAt:      e.CreatedAt,
		}
	}
	return models
}
