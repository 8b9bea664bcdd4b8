package repository

import (
	"encoding/json"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type ContactEntity struct {
	ID           int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID   int64     `db:"campaign_id"    gorm:"column:campaign_id;not null;index"`
	AssignmentID *int64    `db:"assignment_id"  gorm:"column:assignment_id;index"`
	FirstName    string    `db:"first_name"     gorm:"column:first_name;not null"`
	LastName     string    `db:"last_name"      gorm:"column:last_name;not null"`
	Cell         string    `db:"cell"           gorm:"column:cell;not null;index"`
	Timezone     string    `db:"timezone"       gorm:"column:timezone"`
	CustomFields []byte    `db:"custom_fields"  gorm:"column:custom_fields"`
	Status       string    `db:"message_status" gorm:"column:message_status;not null;default:needsMessage;index"`
	Archived     bool      `db:"archived"       gorm:"column:archived;not null;default:false"`
	CreatedAt    time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (ContactEntity) TableName() string { return "campaign_contacts" }

func toContactEntity(c *model.Contact) *ContactEntity {
	if c == nil {
		return nil
	}
	return &ContactEntity{
		ID:           c.ID,
		CampaignID:   c.CampaignID,
		AssignmentID: c.AssignmentID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Cell:         c.Cell,
		Timezone:     c.Timezone,
		CustomFields: []byte(c.CustomFields),
		Status:       string(c.Status),
		Archived:     c.Archived,
		CreatedAt:    c.CreatedAt,
	}
}

func toContactModel(e *ContactEntity) *model.Contact {
	if e == nil {
		return nil
	}
	return &model.Contact{
		ID:           e.ID,
		CampaignID:   e.CampaignID,
		AssignmentID: e.AssignmentID,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		Cell:         e.Cell,
		Timezone:     e.Timezone,
		CustomFields: json.RawMessage(e.CustomFields),
		Status:       model.MessageStatus(e.Status),
		Archived:     e.Archived,
		CreatedAt:    e.CreatedAt,
	}
}

func toContactEntities(contacts []*model.Contact) []*ContactEntity {
	if contacts == nil {
		return nil
	}
	entities := make([]*ContactEntity, len(contacts))
	for i, c := range contacts {
		entities[i] = toContactEntity(c)
	}
	return entities
}

func toContactModels(entities []*ContactEntity) []*model.Contact {
	if entities == nil {
		return nil
	}
	models := make([]*model.Contact, len(entities))
	for i, e := range entities {
		models[i] = toContactModel(e)
	}
	return models
}
