package repository

import (
	"encoding/json"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type PendingMessagePartEntity struct {
	ID               int64     `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	Carrier          string    `db:"carrier"            gorm:"column:carrier;not null;index"`
	CarrierMessageID string    `db:"carrier_message_id" gorm:"column:carrier_message_id;not null;index"`
	GroupID          string    `db:"group_id"           gorm:"column:group_id;index"`
	PartIndex        int       `db:"part_index"         gorm:"column:part_index;not null;default:0"`
	TotalParts       int       `db:"total_parts"        gorm:"column:total_parts;not null;default:1"`
	ContactNumber    string    `db:"contact_number"     gorm:"column:contact_number;not null;index"`
	UserNumber       string    `db:"user_number"        gorm:"column:user_number;not null"`
	Body             string    `db:"body"               gorm:"column:body;not null"`
	Headers          []byte    `db:"headers"            gorm:"column:headers"`
	CreatedAt        time.Time `db:"created_at"         gorm:"column:created_at;autoCreateTime"`
}

func (PendingMessagePartEntity) TableName() string { return "pending_message_parts" }

func toPartEntity(p *model.PendingMessagePart) *PendingMessagePartEntity {
	if p == nil {
		return nil
	}
	return &PendingMessagePartEntity{
		ID:               p.ID,
		Carrier:          p.Carrier,
		CarrierMessageID: p.CarrierMessageID,
		GroupID:          p.GroupID,
		PartIndex:        p.PartIndex,
		TotalParts:       p.TotalParts,
		ContactNumber:    p.ContactNumber,
		UserNumber:       p.UserNumber,
		Body:             p.Body,
		Headers:          []byte(p.Headers),
		CreatedAt:        p.CreatedAt,
	}
}

func toPartModel(e *PendingMessagePartEntity) *model.PendingMessagePart {
	if e == nil {
		return nil
	}
	return &model.PendingMessagePart{
		ID:               e.ID,
		Carrier:          e.Carrier,
		CarrierMessageID: e.CarrierMessageID,
		GroupID:          e.GroupID,
		PartIndex:        e.PartIndex,
		TotalParts:       e.TotalParts,
		ContactNumber:    e.ContactNumber,
		UserNumber:       e.UserNumber,
		Body:             e.Body,
		Headers:          json.RawMessage(e.Headers),
		CreatedAt:        e.CreatedAt,
	}
}

func toPartModels(entities []*PendingMessagePartEntity) []*model.PendingMessagePart {
	if entities == nil {
		return nil
	}
	models := make([]*model.PendingMessagePart, len(entities))
	for i, e := range entities {
		models[i] = toPartModel(e)
	}
	return models
}
