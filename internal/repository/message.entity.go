package repository

import (
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type MessageEntity struct {
	ID               int64      `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	CarrierMessageID string     `db:"carrier_message_id" gorm:"column:carrier_message_id;index:idx_messages_carrier_id,unique,where:carrier_message_id <> ''"`
	ContactID        int64      `db:"contact_id"         gorm:"column:contact_id;not null;index"`
	AssignmentID     *int64     `db:"assignment_id"      gorm:"column:assignment_id;index"`
	ContactNumber    string     `db:"contact_number"     gorm:"column:contact_number;not null;index"`
	UserNumber       string     `db:"user_number"        gorm:"column:user_number;not null"`
	IsFromContact    bool       `db:"is_from_contact"    gorm:"column:is_from_contact;not null"`
	Text             string     `db:"text"               gorm:"column:text;not null"`
	SendStatus       string     `db:"send_status"        gorm:"column:send_status;not null;index"`
	QueuedAt         time.Time  `db:"queued_at"          gorm:"column:queued_at;autoCreateTime"`
	SentAt           *time.Time `db:"sent_at"            gorm:"column:sent_at"`
}

func (MessageEntity) TableName() string { return "messages" }

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:               m.ID,
		CarrierMessageID: m.CarrierMessageID,
		ContactID:        m.ContactID,
		AssignmentID:     m.AssignmentID,
		ContactNumber:    m.ContactNumber,
		UserNumber:       m.UserNumber,
		IsFromContact:    m.IsFromContact,
		Text:             m.Text,
		SendStatus:       string(m.SendStatus),
		QueuedAt:         m.QueuedAt,
		SentAt:           m.SentAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:               e.ID,
		CarrierMessageID: e.CarrierMessageID,
		ContactID:        e.ContactID,
		AssignmentID:     e.AssignmentID,
		ContactNumber:    e.ContactNumber,
		UserNumber:       e.UserNumber,
		IsFromContact:    e.IsFromContact,
		Text:             e.Text,
		SendStatus:       model.SendStatus(e.SendStatus),
		QueuedAt:         e.QueuedAt,
		SentAt:           e.SentAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
