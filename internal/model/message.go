package model

import (
	"errors"
	"time"
)

// SendStatus is the lifecycle state of an outbound message.
type SendStatus string

const (
	SendStatusQueued    SendStatus = "queued"
	SendStatusSending   SendStatus = "sending"
	SendStatusSent      SendStatus = "sent"
	SendStatusDelivered SendStatus = "delivered"
	SendStatusFailed    SendStatus = "failed"
)

// Message is one saved inbound or outbound text. CarrierMessageID is
// unique among saved messages; the reassembler relies on that for
// deduplication.
type Message struct {
	ID               int64      `json:"id"                 db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	CarrierMessageID string     `json:"carrier_message_id" db:"carrier_message_id" gorm:"column:carrier_message_id;uniqueIndex"`
	ContactID        int64      `json:"contact_id"         db:"contact_id"         gorm:"column:contact_id;not null;index"`
	AssignmentID     *int64     `json:"assignment_id"      db:"assignment_id"      gorm:"column:assignment_id;index"`
	ContactNumber    string     `json:"contact_number"     db:"contact_number"     gorm:"column:contact_number;not null;index"`
	UserNumber       string     `json:"user_number"        db:"user_number"        gorm:"column:user_number;not null"`
	IsFromContact    bool       `json:"is_from_contact"    db:"is_from_contact"    gorm:"column:is_from_contact;not null"`
	Text             string     `json:"text"               db:"text"               gorm:"column:text;not null"`
	SendStatus       SendStatus `json:"send_status"        db:"send_status"        gorm:"column:send_status;not null;index"`
	QueuedAt         time.Time  `json:"queued_at"          db:"queued_at"          gorm:"column:queued_at;autoCreateTime"`
	SentAt           *time.Time `json:"sent_at"            db:"sent_at"            gorm:"column:sent_at"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) Validate() error {
	if m.ContactID == 0 {
		return errors.New("contact_id is required")
	}
	if m.ContactNumber == "" {
		return errors.New("contact_number is required")
	}
	if m.Text == "" {
		return errors.New("text is required")
	}
	return nil
}
