package model

import (
	"encoding/json"
	"time"
)

// PendingMessagePart is one raw inbound fragment as delivered by a
// carrier, waiting for the reassembler. Multi-part messages share a
// GroupID and declare how many parts exist in total.
type PendingMessagePart struct {
	ID               int64           `json:"id"                 db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	Carrier          string          `json:"carrier"            db:"carrier"            gorm:"column:carrier;not null;index"`
	CarrierMessageID string          `json:"carrier_message_id" db:"carrier_message_id" gorm:"column:carrier_message_id;not null;index"`
	GroupID          string          `json:"group_id"           db:"group_id"           gorm:"column:group_id;index"` // empty = single-part
	PartIndex        int             `json:"part_index"         db:"part_index"         gorm:"column:part_index;not null;default:0"`
	TotalParts       int             `json:"total_parts"        db:"total_parts"        gorm:"column:total_parts;not null;default:1"`
	ContactNumber    string          `json:"contact_number"     db:"contact_number"     gorm:"column:contact_number;not null;index"`
	UserNumber       string          `json:"user_number"        db:"user_number"        gorm:"column:user_number;not null"`
	Body             string          `json:"body"               db:"body"               gorm:"column:body;not null"`
	Headers          json.RawMessage `json:"headers"            db:"headers"            gorm:"column:headers"`
	CreatedAt        time.Time       `json:"created_at"         db:"created_at"         gorm:"column:created_at;autoCreateTime"`
}

func (PendingMessagePart) TableName() string { return "pending_message_parts" }
