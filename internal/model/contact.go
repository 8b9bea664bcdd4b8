package model

import (
	"encoding/json"
	"time"
)

// MessageStatus is a contact's place in the texting conversation lifecycle.
type MessageStatus string

const (
	MessageStatusNeedsMessage  MessageStatus = "needsMessage"
	MessageStatusNeedsResponse MessageStatus = "needsResponse"
	MessageStatusMessaged      MessageStatus = "messaged"
	MessageStatusConvo         MessageStatus = "convo"
	MessageStatusClosed        MessageStatus = "closed"
)

type Contact struct {
	ID           int64           `json:"id"            db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID   int64           `json:"campaign_id"   db:"campaign_id"   gorm:"column:campaign_id;not null;index"`
	AssignmentID *int64          `json:"assignment_id" db:"assignment_id" gorm:"column:assignment_id;index"` // nil = unassigned pool
	FirstName    string          `json:"first_name"    db:"first_name"    gorm:"column:first_name;not null"`
	LastName     string          `json:"last_name"     db:"last_name"     gorm:"column:last_name;not null"`
	Cell         string          `json:"cell"          db:"cell"          gorm:"column:cell;not null;index"` // E.164
	Timezone     string          `json:"timezone"      db:"timezone"      gorm:"column:timezone"`
	CustomFields json.RawMessage `json:"custom_fields" db:"custom_fields" gorm:"column:custom_fields"`
	Status       MessageStatus   `json:"message_status" db:"message_status" gorm:"column:message_status;not null;default:needsMessage;index"`
	Archived     bool            `json:"archived"      db:"archived"      gorm:"column:archived;not null;default:false"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"    gorm:"column:created_at;autoCreateTime"`
}

func (Contact) TableName() string { return "campaign_contacts" }
