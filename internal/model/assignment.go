package model

import "time"

// Assignment binds one texter to a slice of a campaign's contacts.
// At most one exists per (campaign, texter).
type Assignment struct {
	ID          int64     `json:"id"           db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID  int64     `json:"campaign_id"  db:"campaign_id"  gorm:"column:campaign_id;not null;uniqueIndex:idx_assignment_campaign_texter"`
	TexterID    int64     `json:"texter_id"    db:"texter_id"    gorm:"column:texter_id;not null;uniqueIndex:idx_assignment_campaign_texter"`
	MaxContacts *int      `json:"max_contacts" db:"max_contacts" gorm:"column:max_contacts"` // nil = unlimited
	CreatedAt   time.Time `json:"created_at"   db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (Assignment) TableName() string { return "assignments" }

// TexterInput is one roster entry from the client snapshot driving a
// reconciliation: the desired capacity plus the counts the client saw.
type TexterInput struct {
	ID                int64 `json:"id"`
	MaxContacts       *int  `json:"maxContacts,omitempty"`
	NeedsMessageCount int   `json:"needsMessageCount"`
	ContactsCount     int   `json:"contactsCount"`
}

// AssignmentAggregate is the persisted server-side view of one texter's
// assignment, joined from assignments and campaign_contacts.
type AssignmentAggregate struct {
	AssignmentID      int64 `json:"assignment_id"`
	TexterID          int64 `json:"texter_id"`
	NeedsMessageCount int   `json:"needs_message_count"`
	FullContactCount  int   `json:"full_contact_count"`
	MaxContacts       *int  `json:"max_contacts"`
}
