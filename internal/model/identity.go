package model

import "time"

// MessagingIdentity is one sending identity (a service number or
// messaging-service SID) owned by an organization.
type MessagingIdentity struct {
	ID             string    `json:"id"              db:"id"              gorm:"primaryKey;column:id"`
	OrganizationID int64     `json:"organization_id" db:"organization_id" gorm:"column:organization_id;not null;index"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (MessagingIdentity) TableName() string { return "messaging_identities" }

// StickyBinding pins a destination cell to one identity for an
// organization. Append-only; the first write for a key wins permanently.
type StickyBinding struct {
	ID             int64     `json:"id"              db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Cell           string    `json:"cell"            db:"cell"            gorm:"column:cell;not null;uniqueIndex:idx_binding_cell_org"`
	OrganizationID int64     `json:"organization_id" db:"organization_id" gorm:"column:organization_id;not null;uniqueIndex:idx_binding_cell_org"`
	IdentityID     string    `json:"identity_id"     db:"identity_id"     gorm:"column:identity_id;not null;index"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (StickyBinding) TableName() string { return "sticky_bindings" }
