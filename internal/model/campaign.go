package model

import "time"

type Campaign struct {
	ID                   int64     `json:"id"                     db:"id"                     gorm:"primaryKey;autoIncrement;column:id"`
	OrganizationID       int64     `json:"organization_id"        db:"organization_id"        gorm:"column:organization_id;not null;index"`
	Title                string    `json:"title"                  db:"title"                  gorm:"column:title;not null"`
	UseDynamicAssignment bool      `json:"use_dynamic_assignment" db:"use_dynamic_assignment" gorm:"column:use_dynamic_assignment;not null;default:false"`
	Archived             bool      `json:"archived"               db:"archived"               gorm:"column:archived;not null;default:false"`
	CreatedAt            time.Time `json:"created_at"             db:"created_at"             gorm:"column:created_at;autoCreateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// OptOut records a cell that must never be texted again for an
// organization. The import cleanup passes consult this table.
type OptOut struct {
	ID             int64     `json:"id"              db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Cell           string    `json:"cell"            db:"cell"            gorm:"column:cell;not null;uniqueIndex:idx_optout_cell_org"`
	OrganizationID int64     `json:"organization_id" db:"organization_id" gorm:"column:organization_id;not null;uniqueIndex:idx_optout_cell_org"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (OptOut) TableName() string { return "opt_outs" }
