package model

import (
	"encoding/json"
	"errors"
	"time"
)

// JobKind identifies which handler a queued job is dispatched to.
type JobKind string

const (
	JobKindUploadContacts    JobKind = "uploadContacts"
	JobKindWarehouseImport   JobKind = "loadContactsFromDataWarehouse"
	JobKindWarehouseFragment JobKind = "loadContactsFromDataWarehouseFragment"
	JobKindAssignTexters     JobKind = "assignTexters"
	JobKindExportCampaign    JobKind = "exportCampaign"
	JobKindSendMessages      JobKind = "sendMessages"
	JobKindReassembleInbound JobKind = "reassembleIncoming"
	JobKindClearOldJobs      JobKind = "clearOldJobs"
)

// Job is the shared progress/resumability record every background step
// reads before acting. A missing record means the job was cancelled or
// already completed, and redelivered work must be a no-op.
type Job struct {
	ID             int64           `json:"id"              db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Kind           JobKind         `json:"kind"            db:"kind"            gorm:"column:kind;not null;index"`
	CampaignID     int64           `json:"campaign_id"     db:"campaign_id"     gorm:"column:campaign_id;not null;index"`
	OrganizationID int64           `json:"organization_id" db:"organization_id" gorm:"column:organization_id;not null"`
	Payload        json.RawMessage `json:"payload"         db:"payload"         gorm:"column:payload"`
	Progress       int             `json:"progress"        db:"progress"        gorm:"column:progress;not null;default:0"`
	ResultMessage  string          `json:"result_message"  db:"result_message"  gorm:"column:result_message"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (Job) TableName() string { return "jobs" }

// JobCreateRequest is the input for enqueueing a job.
type JobCreateRequest struct {
	Kind           JobKind
	CampaignID     int64
	OrganizationID int64
	Payload        json.RawMessage
}

func (p JobCreateRequest) Validate() error {
	if p.Kind == "" {
		return errors.New("kind is required")
	}
	if p.CampaignID == 0 {
		return errors.New("campaign_id is required")
	}
	if p.OrganizationID == 0 {
		return errors.New("organization_id is required")
	}
	return nil
}

// JobEnvelope is the message shape that travels on the jobs stream. The
// payload is opaque to the runner; each handler decodes its own.
type JobEnvelope struct {
	Kind           JobKind         `json:"kind"`
	JobID          int64           `json:"job_id"`
	CampaignID     int64           `json:"campaign_id"`
	OrganizationID int64           `json:"organization_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// WarehouseFragment describes one bounded page of a resumable warehouse
// import. It travels over the jobs stream, so continuation survives
// process boundaries; delivery is at-least-once.
type WarehouseFragment struct {
	JobID          int64  `json:"jobId"`
	CampaignID     int64  `json:"campaignId"`
	Query          string `json:"query"`
	OrganizationID int64  `json:"organizationId"`
	TotalParts     int    `json:"totalParts"`
	TotalCount     int64  `json:"totalCount"`
	Step           int    `json:"step"`
	Part           int    `json:"part"`
	Offset         int64  `json:"offset"`
	Limit          int64  `json:"limit"`
}
