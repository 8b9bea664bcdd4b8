package repository

import (
	"encoding/json"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
)

type JobEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Kind           string    `db:"kind"            gorm:"column:kind;not null;index"`
	CampaignID     int64     `db:"campaign_id"     gorm:"column:campaign_id;not null;index"`
	OrganizationID int64     `db:"organization_id" gorm:"column:organization_id;not null"`
	Payload        []byte    `db:"payload"         gorm:"column:payload"`
	Progress       int       `db:"progress"        gorm:"column:progress;not null;default:0"`
	ResultMessage  string    `db:"result_message"  gorm:"column:result_message"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (JobEntity) TableName() string { return "jobs" }

func toJobEntity(j *model.Job) *JobEntity {
	if j == nil {
		return nil
	}
	return &JobEntity{
		ID:             j.ID,
		Kind:           string(j.Kind),
		CampaignID:     j.CampaignID,
		OrganizationID: j.OrganizationID,
		Payload:        []byte(j.Payload),
		Progress:       j.Progress,
		ResultMessage:  j.ResultMessage,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func toJobModel(e *JobEntity) *model.Job {
	if e == nil {
		return nil
	}
	return &model.Job{
		ID:             e.ID,
		Kind:           model.JobKind(e.Kind),
		CampaignID:     e.CampaignID,
		OrganizationID: e.OrganizationID,
		Payload:        json.RawMessage(e.Payload),
		Progress:       e.Progress,
		ResultMessage:  e.ResultMessage,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
