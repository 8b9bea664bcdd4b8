package services

import (
	"context"
	"fmt"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/pkg/logger"
)

// JobService creates job records and puts their envelopes on the jobs
// stream. Cancellation is just deleting the record: every handler and
// continuation checks for it before acting.
type JobService struct {
	jobRepo   *repository.JobRepository
	publisher Publisher
}

func NewJobService(jobRepo *repository.JobRepository, publisher Publisher) *JobService {
	return &JobService{jobRepo: jobRepo, publisher: publisher}
}

func (s *JobService) Create(ctx context.Context, req model.JobCreateRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job, err := s.jobRepo.Create(ctx, &model.Job{
		Kind:           req.Kind,
		CampaignID:     req.CampaignID,
		OrganizationID: req.OrganizationID,
		Payload:        req.Payload,
	})
	if err != nil {
		return nil, err
	}

	envelope := model.JobEnvelope{
		Kind:           job.Kind,
		JobID:          job.ID,
		CampaignID:     job.CampaignID,
		OrganizationID: job.OrganizationID,
		Payload:        job.Payload,
	}
	metadata := map[string]string{"kind": string(job.Kind)}
	if _, err := s.publisher.PublishJSON(ctx, envelope, metadata); err != nil {
		// A record without an envelope would sit at 0% forever; undo it.
		if delErr := s.jobRepo.Delete(ctx, job.ID); delErr != nil {
			logger.Error("failed to remove unpublished job record", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	logger.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "campaign_id", job.CampaignID)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id int64) (*model.Job, error) {
	return s.jobRepo.Get(ctx, id)
}

// Cancel removes the job record. In-flight work finishes its current
// step; the next existence check drops the rest of the chain.
func (s *JobService) Cancel(ctx context.Context, id int64) error {
	if _, err := s.jobRepo.Get(ctx, id); err != nil {
		return err
	}
	return s.jobRepo.Delete(ctx, id)
}
