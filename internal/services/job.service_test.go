package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobService_CreatePublishesEnvelope(t *testing.T) {
	e := newServiceEnv(t)
	publisher := &recordingPublisher{}
	svc := NewJobService(e.jobRepo, publisher)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"query": "SELECT 1"})
	job, err := svc.Create(ctx, model.JobCreateRequest{
		Kind:           model.JobKindWarehouseImport,
		CampaignID:     5,
		OrganizationID: 2,
		Payload:        payload,
	})
	require.NoError(t, err)
	require.NotZero(t, job.ID)

	require.Len(t, publisher.envelopes, 1)
	assert.Equal(t, model.JobKindWarehouseImport, publisher.envelopes[0].Kind)
	assert.Equal(t, job.ID, publisher.envelopes[0].JobID)
	assert.Equal(t, int64(5), publisher.envelopes[0].CampaignID)

	stored, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobKindWarehouseImport, stored.Kind)
}

func TestJobService_CreateValidates(t *testing.T) {
	e := newServiceEnv(t)
	publisher := &recordingPublisher{}
	svc := NewJobService(e.jobRepo, publisher)

	_, err := svc.Create(context.Background(), model.JobCreateRequest{
		CampaignID:     5,
		OrganizationID: 2,
	})
	require.Error(t, err)
	assert.Empty(t, publisher.envelopes)
}

func TestJobService_PublishFailureRollsBackRecord(t *testing.T) {
	e := newServiceEnv(t)
	publisher := &recordingPublisher{err: errors.New("stream down")}
	svc := NewJobService(e.jobRepo, publisher)
	ctx := context.Background()

	_, err := svc.Create(ctx, model.JobCreateRequest{
		Kind:           model.JobKindSendMessages,
		CampaignID:     5,
		OrganizationID: 2,
	})
	require.Error(t, err)

	// The record must not linger at 0% with no envelope behind it.
	jobs, countErr := countJobs(e)
	require.NoError(t, countErr)
	assert.Zero(t, jobs)
}

func TestJobService_Cancel(t *testing.T) {
	e := newServiceEnv(t)
	publisher := &recordingPublisher{}
	svc := NewJobService(e.jobRepo, publisher)
	ctx := context.Background()

	job, err := svc.Create(ctx, model.JobCreateRequest{
		Kind:           model.JobKindExportCampaign,
		CampaignID:     5,
		OrganizationID: 2,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, job.ID))

	_, err = svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	// Cancelling twice reports the record as gone.
	err = svc.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func countJobs(e *serviceEnv) (int64, error) {
	var count int64
	err := e.pg.Read(context.Background()).Table("jobs").Count(&count).Error
	return count, err
}
