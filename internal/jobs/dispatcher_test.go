package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_MalformedEnvelopeAcks(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	d := NewDispatcher(repository.NewJobRepository(pgDB), nil, nil, nil, nil, nil, nil, 0)

	err := d.Process(context.Background(), &queue.Message{
		ID:   "1-0",
		Data: []byte("{not json"),
	})
	assert.NoError(t, err, "a payload that can never decode must ack, not retry forever")
}

func TestDispatcher_UnknownKind(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	d := NewDispatcher(repository.NewJobRepository(pgDB), nil, nil, nil, nil, nil, nil, 0)

	data, _ := json.Marshal(model.JobEnvelope{Kind: "mystery"})
	err := d.Process(context.Background(), &queue.Message{ID: "1-1", Data: data})
	assert.ErrorIs(t, err, ErrUnknownJobKind)
}

func TestDispatcher_MissingJobRecordIsCancellation(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	d := NewDispatcher(repository.NewJobRepository(pgDB), nil, nil, nil, nil, nil, nil, 0)

	data, _ := json.Marshal(model.JobEnvelope{
		Kind:       model.JobKindAssignTexters,
		JobID:      777,
		CampaignID: 1,
	})
	err := d.Process(context.Background(), &queue.Message{ID: "1-2", Data: data})
	assert.NoError(t, err, "a deleted record means cancellation; the delivery acks as a no-op")
}

func TestDispatcher_ClearOldJobs(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	jobRepo := repository.NewJobRepository(pgDB)
	d := NewDispatcher(jobRepo, nil, nil, nil, nil, nil, nil, 0)
	ctx := context.Background()

	stale, err := jobRepo.Create(ctx, &model.Job{
		Kind: model.JobKindExportCampaign, CampaignID: 1, OrganizationID: 1,
	})
	require.NoError(t, err)
	fresh, err := jobRepo.Create(ctx, &model.Job{
		Kind: model.JobKindExportCampaign, CampaignID: 2, OrganizationID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, pgDB.Write(ctx).Table("jobs").
		Where("id = ?", stale.ID).
		Update("updated_at", time.Now().Add(-15*24*time.Hour)).Error)

	data, _ := json.Marshal(model.JobEnvelope{Kind: model.JobKindClearOldJobs})
	require.NoError(t, d.Process(ctx, &queue.Message{ID: "1-3", Data: data}))

	exists, err := jobRepo.Exists(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = jobRepo.Exists(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDispatcher_ClearOldJobsHonorsConfiguredRetention(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	jobRepo := repository.NewJobRepository(pgDB)
	d := NewDispatcher(jobRepo, nil, nil, nil, nil, nil, nil, time.Hour)
	ctx := context.Background()

	// Two hours stale: swept under a one-hour retention, kept under the
	// built-in default.
	stale, err := jobRepo.Create(ctx, &model.Job{
		Kind: model.JobKindExportCampaign, CampaignID: 1, OrganizationID: 1,
	})
	require.NoError(t, err)
	require.NoError(t, pgDB.Write(ctx).Table("jobs").
		Where("id = ?", stale.ID).
		Update("updated_at", time.Now().Add(-2*time.Hour)).Error)

	fresh, err := jobRepo.Create(ctx, &model.Job{
		Kind: model.JobKindExportCampaign, CampaignID: 2, OrganizationID: 1,
	})
	require.NoError(t, err)

	data, _ := json.Marshal(model.JobEnvelope{Kind: model.JobKindClearOldJobs})
	require.NoError(t, d.Process(ctx, &queue.Message{ID: "1-4", Data: data}))

	exists, err := jobRepo.Exists(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = jobRepo.Exists(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDispatcher_IdempotencySkipsHandledDelivery(t *testing.T) {
	pgDB := helpers.SetupTestDB(t)
	mr, adapter := helpers.SetupTestRedis(t)
	defer mr.Close()

	jobRepo := repository.NewJobRepository(pgDB)
	idem := NewIdempotency(adapter, DefaultIdempotencyConfig())
	d := NewDispatcher(jobRepo, nil, nil, nil, nil, nil, idem, 0)
	ctx := context.Background()

	makeStale := func() *model.Job {
		job, err := jobRepo.Create(ctx, &model.Job{
			Kind: model.JobKindExportCampaign, CampaignID: 1, OrganizationID: 1,
		})
		require.NoError(t, err)
		require.NoError(t, pgDB.Write(ctx).Table("jobs").
			Where("id = ?", job.ID).
			Update("updated_at", time.Now().Add(-15*24*time.Hour)).Error)
		return job
	}

	first := makeStale()
	data, _ := json.Marshal(model.JobEnvelope{Kind: model.JobKindClearOldJobs})
	require.NoError(t, d.Process(ctx, &queue.Message{ID: "stream-9", Data: data}))

	exists, err := jobRepo.Exists(ctx, first.ID)
	require.NoError(t, err)
	require.False(t, exists)

	// The same stream entry delivered again is recognized and skipped:
	// a new stale record survives the replay.
	second := makeStale()
	require.NoError(t, d.Process(ctx, &queue.Message{ID: "stream-9", Data: data}))

	exists, err = jobRepo.Exists(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, exists, "a handled delivery must not run twice")

	// A different delivery id sweeps it.
	require.NoError(t, d.Process(ctx, &queue.Message{ID: "stream-10", Data: data}))
	exists, err = jobRepo.Exists(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}
