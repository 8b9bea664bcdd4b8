package repository

import (
	"context"
	"testing"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMessageRepository_ClaimQueued(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &model.Message{
			ContactID:     int64(i + 1),
			ContactNumber: "+12025550130",
			Text:          "queued",
			SendStatus:    model.SendStatusQueued,
		})
		require.NoError(t, err)
	}
	// Inbound and already-sent rows are never claimable.
	_, err := repo.Create(ctx, &model.Message{
		ContactID:     9,
		ContactNumber: "+12025550130",
		IsFromContact: true,
		Text:          "reply",
		SendStatus:    model.SendStatusDelivered,
	})
	require.NoError(t, err)

	first, err := repo.ClaimQueued(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Less(t, first[0].ID, first[1].ID)

	second, err := repo.ClaimQueued(ctx, 50)
	require.NoError(t, err)
	require.Len(t, second, 1)

	third, err := repo.ClaimQueued(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestMessageRepository_MarkSentAndFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	msg, err := repo.Create(ctx, &model.Message{
		ContactID:     1,
		ContactNumber: "+12025550131",
		Text:          "hi",
		SendStatus:    model.SendStatusQueued,
	})
	require.NoError(t, err)

	sentAt := time.Now()
	require.NoError(t, repo.MarkSent(ctx, msg.ID, "CM123", sentAt))

	msgs, err := repo.ListByContactIDs(ctx, []int64{1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SendStatusSent, msgs[0].SendStatus)
	assert.Equal(t, "CM123", msgs[0].CarrierMessageID)
	require.NotNil(t, msgs[0].SentAt)

	has, err := repo.HasCarrierMessageID(ctx, "CM123")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasCarrierMessageID(ctx, "CM999")
	require.NoError(t, err)
	assert.False(t, has)

	failed, err := repo.Create(ctx, &model.Message{
		ContactID:     2,
		ContactNumber: "+12025550132",
		Text:          "nope",
		SendStatus:    model.SendStatusSending,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failed.ID))

	msgs, err = repo.ListByContactIDs(ctx, []int64{2})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SendStatusFailed, msgs[0].SendStatus)
}

func TestMessageRepository_LatestOutbound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	older, err := repo.Create(ctx, &model.Message{
		ContactID:     5,
		ContactNumber: "+12025550140",
		UserNumber:    "+15550000001",
		Text:          "first",
		SendStatus:    model.SendStatusSent,
	})
	require.NoError(t, err)

	newer, err := repo.Create(ctx, &model.Message{
		ContactID:     5,
		ContactNumber: "+12025550140",
		UserNumber:    "+15550000001",
		Text:          "second",
		SendStatus:    model.SendStatusSent,
	})
	require.NoError(t, err)

	// An inbound row in the same thread must not win.
	_, err = repo.Create(ctx, &model.Message{
		ContactID:     5,
		ContactNumber: "+12025550140",
		UserNumber:    "+15550000001",
		IsFromContact: true,
		Text:          "reply",
		SendStatus:    model.SendStatusDelivered,
	})
	require.NoError(t, err)

	latest, err := repo.LatestOutbound(ctx, "+12025550140", "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.NotEqual(t, older.ID, latest.ID)

	_, err = repo.LatestOutbound(ctx, "+12025550140", "+15550000999")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
