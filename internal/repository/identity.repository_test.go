package repository

import (
	"context"
	"testing"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRepository_FirstWriteWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.CreateIdentity(ctx, "+15550000001", 1))
	require.NoError(t, repo.CreateIdentity(ctx, "+15550000002", 1))

	first, err := repo.CreateBinding(ctx, "+12025550150", 1, "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", first.IdentityID)

	// A competing write for the same key is ignored; the original
	// binding survives.
	second, err := repo.CreateBinding(ctx, "+12025550150", 1, "+15550000002")
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", second.IdentityID)
	assert.Equal(t, first.ID, second.ID)

	// The same cell in another organization binds independently.
	other, err := repo.CreateBinding(ctx, "+12025550150", 2, "+15550000002")
	require.NoError(t, err)
	assert.Equal(t, "+15550000002", other.IdentityID)
}

func TestIdentityRepository_LeastLoaded(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.CreateIdentity(ctx, "+15550000001", 1))
	require.NoError(t, repo.CreateIdentity(ctx, "+15550000002", 1))

	// With no bindings the tie breaks on identity id.
	id, err := repo.LeastLoadedIdentity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", id)

	_, err = repo.CreateBinding(ctx, "+12025550151", 1, "+15550000001")
	require.NoError(t, err)
	_, err = repo.CreateBinding(ctx, "+12025550152", 1, "+15550000001")
	require.NoError(t, err)
	_, err = repo.CreateBinding(ctx, "+12025550153", 1, "+15550000002")
	require.NoError(t, err)

	id, err = repo.LeastLoadedIdentity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "+15550000002", id)

	count, err := repo.CountBindings(ctx, "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIdentityRepository_MissingRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepository(db.DB)
	ctx := context.Background()

	_, err := repo.FindBinding(ctx, "+12025550160", 1)
	assert.ErrorIs(t, err, ErrBindingMissing)

	_, err = repo.LeastLoadedIdentity(ctx, 1)
	assert.ErrorIs(t, err, ErrNoIdentities)
}

func TestIdentityRepository_BulkIgnoresExisting(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.CreateIdentity(ctx, "+15550000001", 1))
	require.NoError(t, repo.CreateIdentity(ctx, "+15550000002", 1))

	existing, err := repo.CreateBinding(ctx, "+12025550161", 1, "+15550000001")
	require.NoError(t, err)

	err = repo.CreateBindingsBulk(ctx, []*model.StickyBinding{
		{Cell: "+12025550161", OrganizationID: 1, IdentityID: "+15550000002"},
		{Cell: "+12025550162", OrganizationID: 1, IdentityID: "+15550000002"},
	})
	require.NoError(t, err)

	kept, err := repo.FindBinding(ctx, "+12025550161", 1)
	require.NoError(t, err)
	assert.Equal(t, existing.IdentityID, kept.IdentityID)

	fresh, err := repo.FindBinding(ctx, "+12025550162", 1)
	require.NoError(t, err)
	assert.Equal(t, "+15550000002", fresh.IdentityID)
}
