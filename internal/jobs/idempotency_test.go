package jobs

import (
	"context"
	"testing"

	"github.com/relaytext/campaign-engine/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotency_LockLifecycle(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	defer mr.Close()

	idem := NewIdempotency(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	require.NoError(t, idem.Acquire(ctx, "delivery-1"))

	// A concurrent consumer cannot take the same delivery.
	err := idem.Acquire(ctx, "delivery-1")
	assert.ErrorIs(t, err, ErrLockAcquireFailed)

	// Releasing after a failure lets the redelivery proceed.
	idem.Release(ctx, "delivery-1")
	require.NoError(t, idem.Acquire(ctx, "delivery-1"))

	// Completion installs the handled marker; any later redelivery is a
	// recognized duplicate.
	require.NoError(t, idem.MarkHandled(ctx, "delivery-1"))
	err = idem.Acquire(ctx, "delivery-1")
	assert.ErrorIs(t, err, ErrAlreadyHandled)

	// Other deliveries are unaffected.
	require.NoError(t, idem.Acquire(ctx, "delivery-2"))
}

func TestIdempotency_LockExpires(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	defer mr.Close()

	idem := NewIdempotency(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	require.NoError(t, idem.Acquire(ctx, "delivery-3"))

	// A crashed consumer never releases; the TTL eventually frees the
	// delivery for reclaim.
	mr.FastForward(DefaultIdempotencyConfig().LockTTL + 1)
	require.NoError(t, idem.Acquire(ctx, "delivery-3"))
}
