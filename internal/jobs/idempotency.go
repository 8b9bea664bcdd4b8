package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/relaytext/campaign-engine/pkg/redis"
)

var (
	ErrAlreadyHandled    = errors.New("job delivery already handled")
	ErrLockAcquireFailed = errors.New("failed to acquire job lock")
)

// IdempotencyConfig tunes the redis markers guarding against duplicate
// deliveries of the same stream entry.
type IdempotencyConfig struct {
	LockTTL          time.Duration
	HandledTTL       time.Duration
	LockKeyPrefix    string
	HandledKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:          5 * time.Minute,
		HandledTTL:       24 * time.Hour,
		LockKeyPrefix:    "job:lock:",
		HandledKeyPrefix: "job:handled:",
	}
}

// Idempotency is a redelivery guard, not a correctness mechanism: the
// real at-least-once safety is that every handler checks its job record
// before acting. This only keeps two consumers from burning work on the
// same delivery at the same time.
type Idempotency struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotency(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *Idempotency {
	return &Idempotency{redis: redisAdapter, config: config}
}

// Acquire takes the delivery lock for a stream entry. ErrAlreadyHandled
// means a previous delivery completed; the caller should ack and move
// on.
func (s *Idempotency) Acquire(ctx context.Context, deliveryID string) error {
	handledKey := s.config.HandledKeyPrefix + deliveryID
	exists, err := s.redis.Exist(handledKey)
	if err != nil {
		// A failed check must not block processing; handlers are safe
		// to re-run.
		logger.Warn("handled-marker check failed", "delivery_id", deliveryID, "error", err)
	} else if exists > 0 {
		return ErrAlreadyHandled
	}

	lockKey := s.config.LockKeyPrefix + deliveryID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return ErrLockAcquireFailed
	}
	return nil
}

// MarkHandled sets the long-term marker and drops the lock.
func (s *Idempotency) MarkHandled(ctx context.Context, deliveryID string) error {
	handledKey := s.config.HandledKeyPrefix + deliveryID
	if err := s.redis.Set(handledKey, []byte("1"), s.config.HandledTTL); err != nil {
		return fmt.Errorf("mark delivery handled: %w", err)
	}
	s.Release(ctx, deliveryID)
	return nil
}

// Release drops the lock so a failed delivery can be retried.
func (s *Idempotency) Release(_ context.Context, deliveryID string) {
	lockKey := s.config.LockKeyPrefix + deliveryID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release job lock", "delivery_id", deliveryID, "error", err)
	}
}
