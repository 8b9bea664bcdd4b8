package services

import (
	"context"
	"time"

	"github.com/relaytext/campaign-engine/pkg/pg"
)

// HealthService answers the readiness probe: the write database must be
// reachable.
type HealthService struct {
	db *pg.DB
}

func NewHealthService(db *pg.DB) *HealthService {
	return &HealthService{db: db}
}

func (s *HealthService) Get() error {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.Write(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
