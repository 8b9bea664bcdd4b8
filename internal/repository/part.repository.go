package repository

import (
	"context"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
)

type PartRepository struct {
	*pg.DB
}

func NewPartRepository(db *pg.DB) *PartRepository {
	return &PartRepository{
		db,
	}
}

func (r *PartRepository) Create(ctx context.Context, part *model.PendingMessagePart) (*model.PendingMessagePart, error) {
	entity := toPartEntity(part)
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toPartModel(entity), nil
}

// ListBatch returns the oldest pending fragments up to limit, in arrival
// order. Fragments of still-incomplete groups stay in the table for a
// later pass.
func (r *PartRepository) ListBatch(ctx context.Context, limit int) ([]*model.PendingMessagePart, error) {
	if limit <= 0 {
		limit = 500
	}
	var entities []*PendingMessagePartEntity
	err := r.Read(ctx).WithContext(ctx).
		Order("id").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toPartModels(entities), nil
}

func (r *PartRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&PendingMessagePartEntity{})
	return res.RowsAffected, res.Error
}

func (r *PartRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&PendingMessagePartEntity{}).Count(&count).Error
	return count, err
}
