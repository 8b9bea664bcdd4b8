package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when a job record no longer exists.
	// Handlers treat this as a cancellation signal, not a failure.
	ErrJobNotFound = errors.New("job not found")
)

type JobRepository struct {
	*pg.DB
}

func NewJobRepository(db *pg.DB) *JobRepository {
	return &JobRepository{
		db,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	entity := toJobEntity(job)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toJobModel(entity), nil
}

func (r *JobRepository) Get(ctx context.Context, id int64) (*model.Job, error) {
	var entity JobEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return toJobModel(&entity), nil
}

// Exists reports whether the job record is still present. Continuations
// arriving over the queue call this before doing any work.
func (r *JobRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&JobEntity{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return r.Write(ctx).WithContext(ctx).Model(&JobEntity{}).
		Where("id = ?", id).
		Update("progress", progress).Error
}

func (r *JobRepository) SetResultMessage(ctx context.Context, id int64, message string) error {
	return r.Write(ctx).WithContext(ctx).Model(&JobEntity{}).
		Where("id = ?", id).
		Update("result_message", message).Error
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).Delete(&JobEntity{}, id).Error
}

// DeleteOlderThan removes stale job records. Jobs still reporting
// progress below 100 are kept unless they have not been touched since
// the cutoff either.
func (r *JobRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&JobEntity{})
	return res.RowsAffected, res.Error
}
