package repository

import (
	"context"
	"regexp"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm/clause"
)

// cellPattern is the E.164 shape imported contacts must have after
// normalization. Anything else is removed by the malformed-cell pass.
var cellPattern = regexp.MustCompile(`^\+[0-9]{10,15}$`)

const deleteBatchSize = 1000

type ContactRepository struct {
	*pg.DB
}

func NewContactRepository(db *pg.DB) *ContactRepository {
	return &ContactRepository{
		db,
	}
}

func (r *ContactRepository) CreateInBatches(ctx context.Context, contacts []*model.Contact, batchSize int) error {
	if len(contacts) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = deleteBatchSize
	}
	entities := toContactEntities(contacts)
	return r.Write(ctx).WithContext(ctx).CreateInBatches(entities, batchSize).Error
}

func (r *ContactRepository) Get(ctx context.Context, id int64) (*model.Contact, error) {
	var entity ContactEntity
	if err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, err
	}
	return toContactModel(&entity), nil
}

func (r *ContactRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.Contact, error) {
	var entities []*ContactEntity
	q := r.Read(ctx).WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&entities).Error; err != nil {
		return nil, err
	}
	return toContactModels(entities), nil
}

// CountUnassigned returns the size of the campaign's unassigned,
// non-archived pool. The reconciler threads this number through its
// sequential roster walk.
func (r *ContactRepository) CountUnassigned(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("campaign_id = ? AND assignment_id IS NULL AND archived = ?", campaignID, false).
		Count(&count).Error
	return count, err
}

// ClaimUnassigned picks up to limit unassigned contact ids under a
// non-blocking row lock. Rows already locked by a concurrent
// reconciliation are skipped, which is the sole mechanism preventing a
// contact from being claimed twice. SQLite has no FOR UPDATE; there the
// plain select is used and the test database runs single-writer.
func (r *ContactRepository) ClaimUnassigned(ctx context.Context, campaignID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := r.Write(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("campaign_id = ? AND assignment_id IS NULL AND archived = ?", campaignID, false).
		Order("id").
		Limit(limit)
	if r.Write(ctx).Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var ids []int64
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// AssignContacts points the claimed rows at an assignment. The
// assignment_id IS NULL guard makes a replayed update a no-op.
func (r *ContactRepository) AssignContacts(ctx context.Context, ids []int64, assignmentID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("id IN ? AND assignment_id IS NULL", ids).
		Update("assignment_id", assignmentID)
	return res.RowsAffected, res.Error
}

// ReleaseNeedsMessage returns every still-untexted contact of the given
// assignments to the unassigned pool.
func (r *ContactRepository) ReleaseNeedsMessage(ctx context.Context, assignmentIDs []int64) (int64, error) {
	if len(assignmentIDs) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("assignment_id IN ? AND message_status = ?", assignmentIDs, string(model.MessageStatusNeedsMessage)).
		Update("assignment_id", nil)
	return res.RowsAffected, res.Error
}

func (r *ContactRepository) UpdateStatus(ctx context.Context, id int64, status model.MessageStatus) error {
	return r.Write(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("id = ?", id).
		Update("message_status", string(status)).Error
}

// FindByCell resolves the contact a reply belongs to: the newest
// non-archived contact in the organization with that cell.
func (r *ContactRepository) FindByCell(ctx context.Context, cell string) (*model.Contact, error) {
	var entity ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("cell = ? AND archived = ?", cell, false).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		return nil, err
	}
	return toContactModel(&entity), nil
}

// DeleteOptedOut removes contacts whose cell appears in the
// organization's opt-out list. Safe to repeat; a cleaned pool yields 0.
func (r *ContactRepository) DeleteOptedOut(ctx context.Context, campaignID, organizationID int64) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("campaign_id = ? AND cell IN (?)",
			campaignID,
			r.Write(ctx).Model(&OptOutEntity{}).Select("cell").Where("organization_id = ?", organizationID),
		).
		Delete(&ContactEntity{})
	return res.RowsAffected, res.Error
}

// DeleteInvalidCells removes contacts whose cell is not E.164. The
// check runs in Go so the pass behaves identically on every dialect.
func (r *ContactRepository) DeleteInvalidCells(ctx context.Context, campaignID int64) (int64, error) {
	type row struct {
		ID   int64
		Cell string
	}
	var rows []row
	err := r.Read(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Select("id", "cell").
		Where("campaign_id = ?", campaignID).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	var invalid []int64
	for _, c := range rows {
		if !cellPattern.MatchString(c.Cell) {
			invalid = append(invalid, c.ID)
		}
	}

	var deleted int64
	for start := 0; start < len(invalid); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(invalid) {
			end = len(invalid)
		}
		res := r.Write(ctx).WithContext(ctx).
			Where("id IN ?", invalid[start:end]).
			Delete(&ContactEntity{})
		if res.Error != nil {
			return deleted, res.Error
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// DeleteDuplicateCells keeps the lowest id per (campaign, cell) and
// removes the rest.
func (r *ContactRepository) DeleteDuplicateCells(ctx context.Context, campaignID int64) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("campaign_id = ? AND id NOT IN (?)",
			campaignID,
			r.Write(ctx).Model(&ContactEntity{}).Select("MIN(id)").Where("campaign_id = ?", campaignID).Group("cell"),
		).
		Delete(&ContactEntity{})
	return res.RowsAffected, res.Error
}

// DeleteByCampaign clears a campaign's contact list ahead of a fresh
// upload.
func (r *ContactRepository) DeleteByCampaign(ctx context.Context, campaignID int64) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Delete(&ContactEntity{})
	return res.RowsAffected, res.Error
}

func (r *ContactRepository) CountByCampaign(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error
	return count, err
}

func (r *ContactRepository) CountByAssignment(ctx context.Context, assignmentID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&ContactEntity{}).
		Where("assignment_id = ?", assignmentID).
		Count(&count).Error
	return count, err
}
