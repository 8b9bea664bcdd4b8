package repository

import (
	"context"
	"errors"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNoIdentities   = errors.New("organization has no messaging identities")
	ErrBindingMissing = errors.New("sticky binding not found")
)

type IdentityRepository struct {
	*pg.DB
}

func NewIdentityRepository(db *pg.DB) *IdentityRepository {
	return &IdentityRepository{
		db,
	}
}

func (r *IdentityRepository) CreateIdentity(ctx context.Context, id string, organizationID int64) error {
	return r.Write(ctx).WithContext(ctx).Create(&MessagingIdentityEntity{
		ID:             id,
		OrganizationID: organizationID,
	}).Error
}

func (r *IdentityRepository) ListByOrganization(ctx context.Context, organizationID int64) ([]*model.MessagingIdentity, error) {
	var entities []*MessagingIdentityEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("id").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toIdentityModels(entities), nil
}

func (r *IdentityRepository) FindBinding(ctx context.Context, cell string, organizationID int64) (*model.StickyBinding, error) {
	var entity StickyBindingEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("cell = ? AND organization_id = ?", cell, organizationID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBindingMissing
		}
		return nil, err
	}
	return toBindingModel(&entity), nil
}

// LeastLoadedIdentity picks the organization's identity with the fewest
// existing bindings; ties break on identity id.
func (r *IdentityRepository) LeastLoadedIdentity(ctx context.Context, organizationID int64) (string, error) {
	var id string
	err := r.Read(ctx).WithContext(ctx).
		Table("messaging_identities AS i").
		Select("i.id").
		Joins("LEFT JOIN sticky_bindings AS b ON b.identity_id = i.id AND b.organization_id = i.organization_id").
		Where("i.organization_id = ?", organizationID).
		Group("i.id").
		Order("COUNT(b.id) ASC, i.id ASC").
		Limit(1).
		Scan(&id).Error
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoIdentities
	}
	return id, nil
}

// CreateBinding inserts the (cell, organization) binding with
// conflict-ignore and returns whatever row won. The first writer wins
// permanently, even under concurrent resolution.
func (r *IdentityRepository) CreateBinding(ctx context.Context, cell string, organizationID int64, identityID string) (*model.StickyBinding, error) {
	entity := &StickyBindingEntity{
		Cell:           cell,
		OrganizationID: organizationID,
		IdentityID:     identityID,
	}
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}
	return r.FindBinding(ctx, cell, organizationID)
}

// CreateBindingsBulk inserts many bindings at once, ignoring rows whose
// key already exists.
func (r *IdentityRepository) CreateBindingsBulk(ctx context.Context, bindings []*model.StickyBinding) error {
	if len(bindings) == 0 {
		return nil
	}
	entities := make([]*StickyBindingEntity, len(bindings))
	for i, b := range bindings {
		entities[i] = &StickyBindingEntity{
			Cell:           b.Cell,
			OrganizationID: b.OrganizationID,
			IdentityID:     b.IdentityID,
		}
	}
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entities, deleteBatchSize).Error
}

func (r *IdentityRepository) CountBindings(ctx context.Context, identityID string) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&StickyBindingEntity{}).
		Where("identity_id = ?", identityID).
		Count(&count).Error
	return count, err
}
