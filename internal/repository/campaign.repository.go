package repository

import (
	"context"
	"errors"

	"github.com/relaytext/campaign-engine/internal/model"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"gorm.io/gorm"
)

var ErrCampaignNotFound = errors.New("campaign not found")

type CampaignRepository struct {
	*pg.DB
}

func NewCampaignRepository(db *pg.DB) *CampaignRepository {
	return &CampaignRepository{
		db,
	}
}

func (r *CampaignRepository) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	var entity CampaignEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return toCampaignModel(&entity), nil
}

func (r *CampaignRepository) CreateOptOut(ctx context.Context, cell string, organizationID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Where("cell = ? AND organization_id = ?", cell, organizationID).
		FirstOrCreate(&OptOutEntity{Cell: cell, OrganizationID: organizationID}).Error
}

func (r *CampaignRepository) IsOptedOut(ctx context.Context, cell string, organizationID int64) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).Model(&OptOutEntity{}).
		Where("cell = ? AND organization_id = ?", cell, organizationID).
		Count(&count).Error
	return count > 0, err
}
