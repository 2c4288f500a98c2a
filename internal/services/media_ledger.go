package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/alumnet/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAssetNotFound is returned when no ledger record matches a lookup.
var ErrAssetNotFound = errors.New("media asset not found")

// MediaLedger is the local attachment record store. FindByResources is a
// single query no matter how many resource IDs it is handed; the batch
// resolver's query bound rests on that.
type MediaLedger interface {
	Create(ctx context.Context, asset *models.MediaAsset) error
	Upsert(ctx context.Context, asset *models.MediaAsset) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MediaAsset, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.MediaAsset, error)
	FindByResource(ctx context.Context, rt models.ResourceType, resourceID string, tags []models.MediaTag) ([]models.MediaAsset, error)
	FindByResources(ctx context.Context, rt models.ResourceType, resourceIDs []string, tags []models.MediaTag) ([]models.MediaAsset, error)
	MaxPosition(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, global bool) (int, bool, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata models.JSONMap) error
	Reorder(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, orderedIDs []uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, offset, limit int) ([]models.MediaAsset, error)
	Count(ctx context.Context) (int64, error)
}

// GormMediaLedger implements MediaLedger on the relational store.
type GormMediaLedger struct {
	db *gorm.DB
}

func NewGormMediaLedger(db *gorm.DB) *GormMediaLedger {
	return &GormMediaLedger{db: db}
}

func (l *GormMediaLedger) Create(ctx context.Context, asset *models.MediaAsset) error {
	return l.db.WithContext(ctx).Create(asset).Error
}

// Upsert inserts a singular-tag asset, replacing the row if a concurrent
// upload won the insert first. The conflict target is the partial unique index
// on (resource_type, resource_id, tag) for singular tags.
func (l *GormMediaLedger) Upsert(ctx context.Context, asset *models.MediaAsset) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "resource_type"}, {Name: "resource_id"}, {Name: "tag"},
		},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.IN{Column: clause.Column{Name: "tag"}, Values: singularTagValues()},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_id", "filename", "original_filename", "mime_type",
			"size_bytes", "url", "thumbnail_url", "variants", "position",
			"uploader_id", "metadata", "uploaded_at", "updated_at",
		}),
	}).Create(asset).Error
}

func singularTagValues() []interface{} {
	names := models.SingularTagNames()
	values := make([]interface{}, len(names))
	for i, n := range names {
		values[i] = n
	}
	return values
}

func (l *GormMediaLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.MediaAsset, error) {
	var asset models.MediaAsset
	err := l.db.WithContext(ctx).First(&asset, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (l *GormMediaLedger) GetByExternalID(ctx context.Context, externalID string) (*models.MediaAsset, error) {
	var asset models.MediaAsset
	err := l.db.WithContext(ctx).First(&asset, "external_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (l *GormMediaLedger) FindByResource(ctx context.Context, rt models.ResourceType, resourceID string, tags []models.MediaTag) ([]models.MediaAsset, error) {
	var assets []models.MediaAsset
	query := l.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", rt, resourceID)
	if len(tags) > 0 {
		query = query.Where("tag IN ?", tags)
	}
	if err := query.Order("tag, position").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (l *GormMediaLedger) FindByResources(ctx context.Context, rt models.ResourceType, resourceIDs []string, tags []models.MediaTag) ([]models.MediaAsset, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	var assets []models.MediaAsset
	query := l.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id IN ?", rt, resourceIDs)
	if len(tags) > 0 {
		query = query.Where("tag IN ?", tags)
	}
	if err := query.Order("resource_id, tag, position").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (l *GormMediaLedger) MaxPosition(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, global bool) (int, bool, error) {
	query := l.db.WithContext(ctx).Model(&models.MediaAsset{}).
		Where("resource_type = ? AND resource_id = ?", rt, resourceID)
	if !global {
		query = query.Where("tag = ?", tag)
	}

	var max *int
	if err := query.Select("MAX(position)").Scan(&max).Error; err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

func (l *GormMediaLedger) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata models.JSONMap) error {
	return l.db.WithContext(ctx).Model(&models.MediaAsset{}).
		Where("id = ?", id).Update("metadata", metadata).Error
}

// Reorder assigns positions 0..n-1 following orderedIDs. Positions are parked
// in negative space first so the unique (resource, tag, position) index never
// sees a transient collision.
func (l *GormMediaLedger) Reorder(ctx context.Context, rt models.ResourceType, resourceID string, tag models.MediaTag, orderedIDs []uuid.UUID) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := func() *gorm.DB {
			return tx.Model(&models.MediaAsset{}).
				Where("resource_type = ? AND resource_id = ? AND tag = ?", rt, resourceID, tag)
		}

		var count int64
		if err := scope().Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(orderedIDs) {
			return fmt.Errorf("reorder expects all %d assets of the collection, got %d", count, len(orderedIDs))
		}

		for i, id := range orderedIDs {
			res := scope().Where("id = ?", id).Update("position", -(i + 1))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("asset %s does not belong to %s/%s/%s", id, rt, resourceID, tag)
			}
		}
		for i, id := range orderedIDs {
			if err := scope().Where("id = ?", id).Update("position", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *GormMediaLedger) Delete(ctx context.Context, id uuid.UUID) error {
	return l.db.WithContext(ctx).Delete(&models.MediaAsset{}, "id = ?", id).Error
}

func (l *GormMediaLedger) List(ctx context.Context, offset, limit int) ([]models.MediaAsset, error) {
	var assets []models.MediaAsset
	err := l.db.WithContext(ctx).
		Order("uploaded_at").Offset(offset).Limit(limit).Find(&assets).Error
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (l *GormMediaLedger) Count(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.MediaAsset{}).Count(&count).Error
	return count, err
}
