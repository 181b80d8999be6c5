package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() sampledomain.Repository {
	return &repo{}
}

func (r *repo) InsertIgnoreDuplicates(ctx context.Context, db *gorm.DB, contacts []sampledomain.SampleContact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "phone"}},
		DoNothing: true,
	}).CreateInBatches(&contacts, 500)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter sampledomain.ListFilter) ([]sampledomain.SampleContact, error) {
	query := db.WithContext(ctx).
		Model(&sampledomain.SampleContact{}).
		Where("project_id = ?", filter.ProjectID)
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	if filter.Gender != "" {
		query = query.Where("gender = ?", filter.Gender)
	}
	if filter.AgeBand != "" {
		query = query.Where("age_band = ?", filter.AgeBand)
	}
	if filter.ProvinceCode != "" {
		query = query.Where("province_code = ?", filter.ProvinceCode)
	}
	if filter.AfterID != 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []sampledomain.SampleContact
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE sample_contacts SET is_active = ?, updated_at = ?
		 WHERE id = ? AND project_id = ?`,
		false,
		now,
		id,
		projectID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
