package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() membershipdomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, m *membershipdomain.Membership) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(m).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, projectID, userID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM project_memberships WHERE project_id = ? AND user_id = ?`,
		projectID,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, projectID, userID snowflake.ID) (*membershipdomain.Membership, error) {
	var m membershipdomain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT project_id, user_id, role, created_at, updated_at
		 FROM project_memberships WHERE project_id = ? AND user_id = ?`,
		projectID,
		userID,
	).Scan(&m).Error
	if err != nil {
		return nil, err
	}
	if m.UserID == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]membershipdomain.Membership, error) {
	var items []membershipdomain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT project_id, user_id, role, created_at, updated_at
		 FROM project_memberships WHERE project_id = ? ORDER BY user_id ASC`,
		projectID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
