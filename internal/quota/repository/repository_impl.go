package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const schemeColumns = `id, project_id, name, code, status, overflow_policy, priority, published_at, created_by, created_at, updated_at`

const cellColumns = `id, scheme_id, label, selector, selector_key, target, soft_cap, weight, achieved, in_progress, reserved, created_at, updated_at`

type repo struct{}

func Provide() quotadomain.Repository {
	return &repo{}
}

func (r *repo) InsertScheme(ctx context.Context, db *gorm.DB, scheme *quotadomain.QuotaScheme) error {
	return db.WithContext(ctx).Create(scheme).Error
}

func (r *repo) FindScheme(ctx context.Context, db *gorm.DB, id snowflake.ID, lock pkgdb.LockMode) (*quotadomain.QuotaScheme, error) {
	var scheme quotadomain.QuotaScheme
	err := db.WithContext(ctx).Raw(
		`SELECT `+schemeColumns+` FROM quota_schemes WHERE id = ?`+pkgdb.ForUpdate(db, lock),
		id,
	).Scan(&scheme).Error
	if err != nil {
		return nil, err
	}
	if scheme.ID == 0 {
		return nil, nil
	}
	return &scheme, nil
}

func (r *repo) ListSchemes(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]quotadomain.QuotaScheme, error) {
	var items []quotadomain.QuotaScheme
	err := db.WithContext(ctx).Raw(
		`SELECT `+schemeColumns+` FROM quota_schemes
		 WHERE project_id = ?
		 ORDER BY priority DESC, id DESC`,
		projectID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status quotadomain.SchemeStatus, publishedAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quota_schemes
		 SET status = ?, published_at = COALESCE(?, published_at), updated_at = ?
		 WHERE id = ?`,
		status,
		publishedAt,
		now,
		id,
	).Error
}

func (r *repo) FindPublished(ctx context.Context, db *gorm.DB, projectID, schemeID snowflake.ID) (*quotadomain.QuotaScheme, error) {
	var scheme quotadomain.QuotaScheme
	query := db.WithContext(ctx)
	if schemeID != 0 {
		query = query.Raw(
			`SELECT `+schemeColumns+` FROM quota_schemes
			 WHERE id = ? AND project_id = ? AND status = ?`,
			schemeID,
			projectID,
			quotadomain.SchemeStatusPublished,
		)
	} else {
		query = query.Raw(
			`SELECT `+schemeColumns+` FROM quota_schemes
			 WHERE project_id = ? AND status = ?
			 ORDER BY priority DESC, published_at DESC, id DESC
			 LIMIT 1`,
			projectID,
			quotadomain.SchemeStatusPublished,
		)
	}
	if err := query.Scan(&scheme).Error; err != nil {
		return nil, err
	}
	if scheme.ID == 0 {
		return nil, nil
	}
	return &scheme, nil
}

func (r *repo) UpsertCells(ctx context.Context, db *gorm.DB, cells []quotadomain.QuotaCell) error {
	if len(cells) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scheme_id"}, {Name: "selector_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "selector", "target", "soft_cap", "weight", "updated_at"}),
	}).Create(&cells).Error
}

func (r *repo) ListCells(ctx context.Context, db *gorm.DB, schemeID snowflake.ID) ([]quotadomain.QuotaCell, error) {
	var items []quotadomain.QuotaCell
	err := db.WithContext(ctx).Raw(
		`SELECT `+cellColumns+` FROM quota_cells WHERE scheme_id = ? ORDER BY id ASC`,
		schemeID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
