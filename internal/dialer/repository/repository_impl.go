package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"gorm.io/gorm"
)

const cellColumns = `id, scheme_id, label, selector, selector_key, target, soft_cap, weight, achieved, in_progress, reserved, created_at, updated_at`

const assignmentColumns = `id, project_id, scheme_id, cell_id, sample_id, interviewer_id, status, reserved_at, expires_at, completed_at, outcome_code, meta, created_at, updated_at`

type repo struct{}

func Provide() dialerdomain.Repository {
	return &repo{}
}

func (r *repo) ListOpenCells(ctx context.Context, db *gorm.DB, schemeID snowflake.ID) ([]quotadomain.QuotaCell, error) {
	var cells []quotadomain.QuotaCell
	err := db.WithContext(ctx).Raw(
		`SELECT `+cellColumns+` FROM quota_cells
		 WHERE scheme_id = ? AND target > achieved
		 ORDER BY weight DESC, achieved ASC, id ASC`,
		schemeID,
	).Scan(&cells).Error
	if err != nil {
		return nil, err
	}
	return cells, nil
}

func (r *repo) LockCell(ctx context.Context, tx *gorm.DB, cellID snowflake.ID) (*quotadomain.QuotaCell, error) {
	var cell quotadomain.QuotaCell
	err := tx.WithContext(ctx).Raw(
		`SELECT `+cellColumns+` FROM quota_cells WHERE id = ?`+pkgdb.ForUpdate(tx, pkgdb.LockForUpdate),
		cellID,
	).Scan(&cell).Error
	if err != nil {
		return nil, err
	}
	if cell.ID == 0 {
		return nil, nil
	}
	return &cell, nil
}

func (r *repo) PickSample(ctx context.Context, tx *gorm.DB, projectID snowflake.ID, sel quotadomain.Selector) (*sampledomain.SampleContact, error) {
	var (
		where = []string{"s.project_id = ?", "s.is_active = ?"}
		args  = []interface{}{projectID, true}
	)
	typed := []struct {
		column string
		value  string
	}{
		{"s.gender", sel.Gender},
		{"s.age_band", sel.AgeBand},
		{"s.province_code", sel.ProvinceCode},
	}
	for _, field := range typed {
		if field.value == "" {
			continue
		}
		where = append(where, field.column+" = ?")
		args = append(args, field.value)
	}
	for _, key := range sel.ExtraKeys() {
		expr, err := pkgdb.JSONText(tx, "s.extra", key)
		if err != nil {
			return nil, err
		}
		where = append(where, expr+" = ?")
		args = append(args, sel.Extra[key])
	}
	where = append(where, `NOT EXISTS (
		SELECT 1 FROM dialer_assignments da
		WHERE da.sample_id = s.id AND da.status = ?
	)`)
	args = append(args, dialerdomain.StatusReserved)

	query := `SELECT s.id, s.project_id, s.phone, s.gender, s.age_band, s.province_code, s.extra,
		s.is_active, s.used_at, s.created_at, s.updated_at
		FROM sample_contacts s
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + pkgdb.NullsFirstAsc(tx, "s.used_at") + `, s.id ASC
		LIMIT 1` + pkgdb.ForUpdate(tx, pkgdb.LockForUpdateSkipLocked)

	var sample sampledomain.SampleContact
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&sample).Error; err != nil {
		return nil, err
	}
	if sample.ID == 0 {
		return nil, nil
	}
	return &sample, nil
}

func (r *repo) InsertAssignment(ctx context.Context, tx *gorm.DB, a *dialerdomain.DialerAssignment) error {
	return tx.WithContext(ctx).Create(a).Error
}

func (r *repo) IncrementCell(ctx context.Context, tx *gorm.DB, cellID snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE quota_cells
		 SET in_progress = in_progress + 1, reserved = reserved + 1, updated_at = ?
		 WHERE id = ?`,
		now,
		cellID,
	).Error
}

func (r *repo) TouchSample(ctx context.Context, tx *gorm.DB, sampleID snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE sample_contacts SET used_at = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		sampleID,
	).Error
}

func (r *repo) FindAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID, lock pkgdb.LockMode) (*dialerdomain.DialerAssignment, error) {
	var a dialerdomain.DialerAssignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+` FROM dialer_assignments WHERE id = ?`+pkgdb.ForUpdate(db, lock),
		id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, filter dialerdomain.ListFilter) ([]dialerdomain.DialerAssignment, error) {
	query := db.WithContext(ctx).
		Model(&dialerdomain.DialerAssignment{}).
		Where("project_id = ?", filter.ProjectID)
	if filter.SchemeID != 0 {
		query = query.Where("scheme_id = ?", filter.SchemeID)
	}
	if filter.InterviewerID != 0 {
		query = query.Where("interviewer_id = ?", filter.InterviewerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []dialerdomain.DialerAssignment
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ResolveAssignment(ctx context.Context, tx *gorm.DB, a *dialerdomain.DialerAssignment) error {
	return tx.WithContext(ctx).
		Model(&dialerdomain.DialerAssignment{}).
		Where("id = ? AND status = ?", a.ID, dialerdomain.StatusReserved).
		Updates(map[string]interface{}{
			"status":       a.Status,
			"completed_at": a.CompletedAt,
			"outcome_code": a.OutcomeCode,
			"meta":         a.Meta,
			"updated_at":   a.UpdatedAt,
		}).Error
}

// ReleaseCell closes one open reservation on the cell. Counters are clamped
// at zero.
func (r *repo) ReleaseCell(ctx context.Context, tx *gorm.DB, release dialerdomain.CellRelease, now time.Time) error {
	achievedDelta := 0
	if release.Achieved {
		achievedDelta = 1
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE quota_cells
		 SET achieved = achieved + ?,
		     in_progress = CASE WHEN in_progress > 0 THEN in_progress - 1 ELSE 0 END,
		     reserved = CASE WHEN reserved > 0 THEN reserved - 1 ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		achievedDelta,
		now,
		release.CellID,
	).Error
}

func (r *repo) ClaimExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]dialerdomain.DialerAssignment, error) {
	var items []dialerdomain.DialerAssignment
	err := tx.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+` FROM dialer_assignments
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`+pkgdb.ForUpdate(tx, pkgdb.LockForUpdateSkipLocked),
		dialerdomain.StatusReserved,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
