package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"gorm.io/gorm"
)

type Repository interface {
	InsertScheme(ctx context.Context, db *gorm.DB, scheme *QuotaScheme) error
	FindScheme(ctx context.Context, db *gorm.DB, id snowflake.ID, lock pkgdb.LockMode) (*QuotaScheme, error)
	ListSchemes(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]QuotaScheme, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SchemeStatus, publishedAt *time.Time, now time.Time) error
	// FindPublished returns schemeID when it is published in projectID, or
	// the catalog default when schemeID is 0.
	FindPublished(ctx context.Context, db *gorm.DB, projectID, schemeID snowflake.ID) (*QuotaScheme, error)

	UpsertCells(ctx context.Context, db *gorm.DB, cells []QuotaCell) error
	ListCells(ctx context.Context, db *gorm.DB, schemeID snowflake.ID) ([]QuotaCell, error)
}
