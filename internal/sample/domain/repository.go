package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	ProjectID    snowflake.ID
	Active       *bool
	Gender       string
	AgeBand      string
	ProvinceCode string
	AfterID      snowflake.ID
	Limit        int
}

type Repository interface {
	// InsertIgnoreDuplicates inserts contacts and reports how many rows were
	// new; contacts whose phone already exists in the project are skipped.
	InsertIgnoreDuplicates(ctx context.Context, db *gorm.DB, contacts []SampleContact) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]SampleContact, error)
	Deactivate(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID, now time.Time) (bool, error)
}
