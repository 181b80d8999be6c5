package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
	"gorm.io/gorm"
)

type ListFilter struct {
	ProjectID     snowflake.ID
	SchemeID      snowflake.ID
	InterviewerID snowflake.ID
	Status        AssignmentStatus
	AfterID       snowflake.ID
	Limit         int
}

// CellRelease describes the ledger change applied when an assignment resolves.
type CellRelease struct {
	CellID   snowflake.ID
	Achieved bool
}

type Repository interface {
	// ListOpenCells returns cells of schemeID whose target is not yet met.
	ListOpenCells(ctx context.Context, db *gorm.DB, schemeID snowflake.ID) ([]quotadomain.QuotaCell, error)
	LockCell(ctx context.Context, tx *gorm.DB, cellID snowflake.ID) (*quotadomain.QuotaCell, error)
	// PickSample returns the least recently used active contact matching sel
	// with no open reservation, skipping rows locked by other pickers.
	PickSample(ctx context.Context, tx *gorm.DB, projectID snowflake.ID, sel quotadomain.Selector) (*sampledomain.SampleContact, error)
	InsertAssignment(ctx context.Context, tx *gorm.DB, a *DialerAssignment) error
	IncrementCell(ctx context.Context, tx *gorm.DB, cellID snowflake.ID, now time.Time) error
	TouchSample(ctx context.Context, tx *gorm.DB, sampleID snowflake.ID, now time.Time) error

	FindAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID, lock pkgdb.LockMode) (*DialerAssignment, error)
	ListAssignments(ctx context.Context, db *gorm.DB, filter ListFilter) ([]DialerAssignment, error)
	ResolveAssignment(ctx context.Context, tx *gorm.DB, a *DialerAssignment) error
	ReleaseCell(ctx context.Context, tx *gorm.DB, release CellRelease, now time.Time) error
	// ClaimExpired locks up to limit RESERVED assignments expired at now,
	// skipping rows another sweeper or resolver holds.
	ClaimExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]DialerAssignment, error)
}
