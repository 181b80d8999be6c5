package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AssignmentStatus string

const (
	StatusReserved  AssignmentStatus = "RESERVED"
	StatusCompleted AssignmentStatus = "COMPLETED"
	StatusFailed    AssignmentStatus = "FAILED"
	StatusCancelled AssignmentStatus = "CANCELLED"
	StatusExpired   AssignmentStatus = "EXPIRED"
)

// CompletedOutcomeCode is the outcome that credits the cell.
const CompletedOutcomeCode = "COMP"

func (s AssignmentStatus) Terminal() bool {
	return s != StatusReserved
}

func ParseStatus(value string) (AssignmentStatus, bool) {
	switch status := AssignmentStatus(value); status {
	case StatusReserved, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return status, true
	default:
		return "", false
	}
}

// DialerAssignment reserves one sample contact against one quota cell for an
// interviewer. It leaves RESERVED exactly once.
type DialerAssignment struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ProjectID     snowflake.ID      `gorm:"column:project_id;not null"`
	SchemeID      snowflake.ID      `gorm:"column:scheme_id;not null"`
	CellID        snowflake.ID      `gorm:"column:cell_id;not null"`
	SampleID      snowflake.ID      `gorm:"column:sample_id;not null"`
	InterviewerID snowflake.ID      `gorm:"column:interviewer_id;not null"`
	Status        AssignmentStatus  `gorm:"column:status;not null"`
	ReservedAt    time.Time         `gorm:"column:reserved_at;not null"`
	ExpiresAt     time.Time         `gorm:"column:expires_at;not null"`
	CompletedAt   *time.Time        `gorm:"column:completed_at"`
	OutcomeCode   *string           `gorm:"column:outcome_code"`
	Meta          datatypes.JSONMap `gorm:"column:meta;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at"`
}

func (DialerAssignment) TableName() string { return "dialer_assignments" }
