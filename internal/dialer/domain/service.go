package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/pkg/db/pagination"
)

type Service interface {
	ReserveNext(ctx context.Context, req ReserveRequest) (*ReservationResponse, error)
	Complete(ctx context.Context, req CompleteRequest) (*AssignmentView, error)
	Cancel(ctx context.Context, req CancelRequest) (*AssignmentView, error)
	Get(ctx context.Context, id, actorID string) (*AssignmentView, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	// ExpireStale flips up to limit RESERVED assignments whose expiry has
	// passed to EXPIRED and releases their cells. It returns the number
	// expired.
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

type ReserveRequest struct {
	ProjectID     string `json:"-"`
	InterviewerID string `json:"-"`
	SchemeID      string `json:"scheme_id"`
}

type CompleteRequest struct {
	AssignmentID string                 `json:"-"`
	ActorID      string                 `json:"-"`
	OutcomeCode  string                 `json:"outcome_code"`
	Payload      map[string]interface{} `json:"payload"`
}

type CancelRequest struct {
	AssignmentID string `json:"-"`
	ActorID      string `json:"-"`
}

type ListRequest struct {
	pagination.Pagination
	ProjectID     string `form:"-"`
	ActorID       string `form:"-"`
	SchemeID      string `form:"scheme_id"`
	InterviewerID string `form:"interviewer_id"`
	Status        string `form:"status"`
}

type SampleView struct {
	Phone        string `json:"phone"`
	Gender       string `json:"gender"`
	AgeBand      string `json:"age_band"`
	ProvinceCode string `json:"province_code"`
}

type CellView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type SchemeView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ReservationResponse struct {
	AssignmentID string     `json:"assignment_id"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Sample       SampleView `json:"sample"`
	Cell         CellView   `json:"cell"`
	Scheme       SchemeView `json:"scheme"`
}

type AssignmentView struct {
	ID            string                 `json:"id"`
	ProjectID     string                 `json:"project_id"`
	SchemeID      string                 `json:"scheme_id"`
	CellID        string                 `json:"cell_id"`
	SampleID      string                 `json:"sample_id"`
	InterviewerID string                 `json:"interviewer_id"`
	Status        AssignmentStatus       `json:"status"`
	ReservedAt    time.Time              `json:"reserved_at"`
	ExpiresAt     time.Time              `json:"expires_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	OutcomeCode   string                 `json:"outcome_code,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

type ListResponse struct {
	Items    []AssignmentView    `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidProject         = errors.New("invalid_project")
	ErrInvalidActor           = errors.New("invalid_actor")
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidOutcome         = errors.New("invalid_outcome")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrAssignmentNotFound     = errors.New("assignment_not_found")
	ErrNoEligibleCellOrSample = errors.New("no_eligible_cell_or_sample")
	ErrRateLimited            = errors.New("rate_limited")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
