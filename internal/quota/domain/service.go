package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateScheme(ctx context.Context, req CreateSchemeRequest) (*SchemeResponse, error)
	GetScheme(ctx context.Context, id string) (*SchemeResponse, error)
	ListSchemes(ctx context.Context, projectID string) ([]SchemeResponse, error)
	UpsertCells(ctx context.Context, req UpsertCellsRequest) ([]CellResponse, error)
	ListCells(ctx context.Context, schemeID string) ([]CellResponse, error)
	PublishScheme(ctx context.Context, id string) (*SchemeResponse, error)
	ArchiveScheme(ctx context.Context, id string) (*SchemeResponse, error)

	// GetPublishedScheme is the catalog lookup used by the dialer. A zero
	// schemeID selects the highest priority, most recently published scheme.
	GetPublishedScheme(ctx context.Context, projectID, schemeID snowflake.ID) (*QuotaScheme, error)
}

type CreateSchemeRequest struct {
	ProjectID      string `json:"-"`
	ActorID        string `json:"-"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	OverflowPolicy string `json:"overflow_policy"`
	Priority       int    `json:"priority"`
}

type CellInput struct {
	Label    string   `json:"label"`
	Selector Selector `json:"selector"`
	Target   int      `json:"target"`
	SoftCap  *int     `json:"soft_cap"`
	Weight   *float64 `json:"weight"`
}

type UpsertCellsRequest struct {
	SchemeID string      `json:"-"`
	Cells    []CellInput `json:"cells"`
}

type SchemeResponse struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Name           string         `json:"name"`
	Code           string         `json:"code"`
	Status         SchemeStatus   `json:"status"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy"`
	Priority       int            `json:"priority"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type CellResponse struct {
	ID         string   `json:"id"`
	SchemeID   string   `json:"scheme_id"`
	Label      string   `json:"label"`
	Selector   Selector `json:"selector"`
	Target     int      `json:"target"`
	SoftCap    *int     `json:"soft_cap,omitempty"`
	Weight     float64  `json:"weight"`
	Achieved   int      `json:"achieved"`
	InProgress int      `json:"in_progress"`
	Reserved   int      `json:"reserved"`
	Remaining  int      `json:"remaining"`
}

var (
	ErrInvalidProject          = errors.New("invalid_project")
	ErrInvalidScheme           = errors.New("invalid_scheme")
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidCode             = errors.New("invalid_code")
	ErrInvalidOverflowPolicy   = errors.New("invalid_overflow_policy")
	ErrInvalidCell             = errors.New("invalid_cell")
	ErrInvalidSelector         = errors.New("invalid_selector")
	ErrDuplicateSelector       = errors.New("duplicate_selector")
	ErrDuplicateCode           = errors.New("duplicate_code")
	ErrSchemeNotFound          = errors.New("scheme_not_found")
	ErrSchemeReadOnly          = errors.New("scheme_read_only")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
