package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/pkg/db/pagination"
)

type Service interface {
	Import(ctx context.Context, req ImportRequest) (*ImportResult, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Deactivate(ctx context.Context, projectID, id string) error
}

type ContactInput struct {
	Phone        string            `json:"phone"`
	Gender       string            `json:"gender"`
	AgeBand      string            `json:"age_band"`
	ProvinceCode string            `json:"province_code"`
	Extra        map[string]string `json:"extra"`
}

type ImportRequest struct {
	ProjectID string         `json:"-"`
	Contacts  []ContactInput `json:"contacts"`
}

type ImportResult struct {
	Received int `json:"received"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
}

type ListRequest struct {
	pagination.Pagination
	ProjectID    string `form:"-"`
	Active       *bool  `form:"active"`
	Gender       string `form:"gender"`
	AgeBand      string `form:"age_band"`
	ProvinceCode string `form:"province_code"`
}

type Response struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Phone        string            `json:"phone"`
	Gender       string            `json:"gender"`
	AgeBand      string            `json:"age_band"`
	ProvinceCode string            `json:"province_code"`
	Extra        map[string]string `json:"extra,omitempty"`
	IsActive     bool              `json:"is_active"`
	UsedAt       *time.Time        `json:"used_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type ListResponse struct {
	Items    []Response          `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidID      = errors.New("invalid_id")
	ErrInvalidPhone   = errors.New("invalid_phone")
	ErrInvalidExtra   = errors.New("invalid_extra")
	ErrEmptyImport    = errors.New("empty_import")
	ErrNotFound       = errors.New("not_found")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
