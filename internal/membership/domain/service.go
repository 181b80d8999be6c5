package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Grant(ctx context.Context, req GrantRequest) (*Response, error)
	Revoke(ctx context.Context, projectID, userID string) error
	RoleOf(ctx context.Context, projectID, userID snowflake.ID) (Role, error)
	HasRole(ctx context.Context, userID, projectID snowflake.ID, roles ...Role) (bool, error)
	List(ctx context.Context, projectID string) ([]Response, error)
}

type GrantRequest struct {
	ProjectID string `json:"-"`
	UserID    string `json:"-"`
	Role      string `json:"role"`
}

type Response struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrNotFound       = errors.New("not_found")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
