package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidActor   = errors.New("invalid_actor")
	ErrInvalidProject = errors.New("invalid_project")
	ErrInvalidObject  = errors.New("invalid_object")
	ErrInvalidAction  = errors.New("invalid_action")
)

// ActorSystem is the subject background jobs act as.
const ActorSystem = "system"

// Service gates project-scoped operations. actor is "system" or
// "user:<id>"; projectID is a decimal snowflake id.
type Service interface {
	Authorize(ctx context.Context, actor, projectID, object, action string) error
}

// UserActor formats a user id as an actor subject.
func UserActor(userID string) string {
	return "user:" + userID
}
