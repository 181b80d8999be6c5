package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightzen/internal/authorization"
	obscontext "github.com/smallbiznis/insightzen/internal/observability/context"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

const contextUserIDKey = "insightzen.user_id"

// IdentityRequired rejects requests without a valid caller id and stores it
// on the request context for logging and tracing.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID.String())
		ctx := obscontext.WithActorID(c.Request.Context(), userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString(contextUserIDKey)
	return userID, userID != ""
}

func (s *Server) authorizeProjectAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeProject(c, c.Param("project_id"), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeProject(c *gin.Context, projectID string, object string, action string) error {
	userID, ok := userIDFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(
		c.Request.Context(),
		authorization.UserActor(userID),
		strings.TrimSpace(projectID),
		strings.TrimSpace(object),
		strings.TrimSpace(action),
	)
}
