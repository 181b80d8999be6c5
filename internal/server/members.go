package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
)

func (s *Server) ListMembers(c *gin.Context) {
	resp, err := s.membershipSvc.List(c.Request.Context(), strings.TrimSpace(c.Param("project_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GrantMember(c *gin.Context) {
	var req membershipdomain.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = strings.TrimSpace(c.Param("project_id"))
	req.UserID = strings.TrimSpace(c.Param("user_id"))

	resp, err := s.membershipSvc.Grant(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeMember(c *gin.Context) {
	err := s.membershipSvc.Revoke(c.Request.Context(), strings.TrimSpace(c.Param("project_id")), strings.TrimSpace(c.Param("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
