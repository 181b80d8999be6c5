package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightzen/internal/authorization"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
)

func (s *Server) CreateScheme(c *gin.Context) {
	var req quotadomain.CreateSchemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, _ := userIDFromContext(c)
	req.ProjectID = strings.TrimSpace(c.Param("project_id"))
	req.ActorID = userID

	resp, err := s.quotaSvc.CreateScheme(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListSchemes(c *gin.Context) {
	resp, err := s.quotaSvc.ListSchemes(c.Request.Context(), strings.TrimSpace(c.Param("project_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// schemeForAction loads the scheme named by :id and authorizes the caller
// against the scheme's project.
func (s *Server) schemeForAction(c *gin.Context, action string) (*quotadomain.SchemeResponse, error) {
	scheme, err := s.quotaSvc.GetScheme(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		return nil, err
	}
	if err := s.authorizeProject(c, scheme.ProjectID, authorization.ObjectQuotaScheme, action); err != nil {
		return nil, err
	}
	return scheme, nil
}

func (s *Server) GetScheme(c *gin.Context) {
	scheme, err := s.schemeForAction(c, authorization.ActionQuotaSchemeView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scheme})
}

func (s *Server) ListCells(c *gin.Context) {
	scheme, err := s.schemeForAction(c, authorization.ActionQuotaSchemeView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cells, err := s.quotaSvc.ListCells(c.Request.Context(), scheme.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cells})
}

func (s *Server) UpsertCells(c *gin.Context) {
	var req quotadomain.UpsertCellsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, quotadomain.ErrInvalidSelector) {
			AbortWithError(c, err)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}
	scheme, err := s.schemeForAction(c, authorization.ActionQuotaSchemeManage)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.SchemeID = scheme.ID

	cells, err := s.quotaSvc.UpsertCells(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cells})
}

func (s *Server) PublishScheme(c *gin.Context) {
	scheme, err := s.schemeForAction(c, authorization.ActionQuotaSchemeManage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.quotaSvc.PublishScheme(c.Request.Context(), scheme.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveScheme(c *gin.Context) {
	scheme, err := s.schemeForAction(c, authorization.ActionQuotaSchemeManage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.quotaSvc.ArchiveScheme(c.Request.Context(), scheme.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
