package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
)

func (s *Server) ImportSamples(c *gin.Context) {
	var req sampledomain.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = strings.TrimSpace(c.Param("project_id"))

	resp, err := s.sampleSvc.Import(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSamples(c *gin.Context) {
	var req sampledomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProjectID = strings.TrimSpace(c.Param("project_id"))

	resp, err := s.sampleSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Items,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) DeactivateSample(c *gin.Context) {
	err := s.sampleSvc.Deactivate(c.Request.Context(), strings.TrimSpace(c.Param("project_id")), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
