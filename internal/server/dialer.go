package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
)

type reserveNextRequest struct {
	SchemeID string `json:"scheme_id"`
}

type completeAssignmentRequest struct {
	OutcomeCode string                 `json:"outcome_code"`
	Payload     map[string]interface{} `json:"payload"`
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, out any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) ReserveNext(c *gin.Context) {
	var req reserveNextRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, _ := userIDFromContext(c)

	resp, err := s.dialerSvc.ReserveNext(c.Request.Context(), dialerdomain.ReserveRequest{
		ProjectID:     strings.TrimSpace(c.Param("project_id")),
		InterviewerID: userID,
		SchemeID:      strings.TrimSpace(req.SchemeID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteAssignment(c *gin.Context) {
	var req completeAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, _ := userIDFromContext(c)

	resp, err := s.dialerSvc.Complete(c.Request.Context(), dialerdomain.CompleteRequest{
		AssignmentID: strings.TrimSpace(c.Param("id")),
		ActorID:      userID,
		OutcomeCode:  req.OutcomeCode,
		Payload:      req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelAssignment(c *gin.Context) {
	userID, _ := userIDFromContext(c)

	resp, err := s.dialerSvc.Cancel(c.Request.Context(), dialerdomain.CancelRequest{
		AssignmentID: strings.TrimSpace(c.Param("id")),
		ActorID:      userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAssignment(c *gin.Context) {
	userID, _ := userIDFromContext(c)

	resp, err := s.dialerSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAssignments(c *gin.Context) {
	var req dialerdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, _ := userIDFromContext(c)
	req.ProjectID = strings.TrimSpace(c.Param("project_id"))
	req.ActorID = userID

	resp, err := s.dialerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Items,
		"page_info": resp.PageInfo,
	})
}
