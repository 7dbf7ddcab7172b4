package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/report"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
)

type createSessionRequest struct {
	BranchID    string   `json:"branch_id" binding:"required"`
	Type        string   `json:"type" binding:"required"`
	StartedAt   string   `json:"started_at"`
	AssigneeIDs []string `json:"assignee_ids"`
	Notes       string   `json:"notes" binding:"max=2000"`
}

func (s *Server) CreateSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	branchID, err := parseOptionalSnowflakeID(req.BranchID)
	if err != nil || branchID == nil {
		AbortWithError(c, newValidationError("branch_id", "invalid_id", "invalid branch_id"))
		return
	}
	assignees, err := parseIDList(req.AssigneeIDs)
	if err != nil {
		AbortWithError(c, newValidationError("assignee_ids", "invalid_id", "invalid assignee id"))
		return
	}
	var startedAt *time.Time
	if strings.TrimSpace(req.StartedAt) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartedAt))
		if err != nil {
			AbortWithError(c, newValidationError("started_at", "invalid_started_at", "started_at must be RFC3339"))
			return
		}
		utc := parsed.UTC()
		startedAt = &utc
	}

	view, err := s.opnameSvc.CreateSession(c.Request.Context(), p, opnamedomain.CreateSessionRequest{
		BranchID:    *branchID,
		Type:        opnamedomain.SessionType(strings.ToLower(strings.TrimSpace(req.Type))),
		StartedAt:   startedAt,
		AssigneeIDs: assignees,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}

type listSessionsQuery struct {
	pagination.Pagination
	BranchID string `form:"branch_id"`
	Date     string `form:"date"`
	Status   string `form:"status"`
	Type     string `form:"type"`
}

func (s *Server) ListSessions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var query listSessionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	branchID, err := parseOptionalSnowflakeID(query.BranchID)
	if err != nil {
		AbortWithError(c, newValidationError("branch_id", "invalid_id", "invalid branch_id"))
		return
	}

	resp, err := s.opnameSvc.ListSessions(c.Request.Context(), p, opnamedomain.ListSessionsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		BranchID: branchID,
		Date:     strings.TrimSpace(query.Date),
		Status:   opnamedomain.SessionStatus(strings.TrimSpace(query.Status)),
		Type:     opnamedomain.SessionType(strings.TrimSpace(query.Type)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := s.opnameSvc.GetSession(c.Request.Context(), p, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetSessionCapabilities(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	caps, err := s.opnameSvc.Capabilities(c.Request.Context(), p, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": caps})
}

func (s *Server) DeleteSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.opnameSvc.DeleteSession(c.Request.Context(), p, sessionID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) CompleteSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	session, err := s.opnameSvc.Complete(c.Request.Context(), p, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) LockSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	session, err := s.opnameSvc.Lock(c.Request.Context(), p, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

type updateAssignmentsRequest struct {
	StaffIDs []string `json:"staff_ids"`
}

func (s *Server) UpdateAssignments(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateAssignmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	staffIDs, err := parseIDList(req.StaffIDs)
	if err != nil {
		AbortWithError(c, newValidationError("staff_ids", "invalid_id", "invalid staff id"))
		return
	}

	assignees, err := s.opnameSvc.UpdateAssignments(c.Request.Context(), p, sessionID, staffIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignees})
}

func (s *Server) ListAssignableStaff(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return
	}

	members, err := s.opnameSvc.ListAssignableStaff(c.Request.Context(), p, branchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) SalesSinceStart(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	summary, err := s.opnameSvc.SalesSinceStart(c.Request.Context(), p, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// ExportSession buffers the workbook so a failed export still returns a JSON error.
func (s *Server) ExportSession(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var buf bytes.Buffer
	filename, err := s.exporter.ExportSession(c.Request.Context(), p, sessionID, &buf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}
