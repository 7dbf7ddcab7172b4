package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	scheduledomain "github.com/smallbiznis/stockopname/internal/schedule/domain"
)

func (s *Server) ListSchedules(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return
	}

	schedules, err := s.scheduleSvc.List(c.Request.Context(), p, branchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedules})
}

func (s *Server) CreateSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return
	}

	var req scheduledomain.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	req.BranchID = branchID
	req.Type = opnamedomain.SessionType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	req.StartTime = strings.TrimSpace(req.StartTime)

	schedule, err := s.scheduleSvc.Create(c.Request.Context(), p, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": schedule})
}

func (s *Server) UpdateSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	scheduleID, ok := pathID(c, "schedule_id")
	if !ok {
		return
	}

	var req scheduledomain.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	schedule, err := s.scheduleSvc.Update(c.Request.Context(), p, scheduleID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) DeleteSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	scheduleID, ok := pathID(c, "schedule_id")
	if !ok {
		return
	}

	if err := s.scheduleSvc.Delete(c.Request.Context(), p, scheduleID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
