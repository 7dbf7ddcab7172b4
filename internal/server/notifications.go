package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
)

type listNotificationsQuery struct {
	pagination.Pagination
	UnreadOnly string `form:"unread_only"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var query listNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	unread, err := parseOptionalBool(query.UnreadOnly)
	if err != nil {
		AbortWithError(c, newValidationError("unread_only", "invalid_unread_only", "unread_only must be a boolean"))
		return
	}

	req := notificationdomain.InboxRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	}
	if unread != nil {
		req.UnreadOnly = *unread
	}

	resp, err := s.notificationSvc.Inbox(c.Request.Context(), p, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Notifications, "page_info": resp.PageInfo})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := s.notificationSvc.MarkRead(c.Request.Context(), p, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": n})
}
