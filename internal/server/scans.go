package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
)

type scanRequest struct {
	Identifier string `json:"identifier"`
}

type batchScanRequest struct {
	Identifiers []string `json:"identifiers"`
}

type itemFilterQuery struct {
	ScanResult     string `form:"scan_result"`
	UnresolvedOnly string `form:"unresolved_only"`
}

func bindItemFilter(c *gin.Context) (opnamedomain.ItemFilter, bool) {
	var query itemFilterQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return opnamedomain.ItemFilter{}, false
	}
	unresolved, err := parseOptionalBool(query.UnresolvedOnly)
	if err != nil {
		AbortWithError(c, newValidationError("unresolved_only", "invalid_unresolved_only", "unresolved_only must be a boolean"))
		return opnamedomain.ItemFilter{}, false
	}
	filter := opnamedomain.ItemFilter{
		ScanResult: opnamedomain.ScanResult(strings.TrimSpace(query.ScanResult)),
	}
	if unresolved != nil {
		filter.UnresolvedOnly = *unresolved
	}
	return filter, true
}

func (s *Server) ListSnapshotItems(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	filter, ok := bindItemFilter(c)
	if !ok {
		return
	}

	items, err := s.opnameSvc.ListSnapshotItems(c.Request.Context(), p, sessionID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListScannedItems(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	filter, ok := bindItemFilter(c)
	if !ok {
		return
	}

	items, err := s.opnameSvc.ListScannedItems(c.Request.Context(), p, sessionID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) Scan(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.opnameSvc.Scan(c.Request.Context(), p, sessionID, req.Identifier)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) BatchScan(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req batchScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.opnameSvc.BatchScan(c.Request.Context(), p, sessionID, req.Identifiers)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteScan(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	scanID, ok := pathID(c, "scan_id")
	if !ok {
		return
	}

	counters, err := s.opnameSvc.DeleteScan(c.Request.Context(), p, sessionID, scanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"counters": counters}})
}

type resolveSnapshotRequest struct {
	Action      string `json:"action" binding:"required"`
	Note        string `json:"note" binding:"max=1000"`
	ExternalRef string `json:"external_ref" binding:"max=255"`
}

func (s *Server) ResolveSnapshotItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}

	var req resolveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	item, err := s.opnameSvc.ResolveSnapshotItem(c.Request.Context(), p, sessionID, itemID, opnamedomain.ResolveSnapshotRequest{
		Action:      opnamedomain.SnapshotAction(strings.TrimSpace(req.Action)),
		Note:        strings.TrimSpace(req.Note),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type resolveScannedRequest struct {
	Action string `json:"action" binding:"required"`
	Note   string `json:"note" binding:"max=1000"`
}

func (s *Server) ResolveScannedItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	scanID, ok := pathID(c, "scan_id")
	if !ok {
		return
	}

	var req resolveScannedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	item, err := s.opnameSvc.ResolveScannedItem(c.Request.Context(), p, sessionID, scanID, opnamedomain.ResolveScannedRequest{
		Action: opnamedomain.ScannedAction(strings.TrimSpace(req.Action)),
		Note:   strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
