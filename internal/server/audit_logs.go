package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/billingsync/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var query auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.Action = strings.TrimSpace(query.Action)
	query.TargetType = strings.TrimSpace(query.TargetType)
	query.TargetID = strings.TrimSpace(query.TargetID)

	resp, err := s.auditSvc.List(c.Request.Context(), tenantID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.AuditLogs, "page_info": resp.PageInfo})
}
