package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"github.com/smallbiznis/billingsync/pkg/validation"
	"go.uber.org/zap"
)

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, sub)
}

func (s *Server) ListSubscriptionHistory(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var query subscriptiondomain.ListHistoryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.ListHistory(c.Request.Context(), tenantID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.History, "page_info": resp.PageInfo})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		AbortWithError(c, validation.Field("plan_id", "required", "plan_id is required"))
		return
	}

	result, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), tenantID, planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

func (s *Server) SyncSubscription(c *gin.Context) {
	tenantID, ok := tenantFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.SyncFromProvider(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, sub)
}

// AdminUpsertSubscription writes a tenant's subscription directly, for
// manual provisioning and repair.
func (s *Server) AdminUpsertSubscription(c *gin.Context) {
	var req subscriptiondomain.UpsertSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("subscription upserted by platform admin",
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("plan_id", sub.PlanID),
		zap.String("status", string(sub.Status)),
	)
	respond(c, http.StatusOK, sub)
}

func (s *Server) AdminGetSubscription(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, sub)
}

func (s *Server) AdminSyncSubscription(c *gin.Context) {
	tenantID, ok := pathID(c, "tenant_id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.SyncFromProvider(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, sub)
}
