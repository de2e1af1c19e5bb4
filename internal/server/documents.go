package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingdocumentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"github.com/smallbiznis/billingsync/pkg/validation"
)

type convertDocumentRequest struct {
	TargetType billingdocumentdomain.DocumentType `json:"target_type"`
}

type transitionStatusRequest struct {
	Status billingdocumentdomain.Status `json:"status"`
}

type recordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) CreateDocument(c *gin.Context) {
	var req billingdocumentdomain.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	doc, err := s.documentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, doc)
}

func (s *Server) ListDocuments(c *gin.Context) {
	var query billingdocumentdomain.ListDocumentRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.documentSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.Documents, "page_info": resp.PageInfo})
}

func (s *Server) GetDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	doc, err := s.documentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, doc)
}

func (s *Server) UpdateDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req billingdocumentdomain.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	doc, err := s.documentSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, doc)
}

func (s *Server) DeleteDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.documentSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ConvertDocument(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req convertDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target := billingdocumentdomain.DocumentType(strings.TrimSpace(string(req.TargetType)))
	if target == "" {
		AbortWithError(c, validation.Field("target_type", "required", "target_type is required"))
		return
	}

	doc, err := s.documentSvc.Convert(c.Request.Context(), id, target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, doc)
}

func (s *Server) TransitionDocumentStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req transitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := billingdocumentdomain.Status(strings.TrimSpace(string(req.Status)))
	if status == "" {
		AbortWithError(c, validation.Field("status", "required", "status is required"))
		return
	}

	doc, err := s.documentSvc.TransitionStatus(c.Request.Context(), id, status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, doc)
}

func (s *Server) RecordDocumentPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	doc, err := s.documentSvc.RecordPayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, doc)
}

func (s *Server) CheckDocumentCompliance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.complianceSvc.Check(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

func (s *Server) ListDocumentItems(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	items, err := s.documentSvc.ListItems(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, items)
}

func (s *Server) AddDocumentItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req billingdocumentdomain.ItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.documentSvc.AddItem(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, item)
}

func (s *Server) UpdateDocumentItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}
	var req billingdocumentdomain.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.documentSvc.UpdateItem(c.Request.Context(), id, itemID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, item)
}

func (s *Server) RemoveDocumentItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}

	if err := s.documentSvc.RemoveItem(c.Request.Context(), id, itemID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// pathID parses a snowflake path parameter and aborts the request when it is
// malformed.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		AbortWithError(c, validation.Field(name, "invalid_id", "invalid "+name))
		return 0, false
	}
	return id, true
}
