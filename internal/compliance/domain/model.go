package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Field names reported in Result.MissingFields.
const (
	FieldCustomerName     = "customer_name"
	FieldCustomerTaxID    = "customer_tax_id"
	FieldCustomerAddress  = "customer_address"
	FieldSellerLegalName  = "seller_legal_name"
	FieldSellerTaxID      = "seller_tax_id"
	FieldSellerAddress    = "seller_address"
	FieldDocumentNumber   = "document_number"
	FieldIssueDate        = "issue_date"
	FieldDueDate          = "due_date"
	FieldLineItems        = "line_items"
	FieldLineTaxBreakdown = "line_tax_breakdown"
)

const DefaultJurisdiction = "default"

type Result struct {
	DocumentID    snowflake.ID `json:"document_id"`
	Jurisdiction  string       `json:"jurisdiction"`
	IsCompliant   bool         `json:"is_compliant"`
	MissingFields []string     `json:"missing_fields"`
}

type Service interface {
	// Check evaluates the mandatory fields of the tenant's jurisdiction
	// against a stored document. It never modifies the document.
	Check(ctx context.Context, documentID snowflake.ID) (Result, error)
}
