// Package domain contains the billing document models and lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DocumentType is the commercial kind of a document.
type DocumentType string

const (
	TypeQuote           DocumentType = "quote"
	TypeInvoice         DocumentType = "invoice"
	TypeProforma        DocumentType = "proforma"
	TypeCreditNote      DocumentType = "credit_note"
	TypePurchaseInvoice DocumentType = "purchase_invoice"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusConverted Status = "converted"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Document is a quote, invoice, proforma, credit note or purchase invoice.
// Monetary totals are maintained by the service from the items.
type Document struct {
	ID              snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID        snowflake.ID    `gorm:"not null;uniqueIndex:ux_billing_documents_number,priority:1;index:ix_billing_documents_tenant_type,priority:1" json:"tenant_id"`
	DocumentType    DocumentType    `gorm:"type:text;not null;uniqueIndex:ux_billing_documents_number,priority:2;index:ix_billing_documents_tenant_type,priority:2" json:"document_type"`
	DocumentNumber  string          `gorm:"type:text;not null;uniqueIndex:ux_billing_documents_number,priority:3" json:"document_number"`
	Status          Status          `gorm:"type:text;not null;default:'draft'" json:"status"`
	IssueDate       time.Time       `gorm:"not null" json:"issue_date"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	ValidUntil      *time.Time      `json:"valid_until,omitempty"`
	Currency        string          `gorm:"type:text;not null" json:"currency"`
	CustomerName    string          `gorm:"type:text;not null" json:"customer_name"`
	CustomerEmail   string          `gorm:"type:text" json:"customer_email,omitempty"`
	CustomerTaxID   string          `gorm:"type:text" json:"customer_tax_id,omitempty"`
	CustomerAddress string          `gorm:"type:text" json:"customer_address,omitempty"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`
	Subtotal        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"subtotal"`
	TaxAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"tax_amount"`
	DiscountAmount  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"discount_amount"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_amount"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"paid_amount"`
	ConvertedFromID *snowflake.ID   `json:"converted_from_id,omitempty"`
	ConvertedToID   *snowflake.ID   `json:"converted_to_id,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`

	Items []Item `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (Document) TableName() string { return "billing_documents" }

// Item is one line of a document. Subtotal, TaxAmount and Total are derived
// from Quantity, UnitPrice and TaxRate.
type Item struct {
	ID          snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID    snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	DocumentID  snowflake.ID    `gorm:"not null;index" json:"document_id"`
	Position    int             `gorm:"not null" json:"position"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unit_price"`
	TaxRate     decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	TaxAmount   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"tax_amount"`
	Total       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (Item) TableName() string { return "billing_document_items" }
