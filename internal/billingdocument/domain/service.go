package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/pkg/db/pagination"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"gorm.io/gorm"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

type ItemInput struct {
	Description string          `json:"description" validate:"required,max=1024"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	TaxRate     decimal.Decimal `json:"tax_rate" validate:"gte=0,lte=100"`
}

type CreateDocumentRequest struct {
	DocumentType    DocumentType    `json:"document_type" validate:"required,oneof=quote invoice proforma credit_note purchase_invoice"`
	IssueDate       string          `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate         string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ValidUntil      string          `json:"valid_until" validate:"omitempty,datetime=2006-01-02"`
	Currency        string          `json:"currency" validate:"omitempty,iso4217"`
	CustomerName    string          `json:"customer_name" validate:"required,max=255"`
	CustomerEmail   string          `json:"customer_email" validate:"omitempty,email"`
	CustomerTaxID   string          `json:"customer_tax_id" validate:"omitempty,taxid"`
	CustomerAddress string          `json:"customer_address" validate:"omitempty,max=1024"`
	Notes           string          `json:"notes" validate:"omitempty,max=4096"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	Items           []ItemInput     `json:"items" validate:"omitempty,max=500,dive"`
}

// UpdateDocumentRequest edits header fields. Nil fields are left unchanged.
type UpdateDocumentRequest struct {
	IssueDate       *string          `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate         *string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ValidUntil      *string          `json:"valid_until" validate:"omitempty,datetime=2006-01-02"`
	Currency        *string          `json:"currency" validate:"omitempty,iso4217"`
	CustomerName    *string          `json:"customer_name" validate:"omitempty,min=1,max=255"`
	CustomerEmail   *string          `json:"customer_email" validate:"omitempty,email"`
	CustomerTaxID   *string          `json:"customer_tax_id" validate:"omitempty,taxid"`
	CustomerAddress *string          `json:"customer_address" validate:"omitempty,max=1024"`
	Notes           *string          `json:"notes" validate:"omitempty,max=4096"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount" validate:"omitempty,gte=0"`
}

type UpdateItemRequest struct {
	Description *string          `json:"description" validate:"omitempty,min=1,max=1024"`
	Quantity    *decimal.Decimal `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price" validate:"omitempty,gte=0"`
	TaxRate     *decimal.Decimal `json:"tax_rate" validate:"omitempty,gte=0,lte=100"`
}

type ListDocumentRequest struct {
	pagination.Pagination
	DocumentType string `form:"document_type" json:"document_type"`
	Status       string `form:"status" json:"status"`
}

type ListDocumentResponse struct {
	pagination.PageInfo
	Documents []Document `json:"documents"`
}

type ListFilter struct {
	TenantID     snowflake.ID
	DocumentType DocumentType
	Status       Status
	AfterID      int64
	Limit        int
}

var (
	ErrInvalidTenant      = ierr.NewError("invalid_tenant").WithHint("tenant is required").Mark(ierr.ErrValidation)
	ErrInvalidDocumentID  = ierr.NewError("invalid_document_id").Mark(ierr.ErrValidation)
	ErrInvalidPageToken   = ierr.NewError("invalid_page_token").Mark(ierr.ErrValidation)
	ErrInvalidPayment     = ierr.NewError("invalid_payment_amount").WithHint("payment amount must be positive").Mark(ierr.ErrValidation)
	ErrOverpayment        = ierr.NewError("payment_exceeds_total").Mark(ierr.ErrValidation)
	ErrDocumentNotFound   = ierr.NewError("billing_document_not_found").Mark(ierr.ErrNotFound)
	ErrItemNotFound       = ierr.NewError("billing_document_item_not_found").Mark(ierr.ErrNotFound)
	ErrDocumentLocked     = ierr.NewError("billing_document_locked").Mark(ierr.ErrDocumentLocked)
	ErrNotDraft           = ierr.NewError("billing_document_not_draft").WithHint("only draft documents can be deleted").Mark(ierr.ErrDocumentLocked)
	ErrInvalidConversion  = ierr.NewError("invalid_conversion").Mark(ierr.ErrInvalidConversion)
	ErrInvalidTransition  = ierr.NewError("invalid_status_transition").Mark(ierr.ErrInvalidTransition)
	ErrNotPayable         = ierr.NewError("billing_document_not_payable").Mark(ierr.ErrInvalidTransition)
	ErrDuplicateNumber    = ierr.NewError("duplicate_document_number").Mark(ierr.ErrDuplicateNumber)
	ErrNumberSpaceCrowded = ierr.NewError("document_number_space_crowded").Mark(ierr.ErrDuplicateNumber)
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, doc *Document) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Document, error)
	// FindForUpdate row-locks the document until the transaction ends.
	FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Document, error)
	NumberExists(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, documentType DocumentType, number string) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Document, error)
	Update(ctx context.Context, db *gorm.DB, doc *Document) error
	Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error

	InsertItem(ctx context.Context, db *gorm.DB, item *Item) error
	FindItem(ctx context.Context, db *gorm.DB, tenantID, documentID, itemID snowflake.ID) (*Item, error)
	ListItems(ctx context.Context, db *gorm.DB, tenantID, documentID snowflake.ID) ([]Item, error)
	UpdateItem(ctx context.Context, db *gorm.DB, item *Item) error
	DeleteItem(ctx context.Context, db *gorm.DB, tenantID, itemID snowflake.ID) error
	NextPosition(ctx context.Context, db *gorm.DB, tenantID, documentID snowflake.ID) (int, error)
}

type Service interface {
	Create(ctx context.Context, req CreateDocumentRequest) (*Document, error)
	Get(ctx context.Context, id snowflake.ID) (*Document, error)
	List(ctx context.Context, req ListDocumentRequest) (ListDocumentResponse, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateDocumentRequest) (*Document, error)
	Delete(ctx context.Context, id snowflake.ID) error
	Convert(ctx context.Context, id snowflake.ID, target DocumentType) (*Document, error)
	TransitionStatus(ctx context.Context, id snowflake.ID, status Status) (*Document, error)
	RecordPayment(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*Document, error)

	AddItem(ctx context.Context, documentID snowflake.ID, input ItemInput) (*Item, error)
	UpdateItem(ctx context.Context, documentID, itemID snowflake.ID, req UpdateItemRequest) (*Item, error)
	RemoveItem(ctx context.Context, documentID, itemID snowflake.ID) error
	ListItems(ctx context.Context, documentID snowflake.ID) ([]Item, error)
}
