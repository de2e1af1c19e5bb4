package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"gorm.io/gorm"
)

// Sequence is the counter row of one numbering scope. Period is the
// calendar year of the document's issue date.
type Sequence struct {
	TenantID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	DocumentType string       `gorm:"primaryKey;type:text"`
	Period       string       `gorm:"primaryKey;type:text"`
	LastValue    int64        `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Sequence) TableName() string { return "document_number_sequences" }

// Prefixes maps a document type to the prefix of its numbers.
var Prefixes = map[string]string{
	"quote":            "QUO",
	"invoice":          "INV",
	"proforma":         "PRO",
	"credit_note":      "CN",
	"purchase_invoice": "PINV",
}

var (
	ErrUnknownDocumentType = ierr.NewError("unknown_document_type").Mark(ierr.ErrValidation)
	ErrInvalidTenant       = ierr.NewError("invalid_tenant").Mark(ierr.ErrValidation)
)

type Repository interface {
	// Increment atomically bumps the counter of the scope, creating it at 1,
	// and returns the new value.
	Increment(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, documentType, period string, now time.Time) (int64, error)
}

type Service interface {
	// Next allocates the next document number of the scope inside tx, so the
	// allocation commits or rolls back together with the document insert.
	Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, documentType string, issueDate time.Time) (string, error)
}
