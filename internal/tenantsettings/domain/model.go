package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"gorm.io/gorm"
)

// Settings holds a tenant's billing defaults and seller identity. Tenants
// without a row get the configured defaults.
type Settings struct {
	TenantID                 snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"tenant_id"`
	DefaultDueDays           int          `gorm:"not null" json:"default_due_days"`
	DefaultQuoteValidityDays int          `gorm:"not null" json:"default_quote_validity_days"`
	SellerLegalName          string       `gorm:"type:text" json:"seller_legal_name"`
	SellerTaxID              string       `gorm:"type:text" json:"seller_tax_id"`
	SellerAddress            string       `gorm:"type:text" json:"seller_address"`
	Jurisdiction             string       `gorm:"type:text;not null" json:"jurisdiction"`
	Currency                 string       `gorm:"type:text;not null" json:"currency"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`

	// Persisted is false when the values come from configured defaults.
	Persisted bool `gorm:"-" json:"persisted"`
}

func (Settings) TableName() string { return "tenant_billing_settings" }

type UpsertRequest struct {
	DefaultDueDays           *int    `json:"default_due_days" validate:"omitempty,gte=0,lte=365"`
	DefaultQuoteValidityDays *int    `json:"default_quote_validity_days" validate:"omitempty,gte=0,lte=365"`
	SellerLegalName          *string `json:"seller_legal_name" validate:"omitempty,max=255"`
	SellerTaxID              *string `json:"seller_tax_id" validate:"omitempty,taxid"`
	SellerAddress            *string `json:"seller_address" validate:"omitempty,max=1024"`
	Jurisdiction             *string `json:"jurisdiction" validate:"omitempty,max=16"`
	Currency                 *string `json:"currency" validate:"omitempty,iso4217"`
}

var ErrInvalidTenant = ierr.NewError("invalid_tenant").WithHint("tenant is required").Mark(ierr.ErrValidation)

type Repository interface {
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Settings, error)
	Upsert(ctx context.Context, db *gorm.DB, settings *Settings) error
}

type Service interface {
	Get(ctx context.Context, tenantID snowflake.ID) (*Settings, error)
	// GetTx reads inside an open transaction.
	GetTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*Settings, error)
	Upsert(ctx context.Context, tenantID snowflake.ID, req UpsertRequest) (*Settings, error)
}
