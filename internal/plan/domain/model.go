package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/pkg/ierr"
)

// Plan is one entry of the payment-provider plan catalogue.
type Plan struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"display_name"`
	PriceMonthly    decimal.Decimal `json:"price_monthly"`
	Currency        string          `json:"currency"`
	ProviderPriceID string          `json:"provider_price_id"`
}

var ErrPlanNotFound = ierr.NewError("plan_not_found").Mark(ierr.ErrNotFound)

type Service interface {
	Get(ctx context.Context, planID string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	FindByProviderPriceID(ctx context.Context, priceID string) (*Plan, error)
}
