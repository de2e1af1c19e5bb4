package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/pkg/db/pagination"
	"github.com/smallbiznis/billingsync/pkg/ierr"
)

type UpsertSubscriptionRequest struct {
	TenantID               snowflake.ID     `json:"tenant_id" validate:"required"`
	PlanID                 string           `json:"plan_id" validate:"required"`
	Provider               string           `json:"provider" validate:"required"`
	ExternalCustomerID     string           `json:"external_customer_id"`
	ExternalSubscriptionID string           `json:"external_subscription_id" validate:"required"`
	Status                 Status           `json:"status" validate:"required,oneof=trialing active past_due canceled"`
	Amount                 *decimal.Decimal `json:"amount,omitempty"`
	Currency               string           `json:"currency" validate:"omitempty,len=3"`
	CurrentPeriodStart     *time.Time       `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time       `json:"current_period_end,omitempty"`
	TrialEnd               *time.Time       `json:"trial_end,omitempty"`
	Metadata               map[string]any   `json:"metadata,omitempty"`
}

type ListHistoryRequest struct {
	pagination.Pagination
	Action string `form:"action"`
}

type ListHistoryResponse struct {
	pagination.PageInfo
	History []History `json:"history"`
}

// PlanChangeDirection classifies a plan change by monthly price.
type PlanChangeDirection string

const (
	DirectionUpgraded   PlanChangeDirection = "upgraded"
	DirectionDowngraded PlanChangeDirection = "downgraded"
	DirectionUpdated    PlanChangeDirection = "updated"
)

// ClassifyPlanChange compares monthly prices. Equal prices are neither an
// upgrade nor a downgrade.
func ClassifyPlanChange(oldPrice, newPrice decimal.Decimal) PlanChangeDirection {
	switch newPrice.Cmp(oldPrice) {
	case 1:
		return DirectionUpgraded
	case -1:
		return DirectionDowngraded
	default:
		return DirectionUpdated
	}
}

type ChangePlanResult struct {
	Subscription *Subscription       `json:"subscription"`
	OldPlanID    string              `json:"old_plan_id"`
	NewPlanID    string              `json:"new_plan_id"`
	OldAmount    decimal.Decimal     `json:"old_amount"`
	NewAmount    decimal.Decimal     `json:"new_amount"`
	Direction    PlanChangeDirection `json:"direction"`
}

var (
	ErrInvalidTenant         = ierr.NewError("invalid_tenant").WithHint("tenant is required").Mark(ierr.ErrValidation)
	ErrInvalidPlan           = ierr.NewError("invalid_plan").WithHint("plan_id is required").Mark(ierr.ErrValidation)
	ErrInvalidEvent          = ierr.NewError("invalid_provider_event").Mark(ierr.ErrValidation)
	ErrInvalidPageToken      = ierr.NewError("invalid_page_token").Mark(ierr.ErrValidation)
	ErrSamePlan              = ierr.NewError("same_plan").WithHint("subscription is already on this plan").Mark(ierr.ErrValidation)
	ErrSubscriptionNotFound  = ierr.NewError("subscription_not_found").Mark(ierr.ErrNotFound)
	ErrSubscriptionNotActive = ierr.NewError("subscription_not_active").Mark(ierr.ErrInvalidTransition)
	ErrSubscriptionCanceled  = ierr.NewError("subscription_canceled").WithHint("subscription is canceled; use a new external subscription id to reactivate").Mark(ierr.ErrInvalidTransition)
	ErrProviderUnavailable   = ierr.NewError("payment_provider_unavailable").WithHint("payment provider is not configured").Mark(ierr.ErrProvider)
	ErrProviderCall          = ierr.NewError("payment_provider_call_failed").Mark(ierr.ErrProvider)
	ErrPlanChangeUnrecorded  = ierr.NewError("plan_change_not_recorded").Mark(ierr.ErrInconsistentState)
)

type Service interface {
	HandleEvent(ctx context.Context, event ProviderEvent) (string, error)
	Get(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	ListHistory(ctx context.Context, tenantID snowflake.ID, req ListHistoryRequest) (ListHistoryResponse, error)
	Upsert(ctx context.Context, req UpsertSubscriptionRequest) (*Subscription, error)
	SyncFromProvider(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	ChangePlan(ctx context.Context, tenantID snowflake.ID, newPlanID string) (*ChangePlanResult, error)
}
