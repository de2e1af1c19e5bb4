// Package domain contains persistence models for tenant subscriptions and
// their provider-driven history.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// IsTerminal reports whether no provider update may move the subscription
// out of the status.
func (s Status) IsTerminal() bool { return s == StatusCanceled }

// ParseProviderStatus maps a provider status onto the local lifecycle.
func ParseProviderStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due", "unpaid", "incomplete", "paused":
		return StatusPastDue, true
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Subscription is the single subscription row a tenant holds with the payment
// provider. A new provider subscription replaces it in place.
type Subscription struct {
	ID                     snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID               snowflake.ID      `gorm:"not null;uniqueIndex:ux_subscriptions_tenant" json:"tenant_id"`
	PlanID                 string            `gorm:"type:text;not null" json:"plan_id"`
	Provider               string            `gorm:"type:text;not null" json:"provider"`
	ExternalCustomerID     string            `gorm:"type:text" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string            `gorm:"type:text;not null;index:ix_subscriptions_external" json:"external_subscription_id"`
	Status                 Status            `gorm:"type:text;not null" json:"status"`
	Amount                 decimal.Decimal   `gorm:"type:numeric(14,2);not null;default:0" json:"amount"`
	Currency               string            `gorm:"type:text;not null" json:"currency"`
	CurrentPeriodStart     *time.Time        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time        `json:"current_period_end,omitempty"`
	TrialEnd               *time.Time        `json:"trial_end,omitempty"`
	CanceledAt             *time.Time        `json:"canceled_at,omitempty"`
	EndedAt                *time.Time        `json:"ended_at,omitempty"`
	LastPaymentAt          *time.Time        `json:"last_payment_at,omitempty"`
	LastEventAt            *time.Time        `json:"last_event_at,omitempty"`
	Metadata               datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt              time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// History actions.
const (
	ActionCreated          = "created"
	ActionUpdated          = "updated"
	ActionCanceled         = "canceled"
	ActionPaymentSucceeded = "payment_succeeded"
	ActionPaymentFailed    = "payment_failed"
	ActionUpgraded         = "upgraded"
	ActionDowngraded       = "downgraded"
	ActionPlanUpdated      = "plan_updated"
	ActionSynced           = "synced"
)

// History is an append-only record of every change applied to a tenant
// subscription.
type History struct {
	ID              snowflake.ID        `gorm:"primaryKey" json:"id"`
	TenantID        snowflake.ID        `gorm:"not null;index:ix_subscription_history_tenant" json:"tenant_id"`
	SubscriptionID  snowflake.ID        `gorm:"not null;index" json:"subscription_id"`
	Action          string              `gorm:"type:text;not null" json:"action"`
	OldPlanID       *string             `gorm:"type:text" json:"old_plan_id,omitempty"`
	NewPlanID       *string             `gorm:"type:text" json:"new_plan_id,omitempty"`
	OldStatus       *string             `gorm:"type:text" json:"old_status,omitempty"`
	NewStatus       *string             `gorm:"type:text" json:"new_status,omitempty"`
	OldAmount       decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"old_amount"`
	Amount          decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"amount"`
	ProviderEventID *string             `gorm:"type:text" json:"provider_event_id,omitempty"`
	Details         datatypes.JSONMap   `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt       time.Time           `gorm:"not null" json:"created_at"`
}

func (History) TableName() string { return "subscription_history" }

// Event outcomes recorded in the dedup table.
const (
	OutcomeApplied   = "applied"
	OutcomeSkipped   = "skipped"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
)

// ProcessedEvent marks a provider event as handled so redeliveries become
// no-ops.
type ProcessedEvent struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Provider        string        `gorm:"type:text;not null;uniqueIndex:ux_subscription_provider_events"`
	ProviderEventID string        `gorm:"type:text;not null;uniqueIndex:ux_subscription_provider_events"`
	EventType       string        `gorm:"type:text;not null"`
	TenantID        *snowflake.ID `gorm:""`
	Outcome         string        `gorm:"type:text;not null"`
	ProcessedAt     time.Time     `gorm:"not null"`
}

func (ProcessedEvent) TableName() string { return "subscription_provider_events" }
