package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Normalized provider event types.
const (
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// Metadata keys the checkout flow writes onto provider objects.
const (
	MetadataTenantID = "tenant_id"
	MetadataPlanID   = "plan_id"
)

// ProviderEvent is a verified webhook event translated out of the provider's
// wire format. Exactly one of Subscription and Invoice is set for known
// types.
type ProviderEvent struct {
	Provider     string
	EventID      string
	Type         string
	OccurredAt   time.Time
	Subscription *ProviderSubscription
	Invoice      *ProviderInvoice
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 string
	PriceID                string
	Amount                 decimal.Decimal
	Currency               string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialEnd               *time.Time
	CanceledAt             *time.Time
	EndedAt                *time.Time
	Metadata               map[string]string
}

// ProviderInvoice is the provider's view of a subscription invoice.
type ProviderInvoice struct {
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	AmountPaid             decimal.Decimal
	AmountDue              decimal.Decimal
	Currency               string
	AttemptCount           int64
	Metadata               map[string]string
}

// TenantFromMetadata parses the tenant id stamped on a provider object.
func TenantFromMetadata(metadata map[string]string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(metadata[MetadataTenantID])
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ChangePlanInput is what the provider needs to move a subscription to
// another price. Proration is left to the provider.
type ChangePlanInput struct {
	ExternalSubscriptionID string
	NewPriceID             string
	IdempotencyKey         string
}

// ProviderGateway performs outbound calls against the payment provider.
type ProviderGateway interface {
	Name() string
	ChangePlan(ctx context.Context, in ChangePlanInput) error
	FetchSubscription(ctx context.Context, externalSubscriptionID string) (*ProviderSubscription, error)
}
