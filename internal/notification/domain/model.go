package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/pkg/tenantctx"
)

// Event types emitted after a state change has committed.
const (
	EventDocumentCreated         = "billing_document.created"
	EventDocumentUpdated         = "billing_document.updated"
	EventDocumentDeleted         = "billing_document.deleted"
	EventDocumentConverted       = "billing_document.converted"
	EventDocumentStatusChanged   = "billing_document.status_changed"
	EventDocumentPaymentRecorded = "billing_document.payment_recorded"
	EventSubscriptionChanged     = "subscription.changed"
	EventSubscriptionPlan        = "subscription.plan_changed"
	EventSettingsUpdated         = "tenant_settings.updated"
)

type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   snowflake.ID    `json:"tenant_id"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id,omitempty"`
	Actor      tenantctx.Actor `json:"-"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    map[string]any  `json:"payload,omitempty"`
}

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Notifier delivers events to every sink. Delivery is best effort and never
// fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
