package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is the raw inbox entry of a verified webhook delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Outcome         *string        `json:"outcome,omitempty" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// AdapterConfig carries the per-provider secrets an adapter needs.
type AdapterConfig struct {
	Provider      string
	WebhookSecret string
}

// Adapter verifies and translates one provider's webhook deliveries.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*subscriptiondomain.ProviderEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

var (
	ErrInvalidProvider    = ierr.NewError("invalid_provider").WithHint("provider is required").Mark(ierr.ErrValidation)
	ErrProviderNotFound   = ierr.NewError("provider_not_found").Mark(ierr.ErrNotFound)
	ErrInvalidConfig      = ierr.NewError("invalid_provider_config").WithHint("webhook secret is not configured").Mark(ierr.ErrValidation)
	ErrInvalidPayload     = ierr.NewError("invalid_payload").Mark(ierr.ErrValidation)
	ErrInvalidSignature   = ierr.NewError("invalid_signature").WithHint("webhook signature does not match").Mark(ierr.ErrValidation)
	ErrInvalidGatewayData = ierr.NewError("invalid_provider_response").Mark(ierr.ErrProvider)
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID, outcome string, processedAt time.Time) error
}

// Service ingests webhook deliveries.
type Service interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (string, error)
}
