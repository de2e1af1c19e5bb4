package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/billingsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const ProviderName = "stripe"

const signatureHeader = "Stripe-Signature"

// Stripe event types mapped onto the normalized ones. Anything else is passed
// through unchanged and ignored downstream.
var eventTypes = map[string]string{
	"customer.subscription.created": subscriptiondomain.EventSubscriptionCreated,
	"customer.subscription.updated": subscriptiondomain.EventSubscriptionUpdated,
	"customer.subscription.deleted": subscriptiondomain.EventSubscriptionDeleted,
	"invoice.payment_succeeded":     subscriptiondomain.EventInvoicePaymentSucceeded,
	"invoice.payment_failed":        subscriptiondomain.EventInvoicePaymentFailed,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(_ context.Context, payload []byte) (*subscriptiondomain.ProviderEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if event.ID == "" || event.Type == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	out := &subscriptiondomain.ProviderEvent{
		Provider:   ProviderName,
		EventID:    event.ID,
		Type:       string(event.Type),
		OccurredAt: unixTime(event.Created),
	}
	normalized, known := eventTypes[string(event.Type)]
	if !known {
		return out, nil
	}
	out.Type = normalized
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch normalized {
	case subscriptiondomain.EventInvoicePaymentSucceeded, subscriptiondomain.EventInvoicePaymentFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Invoice = inv.toProvider()
	default:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Subscription = sub.toProvider()
	}
	return out, nil
}

func unixTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func unixTimePtr(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
