package stripe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/billingsync/internal/config"
	paymentdomain "github.com/smallbiznis/billingsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const prorationBehavior = "create_prorations"

// Gateway performs outbound subscription calls against the Stripe API.
type Gateway struct {
	client *stripego.Client
	log    *zap.Logger
}

// ProvideGateway returns the Stripe gateway, or nil when Stripe is not the
// configured provider or no secret key is set.
func ProvideGateway(cfg config.Config, log *zap.Logger) subscriptiondomain.ProviderGateway {
	if cfg.PaymentProvider != ProviderName || strings.TrimSpace(cfg.StripeSecretKey) == "" {
		log.Warn("stripe gateway disabled; plan changes and provider sync are unavailable",
			zap.String("payment_provider", cfg.PaymentProvider))
		return nil
	}
	return NewGateway(cfg.StripeSecretKey, nil, log)
}

// NewGateway builds a gateway. A nil backends uses the live Stripe API.
func NewGateway(secretKey string, backends *stripego.Backends, log *zap.Logger) *Gateway {
	return &Gateway{
		client: stripego.NewClient(secretKey, stripego.WithBackends(backends)),
		log:    log.Named("payment.stripe"),
	}
}

func (g *Gateway) Name() string { return ProviderName }

func (g *Gateway) FetchSubscription(ctx context.Context, externalSubscriptionID string) (*subscriptiondomain.ProviderSubscription, error) {
	sub, err := g.retrieve(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}

	raw, err := rawJSON(sub)
	if err != nil {
		return nil, err
	}
	var wire stripeSubscription
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, paymentdomain.ErrInvalidGatewayData
	}
	return wire.toProvider(), nil
}

// ChangePlan swaps the price of the subscription's first item and lets Stripe
// prorate the difference.
func (g *Gateway) ChangePlan(ctx context.Context, in subscriptiondomain.ChangePlanInput) error {
	if strings.TrimSpace(in.NewPriceID) == "" {
		return paymentdomain.ErrInvalidGatewayData
	}
	current, err := g.retrieve(ctx, in.ExternalSubscriptionID)
	if err != nil {
		return err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return paymentdomain.ErrInvalidGatewayData
	}

	params := &stripego.SubscriptionUpdateParams{
		Items: []*stripego.SubscriptionUpdateItemParams{{
			ID:    stripego.String(current.Items.Data[0].ID),
			Price: stripego.String(in.NewPriceID),
		}},
		ProrationBehavior: stripego.String(prorationBehavior),
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	if _, err := g.client.V1Subscriptions.Update(ctx, in.ExternalSubscriptionID, params); err != nil {
		g.log.Warn("stripe subscription update failed",
			zap.String("external_subscription_id", in.ExternalSubscriptionID),
			zap.String("new_price_id", in.NewPriceID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (g *Gateway) retrieve(ctx context.Context, id string) (*stripego.Subscription, error) {
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, id, &stripego.SubscriptionRetrieveParams{})
	if err != nil {
		g.log.Warn("stripe subscription retrieve failed",
			zap.String("external_subscription_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return sub, nil
}

// rawJSON prefers the response body Stripe sent over re-encoding the typed
// object.
func rawJSON(sub *stripego.Subscription) ([]byte, error) {
	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		return sub.LastResponse.RawJSON, nil
	}
	return json.Marshal(sub)
}
