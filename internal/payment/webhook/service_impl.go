package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	"github.com/smallbiznis/billingsync/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/billingsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	Adapters      *adapters.Registry
	Subscriptions subscriptiondomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          paymentdomain.Repository
	adapters      *adapters.Registry
	subscriptions subscriptiondomain.Service
	secrets       map[string]string
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		adapters:      p.Adapters,
		subscriptions: p.Subscriptions,
		secrets: map[string]string{
			"stripe": p.Cfg.StripeWebhookSecret,
		},
	}
}

// Ingest verifies one webhook delivery, records it in the inbox and hands the
// normalized event to the subscription engine. Redeliveries still reach the
// engine, which reports OutcomeDuplicate once the event has been applied, so a
// delivery that failed midway is retried.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return "", paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider:      provider,
		WebhookSecret: s.secrets[provider],
	})
	if err != nil {
		s.log.Error("webhook adapter unavailable", zap.String("provider", provider), zap.Error(err))
		return "", err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return "", err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return "", err
	}

	log := s.log.With(
		zap.String("provider", provider),
		zap.String("provider_event_id", event.EventID),
		zap.String("event_type", event.Type),
	)

	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.EventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return "", err
	}
	if !inserted {
		log.Debug("webhook delivery already in inbox")
	}

	outcome, err := s.subscriptions.HandleEvent(ctx, *event)
	if err != nil {
		log.Error("webhook event processing failed", zap.Error(err))
		return "", err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, provider, event.EventID, outcome, s.clock.Now()); err != nil {
		log.Warn("failed to mark webhook delivery processed", zap.Error(err))
	}
	return outcome, nil
}
