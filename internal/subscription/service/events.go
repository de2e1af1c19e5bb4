package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/billingsync/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var processedEventConstraint = []string{"ux_subscription_provider_events", "subscription_provider_events.provider_event_id"}

type applyResult struct {
	outcome string
	action  string
	sub     *subscriptiondomain.Subscription
}

func skipped() applyResult { return applyResult{outcome: subscriptiondomain.OutcomeSkipped} }
func ignored() applyResult { return applyResult{outcome: subscriptiondomain.OutcomeIgnored} }
func stale() applyResult   { return applyResult{outcome: subscriptiondomain.OutcomeStale} }

// HandleEvent applies one verified provider event. Each (provider, event id)
// is applied at most once; redeliveries report OutcomeDuplicate. Events that
// cannot be attributed to a tenant or plan are recorded as skipped and do not
// return an error, so the provider stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event subscriptiondomain.ProviderEvent) (string, error) {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.EventID = strings.TrimSpace(event.EventID)
	event.Type = strings.TrimSpace(event.Type)
	if event.Provider == "" || event.EventID == "" || event.Type == "" {
		return "", subscriptiondomain.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.EventID),
		zap.String("event_type", event.Type),
	)

	var res applyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = applyResult{}
		seen, err := s.repo.FindProcessedEvent(ctx, tx, event.Provider, event.EventID)
		if err != nil {
			return err
		}
		if seen != nil {
			res.outcome = subscriptiondomain.OutcomeDuplicate
			return nil
		}

		res, err = s.apply(ctx, tx, log, event)
		if err != nil {
			return err
		}

		record := &subscriptiondomain.ProcessedEvent{
			ID:              s.genID.Generate(),
			Provider:        event.Provider,
			ProviderEventID: event.EventID,
			EventType:       event.Type,
			Outcome:         res.outcome,
			ProcessedAt:     s.clock.Now(),
		}
		if res.sub != nil {
			tenantID := res.sub.TenantID
			record.TenantID = &tenantID
		}
		return s.repo.InsertProcessedEvent(ctx, tx, record)
	})
	if err != nil {
		if pkgdb.IsConstraintOn(err, processedEventConstraint...) {
			res = applyResult{outcome: subscriptiondomain.OutcomeDuplicate}
		} else {
			log.Error("failed to apply provider event", zap.Error(err))
			return "", err
		}
	}

	s.metrics.RecordSubscriptionEvent(ctx, event.Provider, event.Type, res.outcome)
	log.Info("provider event handled", zap.String("outcome", res.outcome))

	if res.outcome == subscriptiondomain.OutcomeApplied {
		s.notify(ctx, notificationdomain.EventSubscriptionChanged, res.sub, map[string]any{
			"source":            "provider_event",
			"action":            res.action,
			"provider_event_id": event.EventID,
		})
	}
	return res.outcome, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, log *zap.Logger, event subscriptiondomain.ProviderEvent) (applyResult, error) {
	switch event.Type {
	case subscriptiondomain.EventSubscriptionCreated, subscriptiondomain.EventSubscriptionUpdated:
		return s.applySubscription(ctx, tx, log, event)
	case subscriptiondomain.EventSubscriptionDeleted:
		return s.applyDeleted(ctx, tx, log, event)
	case subscriptiondomain.EventInvoicePaymentSucceeded, subscriptiondomain.EventInvoicePaymentFailed:
		return s.applyInvoice(ctx, tx, log, event)
	default:
		return ignored(), nil
	}
}

func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, log *zap.Logger, event subscriptiondomain.ProviderEvent) (applyResult, error) {
	remote := event.Subscription
	if remote == nil || remote.ExternalSubscriptionID == "" {
		log.Warn("subscription event without subscription object")
		return skipped(), nil
	}

	tenantID, ok := subscriptiondomain.TenantFromMetadata(remote.Metadata)
	if !ok {
		log.Warn("subscription event missing tenant metadata",
			zap.String("external_subscription_id", remote.ExternalSubscriptionID))
		return skipped(), nil
	}
	planID, err := s.resolvePlanID(ctx, remote)
	if err != nil {
		return applyResult{}, err
	}
	if planID == "" {
		log.Warn("subscription event missing plan metadata",
			zap.String("tenant_id", tenantID.String()),
			zap.String("price_id", remote.PriceID))
		return skipped(), nil
	}
	status, ok := subscriptiondomain.ParseProviderStatus(remote.Status)
	if !ok {
		log.Warn("subscription event with unknown status", zap.String("status", remote.Status))
		return skipped(), nil
	}

	existing, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
	if err != nil {
		return applyResult{}, err
	}
	if existing != nil {
		sameSubscription := existing.ExternalSubscriptionID == remote.ExternalSubscriptionID
		if sameSubscription && existing.Status.IsTerminal() {
			return ignored(), nil
		}
		if isStale(existing, event.OccurredAt) {
			return stale(), nil
		}
	}

	now := s.clock.Now()
	next := s.baseRow(existing, tenantID, remote.ExternalSubscriptionID, now)
	next.PlanID = planID
	next.Provider = event.Provider
	next.ExternalSubscriptionID = remote.ExternalSubscriptionID
	if remote.ExternalCustomerID != "" {
		next.ExternalCustomerID = remote.ExternalCustomerID
	}
	next.Amount, next.Currency = s.remotePricing(ctx, planID, remote, next)
	next.CurrentPeriodStart = remote.CurrentPeriodStart
	next.CurrentPeriodEnd = remote.CurrentPeriodEnd
	next.TrialEnd = remote.TrialEnd
	next.Metadata = metadataMap(remote.Metadata)
	next.LastEventAt = &event.OccurredAt
	setStatus(next, status, event.OccurredAt, remote.CanceledAt, remote.EndedAt)

	action := subscriptiondomain.ActionUpdated
	if event.Type == subscriptiondomain.EventSubscriptionCreated {
		action = subscriptiondomain.ActionCreated
	}
	entry := s.historyEntry(existing, next, action, &event.EventID)
	stored, err := s.write(ctx, tx, existing, next, entry)
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: subscriptiondomain.OutcomeApplied, action: action, sub: stored}, nil
}

func (s *Service) applyDeleted(ctx context.Context, tx *gorm.DB, log *zap.Logger, event subscriptiondomain.ProviderEvent) (applyResult, error) {
	remote := event.Subscription
	if remote == nil || remote.ExternalSubscriptionID == "" {
		log.Warn("subscription event without subscription object")
		return skipped(), nil
	}

	current, err := s.locate(ctx, tx, event.Provider, remote.ExternalSubscriptionID, remote.Metadata)
	if err != nil {
		return applyResult{}, err
	}
	if current == nil {
		return s.recordDeleted(ctx, tx, log, event)
	}
	if current.ExternalSubscriptionID != remote.ExternalSubscriptionID || current.Status.IsTerminal() {
		return ignored(), nil
	}
	if isStale(current, event.OccurredAt) {
		return stale(), nil
	}

	next := *current
	next.UpdatedAt = s.clock.Now()
	next.LastEventAt = &event.OccurredAt
	setStatus(&next, subscriptiondomain.StatusCanceled, event.OccurredAt, remote.CanceledAt, remote.EndedAt)

	entry := s.historyEntry(current, &next, subscriptiondomain.ActionCanceled, &event.EventID)
	stored, err := s.write(ctx, tx, current, &next, entry)
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: subscriptiondomain.OutcomeApplied, action: subscriptiondomain.ActionCanceled, sub: stored}, nil
}

// recordDeleted stores a canceled row for a subscription whose deletion
// arrived before any other event about it, so a late created or updated event
// cannot bring it back.
func (s *Service) recordDeleted(ctx context.Context, tx *gorm.DB, log *zap.Logger, event subscriptiondomain.ProviderEvent) (applyResult, error) {
	remote := event.Subscription
	tenantID, ok := subscriptiondomain.TenantFromMetadata(remote.Metadata)
	if !ok {
		log.Warn("deleted subscription is unknown",
			zap.String("external_subscription_id", remote.ExternalSubscriptionID))
		return skipped(), nil
	}
	planID, err := s.resolvePlanID(ctx, remote)
	if err != nil {
		return applyResult{}, err
	}
	if planID == "" {
		log.Warn("deleted subscription missing plan metadata",
			zap.String("tenant_id", tenantID.String()),
			zap.String("external_subscription_id", remote.ExternalSubscriptionID))
		return skipped(), nil
	}

	next := s.baseRow(nil, tenantID, remote.ExternalSubscriptionID, s.clock.Now())
	next.PlanID = planID
	next.Provider = event.Provider
	next.ExternalSubscriptionID = remote.ExternalSubscriptionID
	next.ExternalCustomerID = remote.ExternalCustomerID
	next.Amount, next.Currency = s.remotePricing(ctx, planID, remote, next)
	next.CurrentPeriodStart = remote.CurrentPeriodStart
	next.CurrentPeriodEnd = remote.CurrentPeriodEnd
	next.Metadata = metadataMap(remote.Metadata)
	next.LastEventAt = &event.OccurredAt
	setStatus(next, subscriptiondomain.StatusCanceled, event.OccurredAt, remote.CanceledAt, remote.EndedAt)

	entry := s.historyEntry(nil, next, subscriptiondomain.ActionCanceled, &event.EventID)
	stored, err := s.write(ctx, tx, nil, next, entry)
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: subscriptiondomain.OutcomeApplied, action: subscriptiondomain.ActionCanceled, sub: stored}, nil
}

func (s *Service) applyInvoice(ctx context.Context, tx *gorm.DB, log *zap.Logger, event subscriptiondomain.ProviderEvent) (applyResult, error) {
	invoice := event.Invoice
	if invoice == nil || invoice.ExternalSubscriptionID == "" {
		// One-off invoices are not tied to a subscription.
		return ignored(), nil
	}

	current, err := s.locate(ctx, tx, event.Provider, invoice.ExternalSubscriptionID, invoice.Metadata)
	if err != nil {
		return applyResult{}, err
	}
	if current == nil {
		log.Warn("invoice event for unknown subscription",
			zap.String("external_subscription_id", invoice.ExternalSubscriptionID))
		return skipped(), nil
	}
	if current.ExternalSubscriptionID != invoice.ExternalSubscriptionID {
		return ignored(), nil
	}
	// A late invoice event is still a payment fact: it is recorded in history
	// and on last_payment_at, but the status belongs to the newer event.
	late := isStale(current, event.OccurredAt)

	next := *current
	next.UpdatedAt = s.clock.Now()
	if !late {
		next.LastEventAt = &event.OccurredAt
	}

	var (
		action string
		amount decimal.Decimal
		extra  = map[string]any{"external_invoice_id": invoice.ExternalInvoiceID}
	)
	if event.Type == subscriptiondomain.EventInvoicePaymentSucceeded {
		action = subscriptiondomain.ActionPaymentSucceeded
		amount = invoice.AmountPaid
		if current.LastPaymentAt == nil || event.OccurredAt.After(*current.LastPaymentAt) {
			paidAt := event.OccurredAt
			next.LastPaymentAt = &paidAt
		}
		if s.healOnPaid && !late && !current.Status.IsTerminal() {
			next.Status = subscriptiondomain.StatusActive
		}
	} else {
		action = subscriptiondomain.ActionPaymentFailed
		amount = invoice.AmountDue
		extra["attempt_count"] = invoice.AttemptCount
		if !late && !current.Status.IsTerminal() {
			next.Status = subscriptiondomain.StatusPastDue
		}
	}
	if late {
		extra["late_event"] = true
	}

	entry := s.historyEntry(current, &next, action, &event.EventID)
	entry.Amount = decimal.NewNullDecimal(amount)
	for k, v := range extra {
		entry.Details[k] = v
	}
	stored, err := s.write(ctx, tx, current, &next, entry)
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: subscriptiondomain.OutcomeApplied, action: action, sub: stored}, nil
}

// locate finds the row an event refers to, by external id first and then by
// the tenant stamped in metadata. The returned row is locked.
func (s *Service) locate(ctx context.Context, tx *gorm.DB, provider, externalID string, metadata map[string]string) (*subscriptiondomain.Subscription, error) {
	var tenantID snowflake.ID
	found, err := s.repo.FindByExternalID(ctx, tx, provider, externalID)
	if err != nil {
		return nil, err
	}
	if found != nil {
		tenantID = found.TenantID
	} else if id, ok := subscriptiondomain.TenantFromMetadata(metadata); ok {
		tenantID = id
	} else {
		return nil, nil
	}
	return s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
}

func (s *Service) resolvePlanID(ctx context.Context, remote *subscriptiondomain.ProviderSubscription) (string, error) {
	if planID := strings.TrimSpace(remote.Metadata[subscriptiondomain.MetadataPlanID]); planID != "" {
		return planID, nil
	}
	plan, err := s.planByPrice(ctx, remote.PriceID)
	if err != nil || plan == nil {
		return "", err
	}
	return plan.ID, nil
}

// remotePricing prefers the provider's price, then the catalogue, then what
// the row already holds.
func (s *Service) remotePricing(ctx context.Context, planID string, remote *subscriptiondomain.ProviderSubscription, current *subscriptiondomain.Subscription) (decimal.Decimal, string) {
	amount := remote.Amount
	currency := strings.ToUpper(strings.TrimSpace(remote.Currency))
	if amount.IsPositive() && currency != "" {
		return amount, currency
	}
	if plan, err := s.plans.Get(ctx, planID); err == nil {
		if !amount.IsPositive() {
			amount = plan.PriceMonthly
		}
		if currency == "" {
			currency = strings.ToUpper(plan.Currency)
		}
	}
	if !amount.IsPositive() {
		amount = current.Amount
	}
	if currency == "" {
		currency = current.Currency
	}
	return amount, currency
}

func isStale(current *subscriptiondomain.Subscription, occurredAt time.Time) bool {
	return current.LastEventAt != nil && occurredAt.Before(*current.LastEventAt)
}

func metadataMap(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	return lo.MapValues(in, func(v string, _ string) any { return v })
}
