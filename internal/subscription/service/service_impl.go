package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	"github.com/smallbiznis/billingsync/internal/observability/metrics"
	plandomain "github.com/smallbiznis/billingsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"github.com/smallbiznis/billingsync/pkg/db/pagination"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/smallbiznis/billingsync/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const targetType = "subscription"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Repo     subscriptiondomain.Repository
	Plans    plandomain.Service
	Clock    clock.Clock
	Gateway  subscriptiondomain.ProviderGateway `optional:"true"`
	Notifier notificationdomain.Notifier        `optional:"true"`
	Metrics  *metrics.Metrics                   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       subscriptiondomain.Repository
	plans      plandomain.Service
	clock      clock.Clock
	gateway    subscriptiondomain.ProviderGateway
	notifier   notificationdomain.Notifier
	metrics    *metrics.Metrics
	healOnPaid bool
}

func NewService(p Params) subscriptiondomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Nop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		plans:      p.Plans,
		clock:      p.Clock,
		gateway:    p.Gateway,
		notifier:   notifier,
		metrics:    p.Metrics,
		healOnPaid: p.Cfg.SubscriptionPaymentHealsStatus,
	}
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) ListHistory(ctx context.Context, tenantID snowflake.ID, req subscriptiondomain.ListHistoryRequest) (subscriptiondomain.ListHistoryResponse, error) {
	if tenantID == 0 {
		return subscriptiondomain.ListHistoryResponse{}, subscriptiondomain.ErrInvalidTenant
	}
	afterID, err := pagination.DecodeIDCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return subscriptiondomain.ListHistoryResponse{}, subscriptiondomain.ErrInvalidPageToken
	}

	limit := req.Limit()
	items, err := s.repo.ListHistory(ctx, s.db, subscriptiondomain.HistoryFilter{
		TenantID: tenantID,
		Action:   strings.TrimSpace(req.Action),
		AfterID:  afterID,
		Limit:    limit,
	})
	if err != nil {
		return subscriptiondomain.ListHistoryResponse{}, err
	}

	page, info := pagination.Trim(items, limit, func(h subscriptiondomain.History) int64 { return int64(h.ID) })
	return subscriptiondomain.ListHistoryResponse{PageInfo: info, History: page}, nil
}

// Upsert writes the tenant's subscription as given, replacing whatever row
// the tenant held. A canceled subscription stays canceled; reactivating the
// tenant takes a new external subscription id.
func (s *Service) Upsert(ctx context.Context, req subscriptiondomain.UpsertSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	req.PlanID = strings.TrimSpace(req.PlanID)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ExternalSubscriptionID = strings.TrimSpace(req.ExternalSubscriptionID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, validation.Field("amount", "gte", "amount must not be negative")
	}

	amount, currency, err := s.planPricing(ctx, req.PlanID, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	var stored *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTenantForUpdate(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ExternalSubscriptionID == req.ExternalSubscriptionID &&
			existing.Status.IsTerminal() && req.Status != existing.Status {
			return subscriptiondomain.ErrSubscriptionCanceled
		}

		now := s.clock.Now()
		next := s.baseRow(existing, req.TenantID, req.ExternalSubscriptionID, now)
		next.PlanID = req.PlanID
		next.Provider = req.Provider
		next.ExternalCustomerID = strings.TrimSpace(req.ExternalCustomerID)
		next.ExternalSubscriptionID = req.ExternalSubscriptionID
		next.Amount = amount
		next.Currency = currency
		next.CurrentPeriodStart = req.CurrentPeriodStart
		next.CurrentPeriodEnd = req.CurrentPeriodEnd
		next.TrialEnd = req.TrialEnd
		next.Metadata = datatypes.JSONMap(req.Metadata)
		setStatus(next, req.Status, now, nil, nil)

		action := subscriptiondomain.ActionUpdated
		if existing == nil {
			action = subscriptiondomain.ActionCreated
		}
		stored, err = s.write(ctx, tx, existing, next, s.historyEntry(existing, next, action, nil))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notificationdomain.EventSubscriptionChanged, stored, map[string]any{"source": "upsert"})
	return stored, nil
}

// SyncFromProvider pulls the provider's current view of the tenant's
// subscription and converges the local row onto it.
func (s *Service) SyncFromProvider(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, subscriptiondomain.ErrProviderUnavailable
	}

	remote, err := s.gateway.FetchSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		return nil, s.providerError(err)
	}
	status, ok := subscriptiondomain.ParseProviderStatus(remote.Status)
	if !ok {
		return nil, ierr.WithError(subscriptiondomain.ErrProviderCall).
			WithHintf("provider returned unknown status %q", remote.Status).
			Mark(ierr.ErrProvider)
	}

	planID := sub.PlanID
	if plan, err := s.planByPrice(ctx, remote.PriceID); err != nil {
		return nil, err
	} else if plan != nil {
		planID = plan.ID
	}

	var stored *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		next := *current
		next.PlanID = planID
		next.CurrentPeriodStart = remote.CurrentPeriodStart
		next.CurrentPeriodEnd = remote.CurrentPeriodEnd
		next.TrialEnd = remote.TrialEnd
		if remote.ExternalCustomerID != "" {
			next.ExternalCustomerID = remote.ExternalCustomerID
		}
		if remote.Amount.IsPositive() {
			next.Amount = remote.Amount
		}
		if remote.Currency != "" {
			next.Currency = strings.ToUpper(remote.Currency)
		}
		setStatus(&next, status, now, remote.CanceledAt, remote.EndedAt)
		next.LastEventAt = &now
		next.UpdatedAt = now

		stored, err = s.write(ctx, tx, current, &next, s.historyEntry(current, &next, subscriptiondomain.ActionSynced, nil))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notificationdomain.EventSubscriptionChanged, stored, map[string]any{"source": "sync"})
	return stored, nil
}

// ChangePlan moves an active subscription to another catalogue plan. The
// provider is called first; when it fails nothing changes locally. When the
// provider succeeded but the local write fails the result is an
// inconsistent-state error that needs manual reconciliation.
func (s *Service) ChangePlan(ctx context.Context, tenantID snowflake.ID, newPlanID string) (*subscriptiondomain.ChangePlanResult, error) {
	newPlanID = strings.TrimSpace(newPlanID)
	if newPlanID == "" {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptiondomain.StatusActive {
		return nil, ierr.WithError(subscriptiondomain.ErrSubscriptionNotActive).
			WithHintf("subscription is %s; only active subscriptions can change plan", sub.Status).
			Mark(ierr.ErrInvalidTransition)
	}
	if sub.PlanID == newPlanID {
		return nil, subscriptiondomain.ErrSamePlan
	}

	newPlan, err := s.plans.Get(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	oldPrice := sub.Amount
	if oldPlan, err := s.plans.Get(ctx, sub.PlanID); err == nil {
		oldPrice = oldPlan.PriceMonthly
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}
	direction := subscriptiondomain.ClassifyPlanChange(oldPrice, newPlan.PriceMonthly)

	if s.gateway == nil {
		return nil, subscriptiondomain.ErrProviderUnavailable
	}
	err = s.gateway.ChangePlan(ctx, subscriptiondomain.ChangePlanInput{
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		NewPriceID:             newPlan.ProviderPriceID,
		IdempotencyKey:         uuid.NewString(),
	})
	if err != nil {
		s.metrics.RecordPlanChange(ctx, "provider_error")
		s.log.Warn("provider rejected plan change",
			zap.String("tenant_id", tenantID.String()),
			zap.String("external_subscription_id", sub.ExternalSubscriptionID),
			zap.String("new_plan_id", newPlan.ID),
			zap.Error(err),
		)
		return nil, s.providerError(err)
	}

	result := &subscriptiondomain.ChangePlanResult{
		OldPlanID: sub.PlanID,
		NewPlanID: newPlan.ID,
		OldAmount: sub.Amount,
		NewAmount: newPlan.PriceMonthly,
		Direction: direction,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByTenantForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if current.Status != subscriptiondomain.StatusActive || current.ExternalSubscriptionID != sub.ExternalSubscriptionID {
			return ierr.WithError(subscriptiondomain.ErrSubscriptionNotActive).
				WithHintf("subscription became %s during the plan change", current.Status).
				Mark(ierr.ErrInvalidTransition)
		}

		now := s.clock.Now()
		next := *current
		next.PlanID = newPlan.ID
		next.Amount = newPlan.PriceMonthly
		if newPlan.Currency != "" {
			next.Currency = strings.ToUpper(newPlan.Currency)
		}
		next.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, &next); err != nil {
			return err
		}

		entry := s.historyEntry(current, &next, planChangeAction(direction), nil)
		entry.SubscriptionID = next.ID
		if err := s.repo.InsertHistory(ctx, tx, entry); err != nil {
			return err
		}
		result.Subscription = &next
		return nil
	})
	if err != nil {
		s.metrics.RecordInconsistentState(ctx, "change_plan")
		s.log.Error("plan changed at provider but local update failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("subscription_id", sub.ID.String()),
			zap.String("provider", sub.Provider),
			zap.String("external_subscription_id", sub.ExternalSubscriptionID),
			zap.String("old_plan_id", sub.PlanID),
			zap.String("new_plan_id", newPlan.ID),
			zap.String("new_price_id", newPlan.ProviderPriceID),
			zap.Error(err),
		)
		return nil, ierr.WithError(subscriptiondomain.ErrPlanChangeUnrecorded).
			WithHintf("plan %s is active at the provider but was not recorded locally", newPlan.ID).
			Mark(ierr.ErrInconsistentState)
	}

	s.metrics.RecordPlanChange(ctx, string(direction))
	s.notify(ctx, notificationdomain.EventSubscriptionPlan, result.Subscription, map[string]any{
		"old_plan_id": result.OldPlanID,
		"new_plan_id": result.NewPlanID,
		"direction":   string(direction),
	})
	return result, nil
}

func planChangeAction(d subscriptiondomain.PlanChangeDirection) string {
	switch d {
	case subscriptiondomain.DirectionUpgraded:
		return subscriptiondomain.ActionUpgraded
	case subscriptiondomain.DirectionDowngraded:
		return subscriptiondomain.ActionDowngraded
	default:
		return subscriptiondomain.ActionPlanUpdated
	}
}

// write upserts next, reloads the stored row and appends entry against it.
func (s *Service) write(
	ctx context.Context,
	tx *gorm.DB,
	existing, next *subscriptiondomain.Subscription,
	entry *subscriptiondomain.History,
) (*subscriptiondomain.Subscription, error) {
	if existing != nil {
		if err := s.repo.Update(ctx, tx, next); err != nil {
			return nil, err
		}
	} else if err := s.repo.Upsert(ctx, tx, next); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindByTenant(ctx, tx, next.TenantID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	entry.SubscriptionID = stored.ID
	entry.TenantID = stored.TenantID
	if err := s.repo.InsertHistory(ctx, tx, entry); err != nil {
		return nil, err
	}
	return stored, nil
}

// baseRow starts the next state of a tenant's row. A different external
// subscription is a fresh subscription and does not inherit the old
// lifecycle stamps.
func (s *Service) baseRow(existing *subscriptiondomain.Subscription, tenantID snowflake.ID, externalID string, now time.Time) *subscriptiondomain.Subscription {
	if existing != nil && existing.ExternalSubscriptionID == externalID {
		next := *existing
		next.UpdatedAt = now
		return &next
	}
	next := &subscriptiondomain.Subscription{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	}
	return next
}

// setStatus applies a status and keeps the cancellation stamps in line
// with it.
func setStatus(sub *subscriptiondomain.Subscription, status subscriptiondomain.Status, now time.Time, canceledAt, endedAt *time.Time) {
	sub.Status = status
	if status != subscriptiondomain.StatusCanceled {
		sub.CanceledAt = nil
		sub.EndedAt = nil
		return
	}
	if sub.CanceledAt == nil {
		sub.CanceledAt = firstTime(canceledAt, now)
	}
	if sub.EndedAt == nil {
		sub.EndedAt = firstTime(endedAt, now)
	}
}

func firstTime(v *time.Time, fallback time.Time) *time.Time {
	if v != nil && !v.IsZero() {
		t := v.UTC()
		return &t
	}
	return &fallback
}

func (s *Service) historyEntry(old, next *subscriptiondomain.Subscription, action string, eventID *string) *subscriptiondomain.History {
	entry := &subscriptiondomain.History{
		ID:              s.genID.Generate(),
		TenantID:        next.TenantID,
		SubscriptionID:  next.ID,
		Action:          action,
		NewPlanID:       ptr(next.PlanID),
		NewStatus:       ptr(string(next.Status)),
		Amount:          decimal.NewNullDecimal(next.Amount),
		ProviderEventID: eventID,
		Details: datatypes.JSONMap{
			"provider":                 next.Provider,
			"external_subscription_id": next.ExternalSubscriptionID,
		},
		CreatedAt: s.clock.Now(),
	}
	if old != nil {
		entry.OldPlanID = ptr(old.PlanID)
		entry.OldStatus = ptr(string(old.Status))
		entry.OldAmount = decimal.NewNullDecimal(old.Amount)
		if old.ExternalSubscriptionID != next.ExternalSubscriptionID {
			entry.Details["replaced_external_subscription_id"] = old.ExternalSubscriptionID
		}
	}
	return entry
}

// planPricing fills amount and currency from the catalogue when the caller
// left them out.
func (s *Service) planPricing(ctx context.Context, planID string, amount *decimal.Decimal, currency string) (decimal.Decimal, string, error) {
	var plan *plandomain.Plan
	if amount == nil || currency == "" {
		p, err := s.plans.Get(ctx, planID)
		if err != nil && !ierr.IsNotFound(err) {
			return decimal.Zero, "", err
		}
		plan = p
	}

	out := decimal.Zero
	switch {
	case amount != nil:
		out = *amount
	case plan != nil:
		out = plan.PriceMonthly
	}
	if currency == "" && plan != nil {
		currency = strings.ToUpper(plan.Currency)
	}
	if currency == "" {
		return decimal.Zero, "", validation.Field("currency", "required", "currency is required when the plan is not in the catalogue")
	}
	return out, currency, nil
}

func (s *Service) planByPrice(ctx context.Context, priceID string) (*plandomain.Plan, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, nil
	}
	plan, err := s.plans.FindByProviderPriceID(ctx, priceID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) providerError(err error) error {
	name := "provider"
	if s.gateway != nil {
		name = s.gateway.Name()
	}
	return ierr.WithError(subscriptiondomain.ErrProviderCall).
		WithHintf("%s request failed: %v", name, err).
		Mark(ierr.ErrProvider)
}

func (s *Service) notify(ctx context.Context, eventType string, sub *subscriptiondomain.Subscription, extra map[string]any) {
	if sub == nil {
		return
	}
	payload := map[string]any{
		"plan_id":  sub.PlanID,
		"status":   string(sub.Status),
		"provider": sub.Provider,
		"amount":   sub.Amount.StringFixed(2),
		"currency": sub.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Notify(ctx, notificationdomain.Event{
		Type:       eventType,
		TenantID:   sub.TenantID,
		TargetType: targetType,
		TargetID:   sub.ID.String(),
		Payload:    payload,
	})
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
