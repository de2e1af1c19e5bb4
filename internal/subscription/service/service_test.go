package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	planservice "github.com/smallbiznis/billingsync/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"github.com/smallbiznis/billingsync/internal/subscription/repository"
	"github.com/smallbiznis/billingsync/pkg/db/dbtest"
	"github.com/smallbiznis/billingsync/pkg/db/pagination"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testTenant = snowflake.ID(2001)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "stripe" }

func (m *mockGateway) ChangePlan(ctx context.Context, in subscriptiondomain.ChangePlanInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *mockGateway) FetchSubscription(ctx context.Context, externalID string) (*subscriptiondomain.ProviderSubscription, error) {
	args := m.Called(ctx, externalID)
	sub, _ := args.Get(0).(*subscriptiondomain.ProviderSubscription)
	return sub, args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notificationdomain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notificationdomain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// failingUpdateRepo breaks row updates while everything else hits sqlite.
type failingUpdateRepo struct {
	subscriptiondomain.Repository
}

func (failingUpdateRepo) Update(context.Context, *gorm.DB, *subscriptiondomain.Subscription) error {
	return errors.New("connection reset")
}

type fixture struct {
	svc      subscriptiondomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	gateway  *mockGateway
	notifier *recordingNotifier
	logs     *observer.ObservedLogs
	ctx      context.Context
}

type fixtureOption func(*Params)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := dbtest.Open(t,
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.History{},
		&subscriptiondomain.ProcessedEvent{},
	)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	billing := config.DefaultBillingConfig()
	billing.Plans = []config.PlanConfig{
		{ID: "starter", DisplayName: "Starter", PriceMonthly: "29", Currency: "EUR", ProviderPriceID: "price_starter"},
		{ID: "pro", DisplayName: "Pro", PriceMonthly: "99", Currency: "EUR", ProviderPriceID: "price_pro"},
		{ID: "pro_yearly_equiv", DisplayName: "Pro (promo)", PriceMonthly: "99", Currency: "EUR", ProviderPriceID: "price_pro_promo"},
	}

	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		db:       db,
		clock:    clock.NewFakeClock(t0),
		gateway:  &mockGateway{},
		notifier: &recordingNotifier{},
		logs:     logs,
		ctx:      context.Background(),
	}
	p := Params{
		DB:       db,
		Log:      zap.New(core),
		Cfg:      config.Config{SubscriptionPaymentHealsStatus: true},
		GenID:    node,
		Repo:     repository.Provide(),
		Plans:    planservice.NewService(planservice.Params{Billing: config.NewStaticBillingConfigHolder(billing)}),
		Clock:    f.clock,
		Gateway:  f.gateway,
		Notifier: f.notifier,
	}
	for _, opt := range opts {
		opt(&p)
	}
	f.svc = NewService(p)
	return f
}

func subscriptionEvent(id, eventType, externalID, status string, at time.Time, metadata map[string]string) subscriptiondomain.ProviderEvent {
	return subscriptiondomain.ProviderEvent{
		Provider:   "stripe",
		EventID:    id,
		Type:       eventType,
		OccurredAt: at,
		Subscription: &subscriptiondomain.ProviderSubscription{
			ExternalSubscriptionID: externalID,
			ExternalCustomerID:     "cus_1",
			Status:                 status,
			Metadata:               metadata,
		},
	}
}

func invoiceEvent(id, eventType, externalID string, at time.Time) subscriptiondomain.ProviderEvent {
	return subscriptiondomain.ProviderEvent{
		Provider:   "stripe",
		EventID:    id,
		Type:       eventType,
		OccurredAt: at,
		Invoice: &subscriptiondomain.ProviderInvoice{
			ExternalInvoiceID:      "in_" + id,
			ExternalSubscriptionID: externalID,
			AmountPaid:             decimal.NewFromInt(29),
			AmountDue:              decimal.NewFromInt(29),
			Currency:               "EUR",
			AttemptCount:           2,
		},
	}
}

func tenantMeta(planID string) map[string]string {
	meta := map[string]string{subscriptiondomain.MetadataTenantID: testTenant.String()}
	if planID != "" {
		meta[subscriptiondomain.MetadataPlanID] = planID
	}
	return meta
}

func (f *fixture) handle(t *testing.T, event subscriptiondomain.ProviderEvent) string {
	t.Helper()
	outcome, err := f.svc.HandleEvent(f.ctx, event)
	require.NoError(t, err)
	return outcome
}

func (f *fixture) history(t *testing.T) []subscriptiondomain.History {
	t.Helper()
	resp, err := f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{})
	require.NoError(t, err)
	return resp.History
}

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}

func (f *fixture) seedActive(t *testing.T, planID string) *subscriptiondomain.Subscription {
	t.Helper()
	outcome := f.handle(t, subscriptionEvent("evt_seed", subscriptiondomain.EventSubscriptionCreated, "sub_1", "active", t0, tenantMeta(planID)))
	require.Equal(t, subscriptiondomain.OutcomeApplied, outcome)
	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	return sub
}

func TestHandleEvent_CreatedUpsertsSubscription(t *testing.T) {
	f := newFixture(t)

	outcome := f.handle(t, subscriptionEvent("evt_1", subscriptiondomain.EventSubscriptionCreated, "sub_1", "trialing", t0, tenantMeta("starter")))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, outcome)

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)
	assert.Equal(t, "29", sub.Amount.String())
	assert.Equal(t, "EUR", sub.Currency)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, "cus_1", sub.ExternalCustomerID)

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.ActionCreated, history[0].Action)
	require.NotNil(t, history[0].ProviderEventID)
	assert.Equal(t, "evt_1", *history[0].ProviderEventID)
	assert.Nil(t, history[0].OldPlanID)
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleEvent_PlanResolvedFromPriceID(t *testing.T) {
	f := newFixture(t)

	event := subscriptionEvent("evt_1", subscriptiondomain.EventSubscriptionCreated, "sub_1", "active", t0, tenantMeta(""))
	event.Subscription.PriceID = "price_pro"
	event.Subscription.Amount = decimal.NewFromInt(99)
	event.Subscription.Currency = "eur"
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, event))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, "99", sub.Amount.String())
}

func TestHandleEvent_MissingMetadataIsSkipped(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		message  string
	}{
		{name: "no tenant", metadata: map[string]string{subscriptiondomain.MetadataPlanID: "starter"}, message: "subscription event missing tenant metadata"},
		{name: "no plan", metadata: tenantMeta(""), message: "subscription event missing plan metadata"},
		{name: "bad tenant", metadata: map[string]string{subscriptiondomain.MetadataTenantID: "acme", subscriptiondomain.MetadataPlanID: "starter"}, message: "subscription event missing tenant metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			event := subscriptionEvent("evt_1", subscriptiondomain.EventSubscriptionCreated, "sub_1", "active", t0, tt.metadata)
			assert.Equal(t, subscriptiondomain.OutcomeSkipped, f.handle(t, event))
			assert.Equal(t, 1, f.logs.FilterMessage(tt.message).FilterField(zap.String("provider_event_id", "evt_1")).Len())

			_, err := f.svc.Get(f.ctx, testTenant)
			assert.True(t, ierr.IsNotFound(err))

			// A skipped event is recorded, so redelivery does not re-run it.
			assert.Equal(t, subscriptiondomain.OutcomeDuplicate, f.handle(t, event))
		})
	}
}

func TestHandleEvent_PaymentSucceededReplayIsStable(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	paid := invoiceEvent("evt_paid", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(time.Hour))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, paid))
	first, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.OutcomeDuplicate, f.handle(t, paid))
	second, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.StatusActive, second.Status)
	assert.Equal(t, first.Status, second.Status)
	require.NotNil(t, second.LastPaymentAt)
	assert.True(t, first.LastPaymentAt.Equal(*second.LastPaymentAt))

	var payments int
	for _, h := range f.history(t) {
		if h.Action == subscriptiondomain.ActionPaymentSucceeded {
			payments++
			assert.Equal(t, "29", h.Amount.Decimal.String())
		}
	}
	assert.Equal(t, 1, payments)
}

func TestHandleEvent_PaymentFailedThenSucceededHeals(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	assert.Equal(t, subscriptiondomain.OutcomeApplied,
		f.handle(t, invoiceEvent("evt_failed", subscriptiondomain.EventInvoicePaymentFailed, "sub_1", t0.Add(time.Hour))))
	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)

	history := f.history(t)
	require.NotEmpty(t, history)
	assert.Equal(t, subscriptiondomain.ActionPaymentFailed, history[0].Action)
	assert.EqualValues(t, 2, history[0].Details["attempt_count"])

	assert.Equal(t, subscriptiondomain.OutcomeApplied,
		f.handle(t, invoiceEvent("evt_paid", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(2*time.Hour))))
	sub, err = f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
}

func TestHandleEvent_PaymentSucceededWithoutHealing(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.Cfg.SubscriptionPaymentHealsStatus = false })
	f.seedActive(t, "starter")

	f.handle(t, invoiceEvent("evt_failed", subscriptiondomain.EventInvoicePaymentFailed, "sub_1", t0.Add(time.Hour)))
	f.handle(t, invoiceEvent("evt_paid", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(2*time.Hour)))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.NotNil(t, sub.LastPaymentAt)
}

func TestHandleEvent_DeletedIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	deleted := subscriptionEvent("evt_del", subscriptiondomain.EventSubscriptionDeleted, "sub_1", "canceled", t0.Add(time.Hour), nil)
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, deleted))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	require.NotNil(t, sub.EndedAt)
	assert.True(t, sub.CanceledAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, subscriptiondomain.ActionCanceled, f.history(t)[0].Action)

	// Late updates for the canceled subscription do not revive it.
	revived := subscriptionEvent("evt_upd", subscriptiondomain.EventSubscriptionUpdated, "sub_1", "active", t0.Add(2*time.Hour), tenantMeta("starter"))
	assert.Equal(t, subscriptiondomain.OutcomeIgnored, f.handle(t, revived))
	f.handle(t, invoiceEvent("evt_paid", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(3*time.Hour)))

	sub, err = f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)

	// A new provider subscription replaces the row.
	resubscribed := subscriptionEvent("evt_new", subscriptiondomain.EventSubscriptionCreated, "sub_2", "active", t0.Add(4*time.Hour), tenantMeta("pro"))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, resubscribed))

	fresh, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, fresh.ID)
	assert.Equal(t, "sub_2", fresh.ExternalSubscriptionID)
	assert.Equal(t, subscriptiondomain.StatusActive, fresh.Status)
	assert.Equal(t, "pro", fresh.PlanID)
	assert.Nil(t, fresh.CanceledAt)
	assert.Nil(t, fresh.LastPaymentAt)
	assert.Equal(t, "sub_1", f.history(t)[0].Details["replaced_external_subscription_id"])
}

func TestHandleEvent_StaleEventIsNotApplied(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	newer := subscriptionEvent("evt_new", subscriptiondomain.EventSubscriptionUpdated, "sub_1", "active", t0.Add(2*time.Hour), tenantMeta("pro"))
	older := subscriptionEvent("evt_old", subscriptiondomain.EventSubscriptionUpdated, "sub_1", "past_due", t0.Add(time.Hour), tenantMeta("starter"))

	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, newer))
	assert.Equal(t, subscriptiondomain.OutcomeStale, f.handle(t, older))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
}

func TestHandleEvent_LateInvoiceEventsAreRecorded(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	renewed := subscriptionEvent("evt_renewed", subscriptiondomain.EventSubscriptionUpdated, "sub_1", "active", t0.Add(2*time.Hour), tenantMeta("starter"))
	require.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, renewed))

	paid := invoiceEvent("evt_paid", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(time.Hour))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, paid))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	require.NotNil(t, sub.LastPaymentAt)
	assert.True(t, sub.LastPaymentAt.Equal(t0.Add(time.Hour)))
	require.NotNil(t, sub.LastEventAt)
	assert.True(t, sub.LastEventAt.Equal(t0.Add(2*time.Hour)))

	history := f.history(t)
	require.NotEmpty(t, history)
	assert.Equal(t, subscriptiondomain.ActionPaymentSucceeded, history[0].Action)
	assert.Equal(t, "29", history[0].Amount.Decimal.String())
	assert.Equal(t, true, history[0].Details["late_event"])

	// A late failure is kept in history but does not override the newer status.
	failed := invoiceEvent("evt_failed", subscriptiondomain.EventInvoicePaymentFailed, "sub_1", t0.Add(90*time.Minute))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, failed))
	// An even older payment does not move last_payment_at backwards.
	older := invoiceEvent("evt_paid_old", subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(30*time.Minute))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, older))

	sub, err = f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.LastPaymentAt.Equal(t0.Add(time.Hour)))

	var failures, payments int
	for _, h := range f.history(t) {
		switch h.Action {
		case subscriptiondomain.ActionPaymentFailed:
			failures++
			assert.EqualValues(t, 2, h.Details["attempt_count"])
		case subscriptiondomain.ActionPaymentSucceeded:
			payments++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, payments)
}

func TestHandleEvent_DeletedBeforeCreatedStaysCanceled(t *testing.T) {
	f := newFixture(t)

	deleted := subscriptionEvent("evt_del", subscriptiondomain.EventSubscriptionDeleted, "sub_1", "canceled", t0.Add(time.Hour), tenantMeta("starter"))
	assert.Equal(t, subscriptiondomain.OutcomeApplied, f.handle(t, deleted))

	created := subscriptionEvent("evt_created", subscriptiondomain.EventSubscriptionCreated, "sub_1", "active", t0, tenantMeta("starter"))
	assert.Equal(t, subscriptiondomain.OutcomeIgnored, f.handle(t, created))

	sub, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.Equal(t, "starter", sub.PlanID)
	assert.Equal(t, "29", sub.Amount.String())
	require.NotNil(t, sub.CanceledAt)
	require.NotNil(t, sub.EndedAt)
	assert.True(t, sub.CanceledAt.Equal(t0.Add(time.Hour)))
	require.NotNil(t, sub.LastEventAt)
	assert.True(t, sub.LastEventAt.Equal(t0.Add(time.Hour)))

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.ActionCanceled, history[0].Action)

	// Without tenant metadata there is nothing to attach the deletion to.
	orphan := subscriptionEvent("evt_del_orphan", subscriptiondomain.EventSubscriptionDeleted, "sub_9", "canceled", t0, nil)
	assert.Equal(t, subscriptiondomain.OutcomeSkipped, newFixture(t).handle(t, orphan))
}

func TestHandleEvent_UnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t)

	outcome := f.handle(t, subscriptiondomain.ProviderEvent{Provider: "stripe", EventID: "evt_x", Type: "customer.updated"})
	assert.Equal(t, subscriptiondomain.OutcomeIgnored, outcome)
	assert.Zero(t, f.notifier.count())
}

func TestHandleEvent_RejectsIncompleteEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleEvent(f.ctx, subscriptiondomain.ProviderEvent{Provider: "stripe", Type: subscriptiondomain.EventSubscriptionCreated})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidEvent)
	assert.True(t, ierr.IsValidation(err))
}

func TestChangePlan_ClassifiesByMonthlyPrice(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		to        string
		priceID   string
		direction subscriptiondomain.PlanChangeDirection
		action    string
	}{
		{name: "29 to 99", from: "starter", to: "pro", priceID: "price_pro", direction: subscriptiondomain.DirectionUpgraded, action: subscriptiondomain.ActionUpgraded},
		{name: "99 to 29", from: "pro", to: "starter", priceID: "price_starter", direction: subscriptiondomain.DirectionDowngraded, action: subscriptiondomain.ActionDowngraded},
		{name: "same price", from: "pro", to: "pro_yearly_equiv", priceID: "price_pro_promo", direction: subscriptiondomain.DirectionUpdated, action: subscriptiondomain.ActionPlanUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := f.seedActive(t, tt.from)
			f.gateway.On("ChangePlan", mock.Anything, mock.MatchedBy(func(in subscriptiondomain.ChangePlanInput) bool {
				return in.ExternalSubscriptionID == "sub_1" && in.NewPriceID == tt.priceID && in.IdempotencyKey != ""
			})).Return(nil).Once()

			result, err := f.svc.ChangePlan(f.ctx, testTenant, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.direction, result.Direction)
			assert.Equal(t, tt.from, result.OldPlanID)
			assert.Equal(t, tt.to, result.NewPlanID)
			assert.True(t, sub.Amount.Equal(result.OldAmount))
			f.gateway.AssertExpectations(t)

			stored, err := f.svc.Get(f.ctx, testTenant)
			require.NoError(t, err)
			assert.Equal(t, tt.to, stored.PlanID)
			assert.True(t, result.NewAmount.Equal(stored.Amount))

			entry := f.history(t)[0]
			assert.Equal(t, tt.action, entry.Action)
			assert.Equal(t, tt.from, *entry.OldPlanID)
			assert.Equal(t, tt.to, *entry.NewPlanID)
			assert.True(t, entry.OldAmount.Decimal.Equal(result.OldAmount))
			assert.True(t, entry.Amount.Decimal.Equal(result.NewAmount))
		})
	}
}

func TestChangePlan_RejectsSamePlan(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "pro")

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "pro")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSamePlan)
	assert.True(t, ierr.IsValidation(err))
	f.gateway.AssertNotCalled(t, "ChangePlan", mock.Anything, mock.Anything)
}

func TestChangePlan_RequiresActiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")
	f.handle(t, invoiceEvent("evt_failed", subscriptiondomain.EventInvoicePaymentFailed, "sub_1", t0.Add(time.Hour)))

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "pro")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotActive)
	assert.True(t, ierr.IsInvalidTransition(err))
	assert.Contains(t, ierr.Hint(err), "past_due")

	_, err = newFixture(t).svc.ChangePlan(f.ctx, testTenant, "pro")
	assert.True(t, ierr.IsNotFound(err))
}

func TestChangePlan_UnknownPlan(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "enterprise")
	assert.True(t, ierr.IsNotFound(err))
}

func TestChangePlan_ProviderFailureLeavesLocalState(t *testing.T) {
	f := newFixture(t)
	before := f.seedActive(t, "starter")
	f.gateway.On("ChangePlan", mock.Anything, mock.Anything).Return(errors.New("card_declined")).Once()

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "pro")
	require.Error(t, err)
	assert.True(t, ierr.IsProvider(err))
	assert.ErrorIs(t, err, subscriptiondomain.ErrProviderCall)
	assert.Contains(t, ierr.Hint(err), "card_declined")

	after, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, before.PlanID, after.PlanID)
	assert.True(t, before.Amount.Equal(after.Amount))
	assert.Len(t, f.history(t), 1)
}

func TestChangePlan_LocalFailureIsInconsistentState(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.Repo = failingUpdateRepo{Repository: repository.Provide()}
	})
	f.seedActive(t, "starter")
	f.gateway.On("ChangePlan", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "pro")
	require.Error(t, err)
	assert.True(t, ierr.IsInconsistentState(err))
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanChangeUnrecorded)

	entries := f.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("plan changed at provider but local update failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, testTenant.String(), fields["tenant_id"])
	assert.Equal(t, "sub_1", fields["external_subscription_id"])
	assert.Equal(t, "starter", fields["old_plan_id"])
	assert.Equal(t, "pro", fields["new_plan_id"])

	stored, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "starter", stored.PlanID)
}

func TestChangePlan_CanceledDuringProviderCallIsInconsistentState(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")
	f.gateway.On("ChangePlan", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			deleted := subscriptionEvent("evt_del", subscriptiondomain.EventSubscriptionDeleted, "sub_1", "canceled", t0.Add(time.Hour), nil)
			f.handle(t, deleted)
		}).
		Return(nil).Once()

	_, err := f.svc.ChangePlan(f.ctx, testTenant, "pro")
	require.Error(t, err)
	assert.True(t, ierr.IsInconsistentState(err))
	assert.Equal(t, 1, f.logs.FilterMessage("plan changed at provider but local update failed").Len())

	stored, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, stored.Status)
	assert.Equal(t, "starter", stored.PlanID)
	assert.Equal(t, "29", stored.Amount.String())
}

func TestSyncFromProvider_ConvergesLocalRow(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")

	periodEnd := t0.AddDate(0, 1, 0)
	f.gateway.On("FetchSubscription", mock.Anything, "sub_1").Return(&subscriptiondomain.ProviderSubscription{
		ExternalSubscriptionID: "sub_1",
		Status:                 "past_due",
		PriceID:                "price_pro",
		Amount:                 decimal.NewFromInt(99),
		Currency:               "eur",
		CurrentPeriodStart:     &t0,
		CurrentPeriodEnd:       &periodEnd,
	}, nil).Once()

	sub, err := f.svc.SyncFromProvider(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.Equal(t, "99", sub.Amount.String())
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))
	assert.Equal(t, subscriptiondomain.ActionSynced, f.history(t)[0].Action)
}

func TestSyncFromProvider_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")
	f.gateway.On("FetchSubscription", mock.Anything, "sub_1").Return(nil, errors.New("timeout")).Once()

	_, err := f.svc.SyncFromProvider(f.ctx, testTenant)
	assert.True(t, ierr.IsProvider(err))
}

func TestUpsert_ValidatesAndFillsFromCatalogue(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{TenantID: testTenant, Provider: "stripe"})
	assert.True(t, ierr.IsValidation(err))

	negative := decimal.NewFromInt(-1)
	_, err = f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{
		TenantID: testTenant, PlanID: "pro", Provider: "stripe", ExternalSubscriptionID: "sub_9",
		Status: subscriptiondomain.StatusActive, Amount: &negative,
	})
	assert.True(t, ierr.IsValidation(err))

	sub, err := f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{
		TenantID:               testTenant,
		PlanID:                 "pro",
		Provider:               "Stripe",
		ExternalSubscriptionID: "sub_9",
		Status:                 subscriptiondomain.StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "stripe", sub.Provider)
	assert.Equal(t, "99", sub.Amount.String())
	assert.Equal(t, "EUR", sub.Currency)

	again, err := f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{
		TenantID:               testTenant,
		PlanID:                 "starter",
		Provider:               "stripe",
		ExternalSubscriptionID: "sub_9",
		Status:                 subscriptiondomain.StatusCanceled,
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, subscriptiondomain.StatusCanceled, again.Status)
	assert.NotNil(t, again.CanceledAt)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, subscriptiondomain.ActionUpdated, history[0].Action)
	assert.Equal(t, subscriptiondomain.ActionCreated, history[1].Action)

	_, err = f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{
		TenantID:               testTenant,
		PlanID:                 "pro",
		Provider:               "stripe",
		ExternalSubscriptionID: "sub_9",
		Status:                 subscriptiondomain.StatusActive,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionCanceled)
	assert.True(t, ierr.IsInvalidTransition(err))

	stored, err := f.svc.Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, stored.Status)

	renewed, err := f.svc.Upsert(f.ctx, subscriptiondomain.UpsertSubscriptionRequest{
		TenantID:               testTenant,
		PlanID:                 "pro",
		Provider:               "stripe",
		ExternalSubscriptionID: "sub_10",
		Status:                 subscriptiondomain.StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, renewed.Status)
	assert.Nil(t, renewed.CanceledAt)
}

func TestListHistory_Paginates(t *testing.T) {
	f := newFixture(t)
	f.seedActive(t, "starter")
	for i, id := range []string{"evt_a", "evt_b", "evt_c"} {
		f.handle(t, invoiceEvent(id, subscriptiondomain.EventInvoicePaymentSucceeded, "sub_1", t0.Add(time.Duration(i+1)*time.Hour)))
	}

	page, err := f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{})
	require.NoError(t, err)
	require.Len(t, page.History, 4)

	first, err := f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{
		Pagination: paginationOf("", 3),
	})
	require.NoError(t, err)
	require.Len(t, first.History, 3)
	assert.True(t, first.HasMore)

	second, err := f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{
		Pagination: paginationOf(first.NextPageToken, 3),
	})
	require.NoError(t, err)
	require.Len(t, second.History, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, subscriptiondomain.ActionCreated, second.History[0].Action)

	created, err := f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{Action: subscriptiondomain.ActionCreated})
	require.NoError(t, err)
	assert.Len(t, created.History, 1)

	_, err = f.svc.ListHistory(f.ctx, testTenant, subscriptiondomain.ListHistoryRequest{Pagination: paginationOf("!!", 3)})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPageToken)
}
