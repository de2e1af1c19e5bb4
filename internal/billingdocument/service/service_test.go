package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"github.com/smallbiznis/billingsync/internal/billingdocument/repository"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	numberingrepo "github.com/smallbiznis/billingsync/internal/numbering/repository"
	numberingservice "github.com/smallbiznis/billingsync/internal/numbering/service"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	settingsrepo "github.com/smallbiznis/billingsync/internal/tenantsettings/repository"
	settingsservice "github.com/smallbiznis/billingsync/internal/tenantsettings/service"
	"github.com/smallbiznis/billingsync/pkg/db/dbtest"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/smallbiznis/billingsync/pkg/tenantctx"
	"github.com/smallbiznis/billingsync/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenant = snowflake.ID(1001)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notificationdomain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notificationdomain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      documentdomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
	ctx      context.Context
}

type fixtureOption func(*Params)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := dbtest.Open(t,
		&documentdomain.Document{},
		&documentdomain.Item{},
		&numberingdomain.Sequence{},
		&settingsdomain.Settings{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	notifier := &recordingNotifier{}

	params := Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  repository.Provide(),
		Numbering: numberingservice.NewService(numberingservice.Params{
			Log:   log,
			Repo:  numberingrepo.Provide(),
			Clock: clk,
		}),
		Settings: settingsservice.NewService(settingsservice.Params{
			DB:      db,
			Log:     log,
			Repo:    settingsrepo.Provide(),
			Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
			Clock:   clk,
		}),
		Clock:    clk,
		Notifier: notifier,
	}
	for _, opt := range opts {
		opt(&params)
	}

	return &fixture{
		svc:      NewService(params),
		db:       db,
		clock:    clk,
		notifier: notifier,
		ctx:      tenantctx.WithTenantID(context.Background(), testTenant),
	}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func quoteRequest() documentdomain.CreateDocumentRequest {
	return documentdomain.CreateDocumentRequest{
		DocumentType:  documentdomain.TypeQuote,
		CustomerName:  "Acme SAS",
		CustomerTaxID: "FR12345678901",
		Items: []documentdomain.ItemInput{
			{Description: "Consulting day", Quantity: dec("2"), UnitPrice: dec("100"), TaxRate: dec("20")},
		},
	}
}

func (f *fixture) paidInvoice(t *testing.T) *documentdomain.Document {
	t.Helper()
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	doc, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(f.ctx, doc.ID, documentdomain.StatusSent)
	require.NoError(t, err)
	paid, err := f.svc.TransitionStatus(f.ctx, doc.ID, documentdomain.StatusPaid)
	require.NoError(t, err)
	return paid
}

func TestCreate_ComputesTotalsAndDefaults(t *testing.T) {
	f := newFixture(t)

	doc, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	assert.Equal(t, "QUO-2024-00001", doc.DocumentNumber)
	assert.Equal(t, documentdomain.StatusDraft, doc.Status)
	assert.Equal(t, "EUR", doc.Currency)
	assertAmount(t, "200", doc.Subtotal)
	assertAmount(t, "40", doc.TaxAmount)
	assertAmount(t, "240", doc.TotalAmount)
	require.NotNil(t, doc.ValidUntil)
	assert.Equal(t, "2024-01-31", doc.ValidUntil.Format(documentdomain.DateLayout))
	assert.Nil(t, doc.DueDate)

	stored, err := f.svc.Get(f.ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assertAmount(t, "240", stored.TotalAmount)
	assertAmount(t, "240", stored.Items[0].Total)

	assert.Equal(t, []string{notificationdomain.EventDocumentCreated}, f.notifier.types())
}

func TestCreate_InvoiceDueDateFromTenantSettings(t *testing.T) {
	f := newFixture(t)
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	req.IssueDate = "2024-02-10"

	doc, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-00001", doc.DocumentNumber)
	require.NotNil(t, doc.DueDate)
	assert.Equal(t, "2024-03-11", doc.DueDate.Format(documentdomain.DateLayout))
}

func TestCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		mut   func(*documentdomain.CreateDocumentRequest)
		field string
	}{
		{"missing customer", func(r *documentdomain.CreateDocumentRequest) { r.CustomerName = "  " }, "customer_name"},
		{"bad tax id", func(r *documentdomain.CreateDocumentRequest) { r.CustomerTaxID = "!" }, "customer_tax_id"},
		{"unknown type", func(r *documentdomain.CreateDocumentRequest) { r.DocumentType = "receipt" }, "document_type"},
		{"zero quantity", func(r *documentdomain.CreateDocumentRequest) { r.Items[0].Quantity = decimal.Zero }, "items[0].quantity"},
		{"tax rate above 100", func(r *documentdomain.CreateDocumentRequest) { r.Items[0].TaxRate = dec("120") }, "items[0].tax_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := quoteRequest()
			tt.mut(&req)
			_, err := f.svc.Create(f.ctx, req)
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
			fields, ok := validation.FieldErrors(err)
			require.True(t, ok)
			require.NotEmpty(t, fields)
			assert.Equal(t, tt.field, fields[0].Field)
		})
	}
}

func TestCreate_RequiresTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), quoteRequest())
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTenant)
}

func TestCreate_SkipsNumbersAlreadyTaken(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	require.NoError(t, repository.Provide().Insert(context.Background(), f.db, &documentdomain.Document{
		ID:             1,
		TenantID:       testTenant,
		DocumentType:   documentdomain.TypeInvoice,
		DocumentNumber: "INV-2024-00001",
		Status:         documentdomain.StatusSent,
		IssueDate:      now,
		Currency:       "EUR",
		CustomerName:   "Imported",
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	doc, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-00002", doc.DocumentNumber)
}

// blindRepo hides existing numbers so only the unique index catches
// collisions.
type blindRepo struct {
	documentdomain.Repository
}

func (blindRepo) NumberExists(context.Context, *gorm.DB, snowflake.ID, documentdomain.DocumentType, string) (bool, error) {
	return false, nil
}

type fixedNumbering struct {
	mu    sync.Mutex
	calls int
}

func (n *fixedNumbering) Next(context.Context, *gorm.DB, snowflake.ID, string, time.Time) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return "INV-2024-00001", nil
}

func TestCreate_RetriesNumberCollisionThenSurfaces(t *testing.T) {
	numbering := &fixedNumbering{}
	f := newFixture(t, func(p *Params) {
		p.Repo = blindRepo{Repository: repository.Provide()}
		p.Numbering = numbering
	})
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice

	_, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, req)
	require.Error(t, err)
	assert.True(t, ierr.IsDuplicateNumber(err))
	assert.Equal(t, 1+numberAttempts, numbering.calls)
}

func TestCreate_ConcurrentCallsGetDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := f.svc.Create(f.ctx, req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[doc.DocumentNumber] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, numbers, n)
}

func TestConvert_QuoteToInvoice(t *testing.T) {
	f := newFixture(t)
	quote, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	invoice, err := f.svc.Convert(f.ctx, quote.ID, documentdomain.TypeInvoice)
	require.NoError(t, err)

	assert.Equal(t, documentdomain.TypeInvoice, invoice.DocumentType)
	assert.Equal(t, documentdomain.StatusDraft, invoice.Status)
	assert.Equal(t, "INV-2024-00001", invoice.DocumentNumber)
	assert.NotEqual(t, quote.DocumentNumber, invoice.DocumentNumber)
	require.NotNil(t, invoice.ConvertedFromID)
	assert.Equal(t, quote.ID, *invoice.ConvertedFromID)
	require.NotNil(t, invoice.DueDate)
	assert.Equal(t, "2024-01-31", invoice.DueDate.Format(documentdomain.DateLayout))
	assertAmount(t, "240", invoice.TotalAmount)

	require.Len(t, invoice.Items, 1)
	assertAmount(t, "2", invoice.Items[0].Quantity)
	assertAmount(t, "100", invoice.Items[0].UnitPrice)
	assert.Equal(t, invoice.ID, invoice.Items[0].DocumentID)

	source, err := f.svc.Get(f.ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusConverted, source.Status)
	require.NotNil(t, source.ConvertedToID)
	assert.Equal(t, invoice.ID, *source.ConvertedToID)

	_, err = f.svc.Convert(f.ctx, quote.ID, documentdomain.TypeInvoice)
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidConversion(err))
}

func TestConvert_IllegalPairs(t *testing.T) {
	f := newFixture(t)
	quote, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)
	invoiceReq := quoteRequest()
	invoiceReq.DocumentType = documentdomain.TypeInvoice
	invoice, err := f.svc.Create(f.ctx, invoiceReq)
	require.NoError(t, err)

	_, err = f.svc.Convert(f.ctx, quote.ID, documentdomain.TypeCreditNote)
	assert.True(t, ierr.IsInvalidConversion(err))

	_, err = f.svc.Convert(f.ctx, invoice.ID, documentdomain.TypeQuote)
	assert.True(t, ierr.IsInvalidConversion(err))

	_, err = f.svc.Convert(f.ctx, quote.ID, documentdomain.TypeQuote)
	assert.True(t, ierr.IsInvalidConversion(err))
}

func TestConvert_QuoteToProformaToInvoice(t *testing.T) {
	f := newFixture(t)
	quote, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	proforma, err := f.svc.Convert(f.ctx, quote.ID, documentdomain.TypeProforma)
	require.NoError(t, err)
	assert.Equal(t, "PRO-2024-00001", proforma.DocumentNumber)
	assert.Nil(t, proforma.DueDate)

	invoice, err := f.svc.Convert(f.ctx, proforma.ID, documentdomain.TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, proforma.ID, *invoice.ConvertedFromID)
	assertAmount(t, "240", invoice.TotalAmount)
}

func TestUpdateItem_OnPaidInvoiceIsLocked(t *testing.T) {
	f := newFixture(t)
	paid := f.paidInvoice(t)
	before, err := f.svc.Get(f.ctx, paid.ID)
	require.NoError(t, err)
	require.Len(t, before.Items, 1)

	_, err = f.svc.UpdateItem(f.ctx, paid.ID, before.Items[0].ID, documentdomain.UpdateItemRequest{
		Quantity: ptr(dec("5")),
	})
	require.Error(t, err)
	assert.True(t, ierr.IsDocumentLocked(err))
	assert.Contains(t, ierr.Hint(err), "paid")

	_, err = f.svc.AddItem(f.ctx, paid.ID, documentdomain.ItemInput{Description: "x", Quantity: dec("1"), UnitPrice: dec("1")})
	assert.True(t, ierr.IsDocumentLocked(err))
	assert.True(t, ierr.IsDocumentLocked(f.svc.RemoveItem(f.ctx, paid.ID, before.Items[0].ID)))

	_, err = f.svc.Update(f.ctx, paid.ID, documentdomain.UpdateDocumentRequest{DiscountAmount: ptr(dec("10"))})
	assert.True(t, ierr.IsDocumentLocked(err))

	after, err := f.svc.Get(f.ctx, paid.ID)
	require.NoError(t, err)
	assertAmount(t, before.Subtotal.String(), after.Subtotal)
	assertAmount(t, before.TaxAmount.String(), after.TaxAmount)
	assertAmount(t, before.TotalAmount.String(), after.TotalAmount)
	assertAmount(t, "240", after.PaidAmount)
	assertAmount(t, "2", after.Items[0].Quantity)
}

func TestItems_RecomputeParentTotals(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	added, err := f.svc.AddItem(f.ctx, doc.ID, documentdomain.ItemInput{
		Description: "Licence",
		Quantity:    dec("3"),
		UnitPrice:   dec("33.335"),
		TaxRate:     dec("5.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Position)
	assertAmount(t, "100.01", added.Subtotal)
	assertAmount(t, "5.5", added.TaxAmount)

	got, err := f.svc.Get(f.ctx, doc.ID)
	require.NoError(t, err)
	assertAmount(t, "300.01", got.Subtotal)
	assertAmount(t, "45.5", got.TaxAmount)
	assertAmount(t, "345.51", got.TotalAmount)

	_, err = f.svc.UpdateItem(f.ctx, doc.ID, added.ID, documentdomain.UpdateItemRequest{Quantity: ptr(dec("1")), UnitPrice: ptr(dec("10"))})
	require.NoError(t, err)
	got, err = f.svc.Get(f.ctx, doc.ID)
	require.NoError(t, err)
	assertAmount(t, "210", got.Subtotal)
	assertAmount(t, "40.55", got.TaxAmount)
	assertAmount(t, "250.55", got.TotalAmount)

	require.NoError(t, f.svc.RemoveItem(f.ctx, doc.ID, added.ID))
	items, err := f.svc.ListItems(f.ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	got, err = f.svc.Get(f.ctx, doc.ID)
	require.NoError(t, err)
	assertAmount(t, "240", got.TotalAmount)

	err = f.svc.RemoveItem(f.ctx, doc.ID, added.ID)
	assert.True(t, ierr.IsNotFound(err))
}

func TestUpdate_DiscountRecomputesTotal(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	updated, err := f.svc.Update(f.ctx, doc.ID, documentdomain.UpdateDocumentRequest{
		DiscountAmount: ptr(dec("15.5")),
		Notes:          ptr("valid for 30 days"),
	})
	require.NoError(t, err)
	assertAmount(t, "224.5", updated.TotalAmount)
	assert.Equal(t, "valid for 30 days", updated.Notes)

	_, err = f.svc.Update(f.ctx, doc.ID, documentdomain.UpdateDocumentRequest{DiscountAmount: ptr(dec("500"))})
	assert.True(t, ierr.IsValidation(err))

	_, err = f.svc.Update(f.ctx, doc.ID, documentdomain.UpdateDocumentRequest{CustomerName: ptr(" ")})
	assert.True(t, ierr.IsValidation(err))
}

func TestDelete_OnlyDrafts(t *testing.T) {
	f := newFixture(t)
	draft, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)
	sent, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(f.ctx, sent.ID, documentdomain.StatusSent)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(f.ctx, draft.ID))
	_, err = f.svc.Get(f.ctx, draft.ID)
	assert.True(t, ierr.IsNotFound(err))

	var remaining int64
	require.NoError(t, f.db.Model(&documentdomain.Item{}).Where("document_id = ?", draft.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)

	err = f.svc.Delete(f.ctx, sent.ID)
	require.Error(t, err)
	assert.True(t, ierr.IsDocumentLocked(err))
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t)
	quote, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	_, err = f.svc.TransitionStatus(f.ctx, quote.ID, documentdomain.StatusAccepted)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTransition)
	assert.True(t, ierr.IsInvalidTransition(err))

	sent, err := f.svc.TransitionStatus(f.ctx, quote.ID, documentdomain.StatusSent)
	require.NoError(t, err)
	require.NotNil(t, sent.SentAt)

	_, err = f.svc.TransitionStatus(f.ctx, quote.ID, documentdomain.StatusConverted)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTransition)

	_, err = f.svc.TransitionStatus(f.ctx, quote.ID, "archived")
	assert.True(t, ierr.IsValidation(err))

	paid := f.paidInvoice(t)
	_, err = f.svc.TransitionStatus(f.ctx, paid.ID, documentdomain.StatusOverdue)
	assert.ErrorIs(t, err, documentdomain.ErrInvalidTransition)
}

func TestTransitionStatus_OverdueAllowedOnSentInvoice(t *testing.T) {
	f := newFixture(t)
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	doc, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(f.ctx, doc.ID, documentdomain.StatusSent)
	require.NoError(t, err)

	overdue, err := f.svc.TransitionStatus(f.ctx, doc.ID, documentdomain.StatusOverdue)
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusOverdue, overdue.Status)
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	doc, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(f.ctx, doc.ID, dec("100"))
	assert.ErrorIs(t, err, documentdomain.ErrNotPayable)

	_, err = f.svc.TransitionStatus(f.ctx, doc.ID, documentdomain.StatusSent)
	require.NoError(t, err)

	partial, err := f.svc.RecordPayment(f.ctx, doc.ID, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusSent, partial.Status)
	assertAmount(t, "100", partial.PaidAmount)

	_, err = f.svc.RecordPayment(f.ctx, doc.ID, dec("150"))
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Contains(t, ierr.Hint(err), "140.00")

	_, err = f.svc.RecordPayment(f.ctx, doc.ID, dec("-1"))
	assert.ErrorIs(t, err, documentdomain.ErrInvalidPayment)

	paid, err := f.svc.RecordPayment(f.ctx, doc.ID, dec("140"))
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assertAmount(t, "240", paid.PaidAmount)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(f.ctx, quoteRequest())
		require.NoError(t, err)
	}
	req := quoteRequest()
	req.DocumentType = documentdomain.TypeInvoice
	_, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)

	page, err := f.svc.List(f.ctx, documentdomain.ListDocumentRequest{DocumentType: "quote"})
	require.NoError(t, err)
	assert.Len(t, page.Documents, 3)

	other := tenantctx.WithTenantID(context.Background(), testTenant+1)
	empty, err := f.svc.List(other, documentdomain.ListDocumentRequest{})
	require.NoError(t, err)
	assert.Empty(t, empty.Documents)

	first, err := f.svc.List(f.ctx, documentdomain.ListDocumentRequest{})
	require.NoError(t, err)
	assert.Len(t, first.Documents, 4)
	assert.False(t, first.HasMore)

	_, err = f.svc.List(f.ctx, documentdomain.ListDocumentRequest{Status: "archived"})
	assert.True(t, ierr.IsValidation(err))
}

func TestGet_OtherTenantIsNotFound(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(f.ctx, quoteRequest())
	require.NoError(t, err)

	other := tenantctx.WithTenantID(context.Background(), testTenant+1)
	_, err = f.svc.Get(other, doc.ID)
	assert.ErrorIs(t, err, documentdomain.ErrDocumentNotFound)
}

func ptr[T any](v T) *T { return &v }
