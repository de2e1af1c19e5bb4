package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"github.com/smallbiznis/billingsync/internal/clock"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	"github.com/smallbiznis/billingsync/internal/observability/metrics"
	"github.com/smallbiznis/billingsync/internal/tax"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	pkgdb "github.com/smallbiznis/billingsync/pkg/db"
	"github.com/smallbiznis/billingsync/pkg/db/pagination"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/smallbiznis/billingsync/pkg/tenantctx"
	"github.com/smallbiznis/billingsync/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	numberAttempts   = 3
	numberRetryDelay = 20 * time.Millisecond
	maxNumberSkips   = 50
	targetType       = "billing_document"
)

var numberConstraint = []string{"ux_billing_documents_number", "billing_documents.document_number"}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      documentdomain.Repository
	Numbering numberingdomain.Service
	Settings  settingsdomain.Service
	Clock     clock.Clock
	Notifier  notificationdomain.Notifier `optional:"true"`
	Metrics   *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      documentdomain.Repository
	numbering numberingdomain.Service
	settings  settingsdomain.Service
	clock     clock.Clock
	notifier  notificationdomain.Notifier
	metrics   *metrics.Metrics
}

func NewService(p Params) documentdomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Nop{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billingdocument.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		numbering: p.Numbering,
		settings:  p.Settings,
		clock:     p.Clock,
		notifier:  notifier,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req documentdomain.CreateDocumentRequest) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	normalizeCreate(&req)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	issueDate := dateOf(s.clock.Now())
	if req.IssueDate != "" {
		issueDate = mustDate(req.IssueDate)
	}

	var created *documentdomain.Document
	err = s.withNumberRetry(ctx, req.DocumentType, func(tx *gorm.DB) error {
		created = nil

		settings, err := s.settings.GetTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		number, err := s.allocateNumber(ctx, tx, tenantID, req.DocumentType, issueDate)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		doc := &documentdomain.Document{
			ID:              s.genID.Generate(),
			TenantID:        tenantID,
			DocumentType:    req.DocumentType,
			DocumentNumber:  number,
			Status:          documentdomain.StatusDraft,
			IssueDate:       issueDate,
			DueDate:         optionalDate(req.DueDate),
			ValidUntil:      optionalDate(req.ValidUntil),
			Currency:        req.Currency,
			CustomerName:    req.CustomerName,
			CustomerEmail:   req.CustomerEmail,
			CustomerTaxID:   req.CustomerTaxID,
			CustomerAddress: req.CustomerAddress,
			Notes:           req.Notes,
			DiscountAmount:  tax.Round2(req.DiscountAmount),
			PaidAmount:      decimal.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if doc.Currency == "" {
			doc.Currency = settings.Currency
		}
		applyDefaultDates(doc, settings)

		items := make([]documentdomain.Item, 0, len(req.Items))
		lines := make([]tax.LineAmounts, 0, len(req.Items))
		for i, input := range req.Items {
			item, err := s.newItem(doc, i+1, input, now)
			if err != nil {
				return err
			}
			items = append(items, item)
			lines = append(lines, tax.LineAmounts{Subtotal: item.Subtotal, TaxAmount: item.TaxAmount, Total: item.Total})
		}
		if err := applyTotals(doc, lines); err != nil {
			return err
		}

		if err := s.repo.Insert(ctx, tx, doc); err != nil {
			return err
		}
		for i := range items {
			if err := s.repo.InsertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		doc.Items = items
		created = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDocumentCreated(ctx, string(created.DocumentType))
	s.log.Info("billing document created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("document_id", created.ID.String()),
		zap.String("document_number", created.DocumentNumber),
	)
	s.notify(ctx, notificationdomain.EventDocumentCreated, created, nil)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, s.db, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	doc.Items = items
	return doc, nil
}

func (s *Service) List(ctx context.Context, req documentdomain.ListDocumentRequest) (documentdomain.ListDocumentResponse, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return documentdomain.ListDocumentResponse{}, err
	}

	filter := documentdomain.ListFilter{TenantID: tenantID, Limit: req.Limit()}
	if v := strings.TrimSpace(req.DocumentType); v != "" {
		t, ok := documentdomain.ParseDocumentType(v)
		if !ok {
			return documentdomain.ListDocumentResponse{}, validation.Field("document_type", "oneof", "is not a known document type")
		}
		filter.DocumentType = t
	}
	if v := strings.TrimSpace(req.Status); v != "" {
		st, ok := documentdomain.ParseStatus(v)
		if !ok {
			return documentdomain.ListDocumentResponse{}, validation.Field("status", "oneof", "is not a known status")
		}
		filter.Status = st
	}
	if filter.AfterID, err = pagination.DecodeIDCursor(strings.TrimSpace(req.PageToken)); err != nil {
		return documentdomain.ListDocumentResponse{}, documentdomain.ErrInvalidPageToken
	}

	docs, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return documentdomain.ListDocumentResponse{}, err
	}
	page, info := pagination.Trim(docs, filter.Limit, func(d documentdomain.Document) int64 { return int64(d.ID) })
	return documentdomain.ListDocumentResponse{PageInfo: info, Documents: page}, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req documentdomain.UpdateDocumentRequest) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	normalizeUpdate(&req)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.CustomerName != nil && *req.CustomerName == "" {
		return nil, validation.Field("customer_name", "required", "is required")
	}

	var updated *documentdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.load(ctx, tx, tenantID, id, true)
		if err != nil {
			return err
		}
		if documentdomain.IsLocked(doc.DocumentType, doc.Status) {
			return lockedError(doc)
		}

		applyUpdate(doc, req)
		if err := s.recompute(ctx, tx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notificationdomain.EventDocumentUpdated, updated, nil)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return err
	}

	var deleted *documentdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.load(ctx, tx, tenantID, id, true)
		if err != nil {
			return err
		}
		if doc.Status != documentdomain.StatusDraft {
			return ierr.WithError(documentdomain.ErrNotDraft).
				WithHintf("%s %s is %s", doc.DocumentType, doc.DocumentNumber, doc.Status).
				Mark(ierr.ErrDocumentLocked)
		}
		if err := s.repo.Delete(ctx, tx, tenantID, id); err != nil {
			return err
		}
		deleted = doc
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, notificationdomain.EventDocumentDeleted, deleted, nil)
	return nil
}

// Convert creates a draft document of the target type from source, copying
// customer data and items, and marks the source converted. Both writes share
// one transaction.
func (s *Service) Convert(ctx context.Context, id snowflake.ID, target documentdomain.DocumentType) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := documentdomain.ParseDocumentType(string(target)); !ok {
		return nil, validation.Field("target_type", "oneof", "is not a known document type")
	}

	var source, created *documentdomain.Document
	err = s.withNumberRetry(ctx, target, func(tx *gorm.DB) error {
		source, created = nil, nil

		src, err := s.load(ctx, tx, tenantID, id, true)
		if err != nil {
			return err
		}
		if !documentdomain.ConversionPairLegal(src.DocumentType, target) {
			return ierr.WithError(documentdomain.ErrInvalidConversion).
				WithHintf("a %s cannot be converted to a %s", src.DocumentType, target).
				Mark(ierr.ErrInvalidConversion)
		}
		if !documentdomain.CanConvert(src.DocumentType, src.Status, target) {
			return ierr.WithError(documentdomain.ErrInvalidConversion).
				WithHintf("%s %s is %s and cannot be converted", src.DocumentType, src.DocumentNumber, src.Status).
				Mark(ierr.ErrInvalidConversion)
		}

		settings, err := s.settings.GetTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		issueDate := dateOf(now)
		number, err := s.allocateNumber(ctx, tx, tenantID, target, issueDate)
		if err != nil {
			return err
		}

		sourceID := src.ID
		doc := &documentdomain.Document{
			ID:              s.genID.Generate(),
			TenantID:        tenantID,
			DocumentType:    target,
			DocumentNumber:  number,
			Status:          documentdomain.StatusDraft,
			IssueDate:       issueDate,
			Currency:        src.Currency,
			CustomerName:    src.CustomerName,
			CustomerEmail:   src.CustomerEmail,
			CustomerTaxID:   src.CustomerTaxID,
			CustomerAddress: src.CustomerAddress,
			Notes:           src.Notes,
			Subtotal:        src.Subtotal,
			TaxAmount:       src.TaxAmount,
			DiscountAmount:  src.DiscountAmount,
			TotalAmount:     src.TotalAmount,
			PaidAmount:      decimal.Zero,
			ConvertedFromID: &sourceID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		applyDefaultDates(doc, settings)
		if err := s.repo.Insert(ctx, tx, doc); err != nil {
			return err
		}

		items, err := s.repo.ListItems(ctx, tx, tenantID, src.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			clone := item
			clone.ID = s.genID.Generate()
			clone.DocumentID = doc.ID
			clone.CreatedAt = now
			clone.UpdatedAt = now
			if err := s.repo.InsertItem(ctx, tx, &clone); err != nil {
				return err
			}
		}
		if err := s.recompute(ctx, tx, doc); err != nil {
			return err
		}

		src.Status = documentdomain.StatusConverted
		src.ConvertedToID = &doc.ID
		src.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, src); err != nil {
			return err
		}

		source, created = src, doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordConversion(ctx, string(source.DocumentType), string(created.DocumentType))
	s.log.Info("billing document converted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("source_id", source.ID.String()),
		zap.String("document_id", created.ID.String()),
		zap.String("document_number", created.DocumentNumber),
	)
	s.notify(ctx, notificationdomain.EventDocumentConverted, created, map[string]any{
		"source_id":     source.ID.String(),
		"source_type":   string(source.DocumentType),
		"source_number": source.DocumentNumber,
	})
	return created, nil
}

func (s *Service) TransitionStatus(ctx context.Context, id snowflake.ID, status documentdomain.Status) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := documentdomain.ParseStatus(string(status)); !ok {
		return nil, validation.Field("status", "oneof", "is not a known status")
	}

	var (
		updated *documentdomain.Document
		from    documentdomain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.load(ctx, tx, tenantID, id, true)
		if err != nil {
			return err
		}
		from = doc.Status
		if from == status {
			updated = doc
			return nil
		}
		if !documentdomain.CanTransition(doc.DocumentType, from, status) {
			return ierr.WithError(documentdomain.ErrInvalidTransition).
				WithHintf("a %s cannot move from %s to %s", doc.DocumentType, from, status).
				Mark(ierr.ErrInvalidTransition)
		}

		now := s.clock.Now()
		doc.Status = status
		doc.UpdatedAt = now
		switch status {
		case documentdomain.StatusSent:
			doc.SentAt = &now
		case documentdomain.StatusPaid:
			doc.PaidAmount = doc.TotalAmount
			doc.PaidAt = &now
		}
		if err := s.repo.Update(ctx, tx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != status {
		s.notify(ctx, notificationdomain.EventDocumentStatusChanged, updated, map[string]any{
			"previous_status": string(from),
		})
	}
	return updated, nil
}

// RecordPayment adds amount to the paid total of a sent or overdue payable
// document. Reaching the total marks the document paid.
func (s *Service) RecordPayment(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*documentdomain.Document, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	amount = tax.Round2(amount)
	if !amount.IsPositive() {
		return nil, documentdomain.ErrInvalidPayment
	}

	var (
		updated *documentdomain.Document
		from    documentdomain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.load(ctx, tx, tenantID, id, true)
		if err != nil {
			return err
		}
		from = doc.Status
		if !doc.DocumentType.InvoiceLike() ||
			(doc.Status != documentdomain.StatusSent && doc.Status != documentdomain.StatusOverdue) {
			return ierr.WithError(documentdomain.ErrNotPayable).
				WithHintf("%s %s is %s and does not accept payments", doc.DocumentType, doc.DocumentNumber, doc.Status).
				Mark(ierr.ErrInvalidTransition)
		}

		paid := doc.PaidAmount.Add(amount)
		if paid.GreaterThan(doc.TotalAmount) {
			return ierr.WithError(documentdomain.ErrOverpayment).
				WithHintf("at most %s remains to be paid", doc.TotalAmount.Sub(doc.PaidAmount).StringFixed(2)).
				Mark(ierr.ErrValidation)
		}

		now := s.clock.Now()
		doc.PaidAmount = paid
		doc.UpdatedAt = now
		if paid.Equal(doc.TotalAmount) {
			doc.Status = documentdomain.StatusPaid
			doc.PaidAt = &now
		}
		if err := s.repo.Update(ctx, tx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notificationdomain.EventDocumentPaymentRecorded, updated, map[string]any{
		"amount":          amount.StringFixed(2),
		"previous_status": string(from),
	})
	return updated, nil
}

func (s *Service) AddItem(ctx context.Context, documentID snowflake.ID, input documentdomain.ItemInput) (*documentdomain.Item, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	input.Description = strings.TrimSpace(input.Description)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	var added *documentdomain.Item
	err = s.withLockedDocument(ctx, tenantID, documentID, func(tx *gorm.DB, doc *documentdomain.Document) error {
		position, err := s.repo.NextPosition(ctx, tx, tenantID, documentID)
		if err != nil {
			return err
		}
		item, err := s.newItem(doc, position, input, s.clock.Now())
		if err != nil {
			return err
		}
		if err := s.repo.InsertItem(ctx, tx, &item); err != nil {
			return err
		}
		added = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Service) UpdateItem(ctx context.Context, documentID, itemID snowflake.ID, req documentdomain.UpdateItemRequest) (*documentdomain.Item, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		req.Description = &trimmed
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var updated *documentdomain.Item
	err = s.withLockedDocument(ctx, tenantID, documentID, func(tx *gorm.DB, doc *documentdomain.Document) error {
		item, err := s.repo.FindItem(ctx, tx, tenantID, documentID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return documentdomain.ErrItemNotFound
		}

		if req.Description != nil {
			item.Description = *req.Description
		}
		if req.Quantity != nil {
			item.Quantity = *req.Quantity
		}
		if req.UnitPrice != nil {
			item.UnitPrice = *req.UnitPrice
		}
		if req.TaxRate != nil {
			item.TaxRate = *req.TaxRate
		}
		amounts, err := tax.CalculateLine(item.Quantity, item.UnitPrice, item.TaxRate)
		if err != nil {
			return err
		}
		item.Subtotal, item.TaxAmount, item.Total = amounts.Subtotal, amounts.TaxAmount, amounts.Total
		item.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) RemoveItem(ctx context.Context, documentID, itemID snowflake.ID) error {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return err
	}
	return s.withLockedDocument(ctx, tenantID, documentID, func(tx *gorm.DB, doc *documentdomain.Document) error {
		item, err := s.repo.FindItem(ctx, tx, tenantID, documentID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return documentdomain.ErrItemNotFound
		}
		return s.repo.DeleteItem(ctx, tx, tenantID, itemID)
	})
}

func (s *Service) ListItems(ctx context.Context, documentID snowflake.ID) ([]documentdomain.Item, error) {
	tenantID, err := s.tenantID(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, s.db, tenantID, documentID, false); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, tenantID, documentID)
}

// withLockedDocument runs an item write under the parent row lock and
// recomputes the parent totals before the transaction commits.
func (s *Service) withLockedDocument(ctx context.Context, tenantID, documentID snowflake.ID, fn func(tx *gorm.DB, doc *documentdomain.Document) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.load(ctx, tx, tenantID, documentID, true)
		if err != nil {
			return err
		}
		if documentdomain.IsLocked(doc.DocumentType, doc.Status) {
			return lockedError(doc)
		}
		if err := fn(tx, doc); err != nil {
			return err
		}
		return s.recompute(ctx, tx, doc)
	})
}

// recompute derives every line amount and the document totals from the
// stored items and persists the document.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, doc *documentdomain.Document) error {
	items, err := s.repo.ListItems(ctx, tx, doc.TenantID, doc.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	lines := make([]tax.LineAmounts, 0, len(items))
	for i := range items {
		item := &items[i]
		amounts, err := tax.CalculateLine(item.Quantity, item.UnitPrice, item.TaxRate)
		if err != nil {
			return err
		}
		if !amounts.Subtotal.Equal(item.Subtotal) || !amounts.TaxAmount.Equal(item.TaxAmount) || !amounts.Total.Equal(item.Total) {
			item.Subtotal, item.TaxAmount, item.Total = amounts.Subtotal, amounts.TaxAmount, amounts.Total
			item.UpdatedAt = now
			if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
				return err
			}
		}
		lines = append(lines, amounts)
	}
	if err := applyTotals(doc, lines); err != nil {
		return err
	}

	doc.UpdatedAt = now
	doc.Items = items
	return s.repo.Update(ctx, tx, doc)
}

// withNumberRetry runs fn in a transaction and reruns it when the insert
// loses a document number race.
func (s *Service) withNumberRetry(ctx context.Context, documentType documentdomain.DocumentType, fn func(tx *gorm.DB) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !pkgdb.IsConstraintOn(err, numberConstraint...) {
			return backoff.Permanent(err)
		}
		s.metrics.RecordNumberRetry(ctx, string(documentType))
		s.log.Warn("document number collision",
			zap.String("document_type", string(documentType)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return ierr.WithError(documentdomain.ErrDuplicateNumber).
			WithMessage(err.Error()).
			Mark(ierr.ErrDuplicateNumber)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(numberRetryDelay), numberAttempts-1),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// allocateNumber draws numbers from the sequence until one is free. Numbers
// can be taken when documents were imported outside the sequence.
func (s *Service) allocateNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, documentType documentdomain.DocumentType, issueDate time.Time) (string, error) {
	for i := 0; i < maxNumberSkips; i++ {
		number, err := s.numbering.Next(ctx, tx, tenantID, string(documentType), issueDate)
		if err != nil {
			return "", err
		}
		taken, err := s.repo.NumberExists(ctx, tx, tenantID, documentType, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
		s.log.Warn("document number already taken, skipping",
			zap.String("tenant_id", tenantID.String()),
			zap.String("document_number", number),
		)
	}
	return "", documentdomain.ErrNumberSpaceCrowded
}

func (s *Service) load(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, forUpdate bool) (*documentdomain.Document, error) {
	if id == 0 {
		return nil, documentdomain.ErrInvalidDocumentID
	}
	var (
		doc *documentdomain.Document
		err error
	)
	if forUpdate {
		doc, err = s.repo.FindForUpdate(ctx, db, tenantID, id)
	} else {
		doc, err = s.repo.FindByID(ctx, db, tenantID, id)
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Service) newItem(doc *documentdomain.Document, position int, input documentdomain.ItemInput, now time.Time) (documentdomain.Item, error) {
	amounts, err := tax.CalculateLine(input.Quantity, input.UnitPrice, input.TaxRate)
	if err != nil {
		return documentdomain.Item{}, err
	}
	return documentdomain.Item{
		ID:          s.genID.Generate(),
		TenantID:    doc.TenantID,
		DocumentID:  doc.ID,
		Position:    position,
		Description: input.Description,
		Quantity:    input.Quantity,
		UnitPrice:   input.UnitPrice,
		TaxRate:     input.TaxRate,
		Subtotal:    amounts.Subtotal,
		TaxAmount:   amounts.TaxAmount,
		Total:       amounts.Total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) tenantID(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, documentdomain.ErrInvalidTenant
	}
	return tenantID, nil
}

func (s *Service) notify(ctx context.Context, eventType string, doc *documentdomain.Document, extra map[string]any) {
	payload := map[string]any{
		"document_type":   string(doc.DocumentType),
		"document_number": doc.DocumentNumber,
		"status":          string(doc.Status),
		"total_amount":    doc.TotalAmount.StringFixed(2),
		"currency":        doc.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Notify(ctx, notificationdomain.Event{
		Type:       eventType,
		TenantID:   doc.TenantID,
		TargetType: targetType,
		TargetID:   doc.ID.String(),
		Payload:    payload,
	})
}

func lockedError(doc *documentdomain.Document) error {
	return ierr.WithError(documentdomain.ErrDocumentLocked).
		WithHintf("%s %s is %s and its content can no longer be edited", doc.DocumentType, doc.DocumentNumber, doc.Status).
		Mark(ierr.ErrDocumentLocked)
}
