package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	compliancedomain "github.com/smallbiznis/billingsync/internal/compliance/domain"
	"github.com/smallbiznis/billingsync/internal/tax"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Documents documentdomain.Service
	Settings  settingsdomain.Service
}

type Service struct {
	log       *zap.Logger
	documents documentdomain.Service
	settings  settingsdomain.Service
}

func NewService(p Params) compliancedomain.Service {
	return &Service{
		log:       p.Log.Named("compliance.service"),
		documents: p.Documents,
		settings:  p.Settings,
	}
}

func (s *Service) Check(ctx context.Context, documentID snowflake.ID) (compliancedomain.Result, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return compliancedomain.Result{}, err
	}
	settings, err := s.settings.Get(ctx, doc.TenantID)
	if err != nil {
		return compliancedomain.Result{}, err
	}

	jurisdiction, ruleset := compliancedomain.RulesetFor(settings.Jurisdiction)
	fields := ruleset.Required
	if doc.DocumentType.InvoiceLike() {
		fields = append(append([]string{}, fields...), ruleset.InvoiceOnly...)
	}

	missing := make([]string, 0)
	for _, field := range fields {
		if !present(field, doc, settings) {
			missing = append(missing, field)
		}
	}

	s.log.Debug("compliance checked",
		zap.String("document_id", doc.ID.String()),
		zap.String("jurisdiction", jurisdiction),
		zap.Strings("missing_fields", missing),
	)
	return compliancedomain.Result{
		DocumentID:    doc.ID,
		Jurisdiction:  jurisdiction,
		IsCompliant:   len(missing) == 0,
		MissingFields: missing,
	}, nil
}

func present(field string, doc *documentdomain.Document, settings *settingsdomain.Settings) bool {
	switch field {
	case compliancedomain.FieldCustomerName:
		return filled(doc.CustomerName)
	case compliancedomain.FieldCustomerTaxID:
		return filled(doc.CustomerTaxID)
	case compliancedomain.FieldCustomerAddress:
		return filled(doc.CustomerAddress)
	case compliancedomain.FieldSellerLegalName:
		return filled(settings.SellerLegalName)
	case compliancedomain.FieldSellerTaxID:
		return filled(settings.SellerTaxID)
	case compliancedomain.FieldSellerAddress:
		return filled(settings.SellerAddress)
	case compliancedomain.FieldDocumentNumber:
		return filled(doc.DocumentNumber)
	case compliancedomain.FieldIssueDate:
		return !doc.IssueDate.IsZero()
	case compliancedomain.FieldDueDate:
		return doc.DueDate != nil && !doc.DueDate.IsZero()
	case compliancedomain.FieldLineItems:
		return len(doc.Items) > 0
	case compliancedomain.FieldLineTaxBreakdown:
		return taxBreakdownComplete(doc.Items)
	default:
		return false
	}
}

// taxBreakdownComplete requires every line to carry amounts consistent with
// its rate.
func taxBreakdownComplete(items []documentdomain.Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		amounts, err := tax.CalculateLine(item.Quantity, item.UnitPrice, item.TaxRate)
		if err != nil {
			return false
		}
		if !amounts.TaxAmount.Equal(item.TaxAmount) || !amounts.Subtotal.Equal(item.Subtotal) {
			return false
		}
	}
	return true
}

func filled(v string) bool { return strings.TrimSpace(v) != "" }
