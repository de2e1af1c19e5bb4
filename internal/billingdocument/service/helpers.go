package service

import (
	"strings"
	"time"

	documentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"github.com/smallbiznis/billingsync/internal/tax"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
)

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mustDate parses a date that already passed request validation.
func mustDate(v string) time.Time {
	t, err := time.Parse(documentdomain.DateLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func optionalDate(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := mustDate(v)
	return &t
}

// applyDefaultDates fills the due date of payable documents and the
// validity of quotes from the tenant settings.
func applyDefaultDates(doc *documentdomain.Document, settings *settingsdomain.Settings) {
	if doc.DocumentType.InvoiceLike() && doc.DueDate == nil {
		due := doc.IssueDate.AddDate(0, 0, settings.DefaultDueDays)
		doc.DueDate = &due
	}
	if doc.DocumentType == documentdomain.TypeQuote && doc.ValidUntil == nil {
		until := doc.IssueDate.AddDate(0, 0, settings.DefaultQuoteValidityDays)
		doc.ValidUntil = &until
	}
}

func applyTotals(doc *documentdomain.Document, lines []tax.LineAmounts) error {
	totals, err := tax.SumLines(lines, doc.DiscountAmount)
	if err != nil {
		return err
	}
	doc.Subtotal = totals.Subtotal
	doc.TaxAmount = totals.TaxAmount
	doc.DiscountAmount = totals.DiscountAmount
	doc.TotalAmount = totals.Total
	return nil
}

func normalizeCreate(req *documentdomain.CreateDocumentRequest) {
	req.DocumentType = documentdomain.DocumentType(strings.ToLower(strings.TrimSpace(string(req.DocumentType))))
	req.IssueDate = strings.TrimSpace(req.IssueDate)
	req.DueDate = strings.TrimSpace(req.DueDate)
	req.ValidUntil = strings.TrimSpace(req.ValidUntil)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerTaxID = strings.TrimSpace(req.CustomerTaxID)
	req.CustomerAddress = strings.TrimSpace(req.CustomerAddress)
	req.Notes = strings.TrimSpace(req.Notes)
	for i := range req.Items {
		req.Items[i].Description = strings.TrimSpace(req.Items[i].Description)
	}
}

func normalizeUpdate(req *documentdomain.UpdateDocumentRequest) {
	for _, field := range []*string{
		req.IssueDate, req.DueDate, req.ValidUntil,
		req.CustomerName, req.CustomerEmail, req.CustomerTaxID, req.CustomerAddress, req.Notes,
	} {
		if field != nil {
			*field = strings.TrimSpace(*field)
		}
	}
	if req.Currency != nil {
		*req.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
}

func applyUpdate(doc *documentdomain.Document, req documentdomain.UpdateDocumentRequest) {
	if req.IssueDate != nil && *req.IssueDate != "" {
		doc.IssueDate = mustDate(*req.IssueDate)
	}
	if req.DueDate != nil {
		doc.DueDate = optionalDate(*req.DueDate)
	}
	if req.ValidUntil != nil {
		doc.ValidUntil = optionalDate(*req.ValidUntil)
	}
	if req.Currency != nil && *req.Currency != "" {
		doc.Currency = *req.Currency
	}
	if req.CustomerName != nil {
		doc.CustomerName = *req.CustomerName
	}
	if req.CustomerEmail != nil {
		doc.CustomerEmail = *req.CustomerEmail
	}
	if req.CustomerTaxID != nil {
		doc.CustomerTaxID = *req.CustomerTaxID
	}
	if req.CustomerAddress != nil {
		doc.CustomerAddress = *req.CustomerAddress
	}
	if req.Notes != nil {
		doc.Notes = *req.Notes
	}
	if req.DiscountAmount != nil {
		doc.DiscountAmount = tax.Round2(*req.DiscountAmount)
	}
}
