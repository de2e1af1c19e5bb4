package domain

import "slices"

var documentTypes = []DocumentType{TypeQuote, TypeInvoice, TypeProforma, TypeCreditNote, TypePurchaseInvoice}

// ParseDocumentType reports whether v names a known document type.
func ParseDocumentType(v string) (DocumentType, bool) {
	t := DocumentType(v)
	return t, slices.Contains(documentTypes, t)
}

// InvoiceLike reports whether documents of t are payable and carry a due
// date.
func (t DocumentType) InvoiceLike() bool {
	switch t {
	case TypeInvoice, TypeCreditNote, TypePurchaseInvoice:
		return true
	}
	return false
}

// transitions lists the status edges reachable through TransitionStatus.
// The converted status is only entered through Convert.
var transitions = map[DocumentType]map[Status][]Status{
	TypeQuote: {
		StatusDraft: {StatusSent},
		StatusSent:  {StatusAccepted, StatusRejected},
	},
	TypeProforma: {
		StatusDraft: {StatusSent},
	},
	TypeInvoice:         invoiceTransitions,
	TypeCreditNote:      invoiceTransitions,
	TypePurchaseInvoice: invoiceTransitions,
}

var invoiceTransitions = map[Status][]Status{
	StatusDraft:   {StatusSent},
	StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether a document of type t may move from one
// status to another.
func CanTransition(t DocumentType, from, to Status) bool {
	return slices.Contains(transitions[t][from], to)
}

// IsLocked reports whether content edits are forbidden in status s.
func IsLocked(t DocumentType, s Status) bool {
	switch t {
	case TypeQuote:
		return s == StatusConverted || s == StatusAccepted || s == StatusRejected
	case TypeProforma:
		return s == StatusConverted
	default:
		return s == StatusPaid || s == StatusCancelled
	}
}

var conversions = map[DocumentType][]DocumentType{
	TypeQuote:    {TypeInvoice, TypeProforma},
	TypeProforma: {TypeInvoice},
}

var convertibleFrom = map[DocumentType][]Status{
	TypeQuote:    {StatusDraft, StatusSent, StatusAccepted},
	TypeProforma: {StatusDraft, StatusSent},
}

// CanConvert reports whether source may be converted to target. The status
// check rules out documents that were already converted or rejected.
func CanConvert(source DocumentType, status Status, target DocumentType) bool {
	if !slices.Contains(conversions[source], target) {
		return false
	}
	return slices.Contains(convertibleFrom[source], status)
}

// ConversionPairLegal reports whether source may ever be converted to target.
func ConversionPairLegal(source, target DocumentType) bool {
	return slices.Contains(conversions[source], target)
}

var statuses = []Status{
	StatusDraft, StatusSent, StatusAccepted, StatusRejected,
	StatusConverted, StatusPaid, StatusOverdue, StatusCancelled,
}

// ParseStatus reports whether v names a known status.
func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	return s, slices.Contains(statuses, s)
}
