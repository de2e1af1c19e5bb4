package domain

import "strings"

// Ruleset lists the fields a jurisdiction requires. InvoiceOnly fields apply
// to payable documents only.
type Ruleset struct {
	Required    []string
	InvoiceOnly []string
}

var baseFields = []string{
	FieldCustomerName,
	FieldCustomerTaxID,
	FieldSellerTaxID,
	FieldSellerLegalName,
	FieldDocumentNumber,
	FieldIssueDate,
	FieldLineItems,
	FieldLineTaxBreakdown,
}

var rulesets = map[string]Ruleset{
	DefaultJurisdiction: {Required: baseFields},
	"FR": {
		Required:    append(append([]string{}, baseFields...), FieldCustomerAddress, FieldSellerAddress),
		InvoiceOnly: []string{FieldDueDate},
	},
	"ES": {
		Required: append(append([]string{}, baseFields...), FieldCustomerAddress, FieldSellerAddress),
	},
}

// RulesetFor returns the ruleset of a jurisdiction code, falling back to
// the default ruleset for unknown codes.
func RulesetFor(jurisdiction string) (string, Ruleset) {
	code := strings.ToUpper(strings.TrimSpace(jurisdiction))
	if rs, ok := rulesets[code]; ok {
		return code, rs
	}
	return DefaultJurisdiction, rulesets[DefaultJurisdiction]
}
