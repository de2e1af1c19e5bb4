package stripe

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
)

// Wire shapes of the Stripe objects carried in event data. Expandable fields
// are kept raw because they arrive either as an id or as an object.

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           json.RawMessage   `json:"customer"`
	Status             string            `json:"status"`
	Currency           string            `json:"currency"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	CanceledAt         int64             `json:"canceled_at"`
	EndedAt            int64             `json:"ended_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type stripeSubscriptionItem struct {
	ID                 string `json:"id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Quantity           int64  `json:"quantity"`
	Price              struct {
		ID         string `json:"id"`
		UnitAmount int64  `json:"unit_amount"`
		Currency   string `json:"currency"`
	} `json:"price"`
}

type stripeInvoice struct {
	ID           string            `json:"id"`
	Customer     json.RawMessage   `json:"customer"`
	Subscription json.RawMessage   `json:"subscription"`
	Currency     string            `json:"currency"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	AttemptCount int64             `json:"attempt_count"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

func (s stripeSubscription) toProvider() *subscriptiondomain.ProviderSubscription {
	out := &subscriptiondomain.ProviderSubscription{
		ExternalSubscriptionID: s.ID,
		ExternalCustomerID:     objectID(s.Customer),
		Status:                 s.Status,
		Currency:               strings.ToUpper(s.Currency),
		CurrentPeriodStart:     unixTimePtr(s.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTimePtr(s.CurrentPeriodEnd),
		TrialEnd:               unixTimePtr(s.TrialEnd),
		CanceledAt:             unixTimePtr(s.CanceledAt),
		EndedAt:                unixTimePtr(s.EndedAt),
		Metadata:               s.Metadata,
	}
	if len(s.Items.Data) == 0 {
		return out
	}

	item := s.Items.Data[0]
	out.PriceID = item.Price.ID
	currency := item.Price.Currency
	if currency == "" {
		currency = s.Currency
	}
	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	out.Amount = minorUnits(item.Price.UnitAmount*quantity, currency)
	if out.Currency == "" {
		out.Currency = strings.ToUpper(currency)
	}
	// Newer API versions report the billing period per item.
	if out.CurrentPeriodStart == nil {
		out.CurrentPeriodStart = unixTimePtr(item.CurrentPeriodStart)
	}
	if out.CurrentPeriodEnd == nil {
		out.CurrentPeriodEnd = unixTimePtr(item.CurrentPeriodEnd)
	}
	return out
}

func (i stripeInvoice) toProvider() *subscriptiondomain.ProviderInvoice {
	out := &subscriptiondomain.ProviderInvoice{
		ExternalInvoiceID:      i.ID,
		ExternalSubscriptionID: objectID(i.Subscription),
		ExternalCustomerID:     objectID(i.Customer),
		AmountPaid:             minorUnits(i.AmountPaid, i.Currency),
		AmountDue:              minorUnits(i.AmountDue, i.Currency),
		Currency:               strings.ToUpper(i.Currency),
		AttemptCount:           i.AttemptCount,
		Metadata:               map[string]string{},
	}

	var subscriptionMeta map[string]string
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		if out.ExternalSubscriptionID == "" {
			out.ExternalSubscriptionID = objectID(i.Parent.SubscriptionDetails.Subscription)
		}
		subscriptionMeta = i.Parent.SubscriptionDetails.Metadata
	} else if i.SubscriptionDetails != nil {
		subscriptionMeta = i.SubscriptionDetails.Metadata
	}
	// Invoice metadata wins over what was copied from the subscription.
	for k, v := range subscriptionMeta {
		out.Metadata[k] = v
	}
	for k, v := range i.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// objectID reads an expandable field that is either "id" or {"id": ...}.
func objectID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// minorUnits converts a Stripe amount into a decimal in major units.
func minorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
