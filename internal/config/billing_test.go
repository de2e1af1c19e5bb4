package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const billingYAML = `
billing:
  defaults:
    due_days: 14
    quote_validity_days: 45
    jurisdiction: FR
    currency: EUR
  plans:
    - id: starter
      display_name: Starter
      price_monthly: "29"
      currency: EUR
      provider_price_id: price_starter
    - id: pro
      display_name: Pro
      price_monthly: "99.00"
      currency: EUR
      provider_price_id: price_pro
`

func TestNewBillingConfigHolder_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yml")
	require.NoError(t, os.WriteFile(path, []byte(billingYAML), 0o600))

	holder, err := NewBillingConfigHolder(Config{BillingConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 14, cfg.Defaults.DueDays)
	assert.Equal(t, 45, cfg.Defaults.QuoteValidityDays)
	assert.Equal(t, "FR", cfg.Defaults.Jurisdiction)
	require.Len(t, cfg.Plans, 2)
	assert.Equal(t, "price_pro", cfg.Plans[1].ProviderPriceID)
}

func TestValidateBillingConfig(t *testing.T) {
	ok := DefaultBillingConfig()
	ok.Plans = []PlanConfig{{ID: "starter", PriceMonthly: "29"}}
	assert.NoError(t, ValidateBillingConfig(ok))

	cases := map[string]BillingConfig{
		"negative due days": {Defaults: BillingDefaults{DueDays: -1}},
		"missing id":        {Plans: []PlanConfig{{PriceMonthly: "1"}}},
		"duplicate id":      {Plans: []PlanConfig{{ID: "a", PriceMonthly: "1"}, {ID: "a", PriceMonthly: "2"}}},
		"bad price":         {Plans: []PlanConfig{{ID: "a", PriceMonthly: "abc"}}},
		"negative price":    {Plans: []PlanConfig{{ID: "a", PriceMonthly: "-5"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateBillingConfig(cfg))
		})
	}
}

func TestLoad_PlatformTenant(t *testing.T) {
	t.Setenv("PLATFORM_TENANT_ID", "1234")
	t.Setenv("SUBSCRIPTION_PAYMENT_HEALS_STATUS", "false")

	cfg := Load()
	assert.Equal(t, int64(1234), cfg.PlatformTenantID)
	assert.False(t, cfg.SubscriptionPaymentHealsStatus)
	assert.Equal(t, "stripe", cfg.PaymentProvider)
}
