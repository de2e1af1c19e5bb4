package service

import (
	"context"
	"testing"

	"github.com/smallbiznis/billingsync/internal/config"
	plandomain "github.com/smallbiznis/billingsync/internal/plan/domain"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogue() *config.BillingConfigHolder {
	cfg := config.DefaultBillingConfig()
	cfg.Plans = []config.PlanConfig{
		{ID: "pro", DisplayName: "Pro", PriceMonthly: "99", Currency: "eur", ProviderPriceID: "price_pro"},
		{ID: "starter", DisplayName: "Starter", PriceMonthly: "29", Currency: "eur", ProviderPriceID: "price_starter"},
	}
	return config.NewStaticBillingConfigHolder(cfg)
}

func TestGet(t *testing.T) {
	svc := NewService(Params{Billing: catalogue()})

	plan, err := svc.Get(context.Background(), "starter")
	require.NoError(t, err)
	assert.Equal(t, "Starter", plan.DisplayName)
	assert.Equal(t, "29", plan.PriceMonthly.String())
	assert.Equal(t, "EUR", plan.Currency)

	_, err = svc.Get(context.Background(), "enterprise")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
	assert.True(t, ierr.IsNotFound(err))
	assert.Contains(t, ierr.Hint(err), "enterprise")
}

func TestList_SortedByPrice(t *testing.T) {
	svc := NewService(Params{Billing: catalogue()})

	plans, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "starter", plans[0].ID)
	assert.Equal(t, "pro", plans[1].ID)
}

func TestFindByProviderPriceID(t *testing.T) {
	svc := NewService(Params{Billing: catalogue()})

	plan, err := svc.FindByProviderPriceID(context.Background(), "price_pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.ID)

	_, err = svc.FindByProviderPriceID(context.Background(), "")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
	_, err = svc.FindByProviderPriceID(context.Background(), "price_unknown")
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}
