package service

import (
	"context"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingsync/internal/config"
	plandomain "github.com/smallbiznis/billingsync/internal/plan/domain"
	"github.com/smallbiznis/billingsync/pkg/ierr"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Billing *config.BillingConfigHolder
}

// Service reads the catalogue from the billing config on every call so file
// reloads take effect without a restart.
type Service struct {
	billing *config.BillingConfigHolder
}

func NewService(p Params) plandomain.Service {
	return &Service{billing: p.Billing}
}

func (s *Service) Get(_ context.Context, planID string) (*plandomain.Plan, error) {
	planID = strings.TrimSpace(planID)
	cfg, ok := lo.Find(s.billing.Get().Plans, func(p config.PlanConfig) bool {
		return p.ID == planID
	})
	if !ok {
		return nil, ierr.WithError(plandomain.ErrPlanNotFound).
			WithHintf("plan %q does not exist", planID).
			Mark(ierr.ErrNotFound)
	}
	plan := toPlan(cfg)
	return &plan, nil
}

func (s *Service) List(context.Context) ([]plandomain.Plan, error) {
	plans := lo.Map(s.billing.Get().Plans, func(p config.PlanConfig, _ int) plandomain.Plan {
		return toPlan(p)
	})
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].PriceMonthly.LessThan(plans[j].PriceMonthly)
	})
	return plans, nil
}

func (s *Service) FindByProviderPriceID(_ context.Context, priceID string) (*plandomain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, plandomain.ErrPlanNotFound
	}
	cfg, ok := lo.Find(s.billing.Get().Plans, func(p config.PlanConfig) bool {
		return p.ProviderPriceID == priceID
	})
	if !ok {
		return nil, plandomain.ErrPlanNotFound
	}
	plan := toPlan(cfg)
	return &plan, nil
}

func toPlan(cfg config.PlanConfig) plandomain.Plan {
	// prices are validated when the config is loaded
	price, _ := decimal.NewFromString(strings.TrimSpace(cfg.PriceMonthly))
	return plandomain.Plan{
		ID:              cfg.ID,
		DisplayName:     cfg.DisplayName,
		PriceMonthly:    price,
		Currency:        strings.ToUpper(cfg.Currency),
		ProviderPriceID: cfg.ProviderPriceID,
	}
}
