package payment

import (
	"github.com/smallbiznis/billingsync/internal/payment/adapters"
	"github.com/smallbiznis/billingsync/internal/payment/adapters/stripe"
	"github.com/smallbiznis/billingsync/internal/payment/repository"
	"github.com/smallbiznis/billingsync/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(stripe.ProvideGateway),
	fx.Provide(webhook.NewService),
)
