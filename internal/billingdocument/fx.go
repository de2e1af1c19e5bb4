package billingdocument

import (
	"github.com/smallbiznis/billingsync/internal/billingdocument/repository"
	"github.com/smallbiznis/billingsync/internal/billingdocument/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingdocument.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
