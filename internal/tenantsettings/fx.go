package tenantsettings

import (
	"github.com/smallbiznis/billingsync/internal/tenantsettings/repository"
	"github.com/smallbiznis/billingsync/internal/tenantsettings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenantsettings.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
