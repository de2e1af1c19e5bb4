package numbering

import (
	"github.com/smallbiznis/billingsync/internal/numbering/repository"
	"github.com/smallbiznis/billingsync/internal/numbering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("numbering.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
