package plan

import (
	"github.com/smallbiznis/billingsync/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(service.NewService),
)
