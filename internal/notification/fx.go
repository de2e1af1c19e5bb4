package notification

import (
	"github.com/smallbiznis/billingsync/internal/notification/service"
	"github.com/smallbiznis/billingsync/internal/notification/sink"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(sink.NewWebhookSinkFromConfig),
	fx.Provide(sink.NewAuditSink),
	fx.Provide(service.NewNotifier),
)
