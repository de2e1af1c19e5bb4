package service

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
	"github.com/smallbiznis/billingsync/internal/notification/sink"
	"github.com/smallbiznis/billingsync/internal/observability/metrics"
	"github.com/smallbiznis/billingsync/pkg/tenantctx"
	"github.com/sourcegraph/conc"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Webhook   *sink.WebhookSink
	Audit     *sink.AuditSink
	Metrics   *metrics.Metrics `optional:"true"`
}

type Notifier struct {
	log     *zap.Logger
	clock   clock.Clock
	sinks   []notificationdomain.Sink
	metrics *metrics.Metrics
	timeout time.Duration

	inflight sync.WaitGroup
}

func NewNotifier(p Params) notificationdomain.Notifier {
	sinks := []notificationdomain.Sink{p.Audit}
	if p.Webhook.Enabled() {
		sinks = append(sinks, p.Webhook)
	}
	n := New(p.Log, p.Clock, p.Metrics, p.Config.NotificationTimeout, sinks...)
	p.Lifecycle.Append(fx.Hook{OnStop: n.Wait})
	return n
}

func New(log *zap.Logger, clk clock.Clock, m *metrics.Metrics, timeout time.Duration, sinks ...notificationdomain.Sink) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Notifier{
		log:     log.Named("notification.service"),
		clock:   clk,
		sinks:   sinks,
		metrics: m,
		timeout: timeout,
	}
}

// Notify hands event to every sink in the background and returns at once.
// Delivery is bounded by the notifier timeout and survives cancellation of
// ctx; failures are logged and never reach the caller.
func (n *Notifier) Notify(ctx context.Context, event notificationdomain.Event) {
	if len(n.sinks) == 0 {
		return
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = n.clock.Now()
	}
	if event.TenantID == 0 {
		event.TenantID, _ = tenantctx.TenantID(ctx)
	}
	if event.Actor.Type == "" {
		event.Actor = tenantctx.ActorFromContext(ctx)
	}

	deliverCtx := context.WithoutCancel(ctx)
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.deliver(deliverCtx, event)
	}()
}

// Wait blocks until every accepted event has been delivered or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) deliver(ctx context.Context, event notificationdomain.Event) {
	deliverCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var wg conc.WaitGroup
	for _, s := range n.sinks {
		if s == nil {
			continue
		}
		wg.Go(func() {
			if err := s.Send(deliverCtx, event); err != nil {
				n.metrics.RecordNotificationError(deliverCtx, s.Name())
				n.log.Warn("notification delivery failed",
					zap.String("sink", s.Name()),
					zap.String("event_id", event.ID),
					zap.String("event_type", event.Type),
					zap.String("tenant_id", event.TenantID.String()),
					zap.Error(err),
				)
			}
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		n.log.Error("notification sink panicked",
			zap.String("event_type", event.Type),
			zap.String("panic", recovered.String()),
		)
	}
}
