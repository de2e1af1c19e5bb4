package sink

import (
	"context"

	auditdomain "github.com/smallbiznis/billingsync/internal/audit/domain"
	notificationdomain "github.com/smallbiznis/billingsync/internal/notification/domain"
)

// AuditSink records every event in the tenant's audit trail.
type AuditSink struct {
	audit auditdomain.Service
}

func NewAuditSink(audit auditdomain.Service) *AuditSink {
	return &AuditSink{audit: audit}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Send(ctx context.Context, event notificationdomain.Event) error {
	if s == nil || s.audit == nil {
		return nil
	}
	metadata := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		metadata[k] = v
	}
	metadata["event_id"] = event.ID

	return s.audit.AuditLog(ctx, auditdomain.Entry{
		TenantID:   event.TenantID,
		ActorType:  event.Actor.Type,
		ActorID:    event.Actor.ID,
		Action:     event.Type,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Metadata:   metadata,
	})
}
