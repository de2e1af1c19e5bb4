package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type HistoryFilter struct {
	TenantID snowflake.ID
	Action   string
	AfterID  int64
	Limit    int
}

type Repository interface {
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalSubscriptionID string) (*Subscription, error)
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error

	InsertHistory(ctx context.Context, db *gorm.DB, entry *History) error
	ListHistory(ctx context.Context, db *gorm.DB, filter HistoryFilter) ([]History, error)

	FindProcessedEvent(ctx context.Context, db *gorm.DB, provider, eventID string) (*ProcessedEvent, error)
	InsertProcessedEvent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) error
}
