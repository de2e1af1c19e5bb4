package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(db.WithContext(ctx).Where("tenant_id = ?", tenantID))
}

func (r *repo) FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID))
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(db.WithContext(ctx).
		Where("provider = ? AND external_subscription_id = ?", provider, externalSubscriptionID))
}

func (r *repo) findOne(stmt *gorm.DB) (*subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	if err := stmt.Limit(1).Find(&subs).Error; err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

// Upsert inserts the row, or overwrites the tenant's row when another writer
// inserted it first. The stored id and created_at are kept.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id",
			"provider",
			"external_customer_id",
			"external_subscription_id",
			"status",
			"amount",
			"currency",
			"current_period_start",
			"current_period_end",
			"trial_end",
			"canceled_at",
			"ended_at",
			"last_payment_at",
			"last_event_at",
			"metadata",
			"updated_at",
		}),
	}).Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			plan_id = ?, provider = ?, external_customer_id = ?, external_subscription_id = ?,
			status = ?, amount = ?, currency = ?,
			current_period_start = ?, current_period_end = ?, trial_end = ?,
			canceled_at = ?, ended_at = ?, last_payment_at = ?, last_event_at = ?,
			metadata = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		sub.PlanID,
		sub.Provider,
		sub.ExternalCustomerID,
		sub.ExternalSubscriptionID,
		sub.Status,
		sub.Amount,
		sub.Currency,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialEnd,
		sub.CanceledAt,
		sub.EndedAt,
		sub.LastPaymentAt,
		sub.LastEventAt,
		sub.Metadata,
		sub.UpdatedAt,
		sub.TenantID,
		sub.ID,
	).Error
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *subscriptiondomain.History) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, filter subscriptiondomain.HistoryFilter) ([]subscriptiondomain.History, error) {
	stmt := db.WithContext(ctx).Model(&subscriptiondomain.History{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.Action != "" {
		stmt = stmt.Where("action = ?", filter.Action)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}

	var items []subscriptiondomain.History
	err := stmt.Order("id DESC").Limit(filter.Limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) FindProcessedEvent(ctx context.Context, db *gorm.DB, provider, eventID string) (*subscriptiondomain.ProcessedEvent, error) {
	var events []subscriptiondomain.ProcessedEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) InsertProcessedEvent(ctx context.Context, db *gorm.DB, event *subscriptiondomain.ProcessedEvent) error {
	return db.WithContext(ctx).Create(event).Error
}
