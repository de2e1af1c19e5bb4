package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*settingsdomain.Settings, error) {
	var settings settingsdomain.Settings
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	settings.Persisted = true
	return &settings, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, settings *settingsdomain.Settings) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"default_due_days",
			"default_quote_validity_days",
			"seller_legal_name",
			"seller_tax_id",
			"seller_address",
			"jurisdiction",
			"currency",
			"updated_at",
		}),
	}).Create(settings).Error
}
