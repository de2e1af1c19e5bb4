package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() numberingdomain.Repository {
	return &repo{}
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, documentType, period string, now time.Time) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO document_number_sequences (tenant_id, document_type, period, last_value, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT (tenant_id, document_type, period)
		 DO UPDATE SET last_value = document_number_sequences.last_value + 1, updated_at = excluded.updated_at
		 RETURNING last_value`,
		tenantID, documentType, period, now, now,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}
