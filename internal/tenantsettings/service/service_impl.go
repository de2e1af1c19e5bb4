package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingsync/internal/clock"
	"github.com/smallbiznis/billingsync/internal/config"
	settingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	"github.com/smallbiznis/billingsync/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    settingsdomain.Repository
	Billing *config.BillingConfigHolder
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    settingsdomain.Repository
	billing *config.BillingConfigHolder
	clock   clock.Clock
}

func NewService(p Params) settingsdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tenantsettings.service"),
		repo:    p.Repo,
		billing: p.Billing,
		clock:   p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*settingsdomain.Settings, error) {
	return s.GetTx(ctx, s.db, tenantID)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*settingsdomain.Settings, error) {
	if tenantID == 0 {
		return nil, settingsdomain.ErrInvalidTenant
	}
	settings, err := s.repo.FindByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		return settings, nil
	}
	return s.defaults(tenantID), nil
}

func (s *Service) Upsert(ctx context.Context, tenantID snowflake.ID, req settingsdomain.UpsertRequest) (*settingsdomain.Settings, error) {
	if tenantID == 0 {
		return nil, settingsdomain.ErrInvalidTenant
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var out *settingsdomain.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.GetTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		applyUpsert(current, req)

		now := s.clock.Now()
		if !current.Persisted {
			current.CreatedAt = now
		}
		current.UpdatedAt = now
		if err := s.repo.Upsert(ctx, tx, current); err != nil {
			return err
		}
		current.Persisted = true
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant billing settings updated", zap.String("tenant_id", tenantID.String()))
	return out, nil
}

func (s *Service) defaults(tenantID snowflake.ID) *settingsdomain.Settings {
	d := s.billing.Get().Defaults
	return &settingsdomain.Settings{
		TenantID:                 tenantID,
		DefaultDueDays:           d.DueDays,
		DefaultQuoteValidityDays: d.QuoteValidityDays,
		Jurisdiction:             d.Jurisdiction,
		Currency:                 d.Currency,
	}
}

func applyUpsert(s *settingsdomain.Settings, req settingsdomain.UpsertRequest) {
	if req.DefaultDueDays != nil {
		s.DefaultDueDays = *req.DefaultDueDays
	}
	if req.DefaultQuoteValidityDays != nil {
		s.DefaultQuoteValidityDays = *req.DefaultQuoteValidityDays
	}
	if req.SellerLegalName != nil {
		s.SellerLegalName = strings.TrimSpace(*req.SellerLegalName)
	}
	if req.SellerTaxID != nil {
		s.SellerTaxID = strings.TrimSpace(*req.SellerTaxID)
	}
	if req.SellerAddress != nil {
		s.SellerAddress = strings.TrimSpace(*req.SellerAddress)
	}
	if req.Jurisdiction != nil {
		s.Jurisdiction = strings.ToUpper(strings.TrimSpace(*req.Jurisdiction))
	}
	if req.Currency != nil {
		s.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
}
