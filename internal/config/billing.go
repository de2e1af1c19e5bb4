package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig is the hot-reloadable part of the configuration: tenant
// defaults and the plan catalogue.
type BillingConfig struct {
	Defaults BillingDefaults `mapstructure:"defaults"`
	Plans    []PlanConfig    `mapstructure:"plans"`
}

type BillingDefaults struct {
	DueDays           int    `mapstructure:"due_days"`
	QuoteValidityDays int    `mapstructure:"quote_validity_days"`
	Jurisdiction      string `mapstructure:"jurisdiction"`
	Currency          string `mapstructure:"currency"`
}

type PlanConfig struct {
	ID              string `mapstructure:"id"`
	DisplayName     string `mapstructure:"display_name"`
	PriceMonthly    string `mapstructure:"price_monthly"`
	Currency        string `mapstructure:"currency"`
	ProviderPriceID string `mapstructure:"provider_price_id"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Defaults: BillingDefaults{
			DueDays:           30,
			QuoteValidityDays: 30,
			Jurisdiction:      "default",
			Currency:          "EUR",
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed config, without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(cfg Config, log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing-config")
	v := viper.New()

	if cfg.BillingConfigPath != "" {
		v.SetConfigFile(cfg.BillingConfigPath)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/billingsync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BILLINGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaults.due_days", defaults.Defaults.DueDays)
	v.SetDefault("billing.defaults.quote_validity_days", defaults.Defaults.QuoteValidityDays)
	v.SetDefault("billing.defaults.jurisdiction", defaults.Defaults.Jurisdiction)
	v.SetDefault("billing.defaults.currency", defaults.Defaults.Currency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		log.Warn("billing config file not found, using defaults")
	}

	var billing BillingConfig
	if err := v.UnmarshalKey("billing", &billing); err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(billing); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(billing)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Error("reload failed", zap.Error(err))
			return
		}
		if err := ValidateBillingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", filepath.Base(e.Name)), zap.Int("plans", len(updated.Plans)))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if cfg.Defaults.DueDays < 0 {
		return errors.New("billing.defaults.due_days cannot be negative")
	}
	if cfg.Defaults.QuoteValidityDays < 0 {
		return errors.New("billing.defaults.quote_validity_days cannot be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Plans))
	for i, plan := range cfg.Plans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return fmt.Errorf("billing.plans[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("billing.plans[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		price, err := decimal.NewFromString(strings.TrimSpace(plan.PriceMonthly))
		if err != nil {
			return fmt.Errorf("billing.plans[%d].price_monthly: %w", i, err)
		}
		if price.IsNegative() {
			return fmt.Errorf("billing.plans[%d].price_monthly cannot be negative", i)
		}
	}
	return nil
}
