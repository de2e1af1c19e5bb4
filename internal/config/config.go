package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	// PlatformTenantID identifies the operator's own tenant. Requests resolved
	// to this tenant may use the admin routes.
	PlatformTenantID int64

	// SnowflakeNode must be unique per running replica.
	SnowflakeNode int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	BillingConfigPath string

	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string

	WorkflowWebhookURL    string
	WorkflowWebhookSecret string
	NotificationTimeout   time.Duration

	// SubscriptionPaymentHealsStatus forces a subscription back to active on
	// a successful payment, whatever status the provider reported.
	SubscriptionPaymentHealsStatus bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:          getenv("APP_SERVICE", "billingsync"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		HTTPPort:         getenv("HTTP_PORT", "8080"),
		PlatformTenantID: getenvInt64("PLATFORM_TENANT_ID", 0),
		SnowflakeNode:    getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billingsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "billingsync.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		BillingConfigPath: strings.TrimSpace(getenv("BILLING_CONFIG_PATH", "")),

		PaymentProvider:     strings.ToLower(strings.TrimSpace(getenv("PAYMENT_PROVIDER", "stripe"))),
		StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),

		WorkflowWebhookURL:    strings.TrimSpace(getenv("WORKFLOW_WEBHOOK_URL", "")),
		WorkflowWebhookSecret: strings.TrimSpace(getenv("WORKFLOW_WEBHOOK_SECRET", "")),
		NotificationTimeout:   time.Duration(getenvInt("NOTIFICATION_TIMEOUT_SECONDS", 5)) * time.Second,

		SubscriptionPaymentHealsStatus: getenvBool("SUBSCRIPTION_PAYMENT_HEALS_STATUS", true),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}
