package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/billingsync/internal/audit/domain"
	billingdocumentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	numberingdomain "github.com/smallbiznis/billingsync/internal/numbering/domain"
	paymentdomain "github.com/smallbiznis/billingsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	tenantsettingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, for AutoMigrate on sqlite.
func Models() []any {
	return []any{
		&tenantsettingsdomain.Settings{},
		&numberingdomain.Sequence{},
		&billingdocumentdomain.Document{},
		&billingdocumentdomain.Item{},
		&auditdomain.AuditLog{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.History{},
		&subscriptiondomain.ProcessedEvent{},
		&paymentdomain.EventRecord{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files;
// sqlite, used for local runs, is migrated from the models.
func Run(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "sqlite":
		return conn.AutoMigrate(Models()...)
	case "postgres", "":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	default:
		return fmt.Errorf("unsupported database type %q", dbType)
	}
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
