package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// Options selects the relational store and which tables it owns.
type Options struct {
	URL string
	// LocalIdentity adds the auth_users table and the trigger that removes a
	// user's rows when the identity is deleted.
	LocalIdentity bool
}

// Open connects to the relational store named by the URL and migrates the
// schema. postgres:// and postgresql:// URLs use the postgres driver; anything
// else is treated as a SQLite path or DSN.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	url := strings.TrimSpace(options.URL)
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(Dialector(url), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == dialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, options, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Bool("local_identity", options.LocalIdentity),
	)
	return db, nil
}

// Dialector picks the gorm driver for a store URL.
func Dialector(url string) gorm.Dialector {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(url)
	}
	return sqlite.Open(strings.TrimPrefix(url, "sqlite://"))
}

// Migrate creates the schema and applies pending one-shot migrations.
func Migrate(db *gorm.DB, options Options, logger *zap.Logger) error {
	models := []any{
		&users.Profile{},
		&users.RoleAssignment{},
		&tasks.Task{},
		&tasks.Notification{},
		&migrationRecord{},
	}
	if options.LocalIdentity {
		models = append(models, &identity.Account{})
	}
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, migrationsFor(options), logger)
}
