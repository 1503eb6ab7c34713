package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCascadeIdentityDelete = "2026-10-01_cascade_identity_delete"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrationsFor(options Options) []migrationDefinition {
	var migrations []migrationDefinition
	if options.LocalIdentity {
		migrations = append(migrations, migrationDefinition{name: migrationCascadeIdentityDelete, apply: installIdentityCascade})
	}
	return migrations
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Deleting an identity removes its profile, role rows and notifications, and
// unassigns its tasks.
var identityCascadeStatements = map[string][]string{
	dialectSQLite: {
		`CREATE TRIGGER IF NOT EXISTS auth_users_cascade_delete
AFTER DELETE ON auth_users
FOR EACH ROW
BEGIN
	DELETE FROM user_roles WHERE user_id = OLD.id;
	DELETE FROM profiles WHERE user_id = OLD.id;
	DELETE FROM notifications WHERE user_id = OLD.id;
	UPDATE tasks SET assigned_to = NULL WHERE assigned_to = OLD.id;
END`,
	},
	dialectPostgres: {
		`CREATE OR REPLACE FUNCTION taskflow_cascade_identity_delete() RETURNS trigger AS $$
BEGIN
	DELETE FROM user_roles WHERE user_id = OLD.id;
	DELETE FROM profiles WHERE user_id = OLD.id;
	DELETE FROM notifications WHERE user_id = OLD.id;
	UPDATE tasks SET assigned_to = NULL WHERE assigned_to = OLD.id;
	RETURN OLD;
END;
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS auth_users_cascade_delete ON auth_users`,
		`CREATE TRIGGER auth_users_cascade_delete AFTER DELETE ON auth_users FOR EACH ROW EXECUTE FUNCTION taskflow_cascade_identity_delete()`,
	},
}

func installIdentityCascade(db *gorm.DB) error {
	statements, ok := identityCascadeStatements[db.Dialector.Name()]
	if !ok {
		return fmt.Errorf("identity cascade unsupported for dialect %q", db.Dialector.Name())
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
