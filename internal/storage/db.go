package storage

import (
	"fmt"

	"supportchat/backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openRequestsIndex enforces "at most one non-resolved request per conversation".
// The partial index syntax is shared by PostgreSQL and SQLite.
const openRequestsIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_support_requests_open
	ON support_requests (conversation_id) WHERE status <> 'resolved'`

// Open connects to the configured database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; one connection avoids "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.SupportRequest{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := db.Exec(openRequestsIndex).Error; err != nil {
		return fmt.Errorf("failed to create open request index: %w", err)
	}
	return nil
}
