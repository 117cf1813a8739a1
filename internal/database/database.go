package database

import (
	"fmt"

	"github.com/ksred/pulse-api/internal/config"
	"github.com/ksred/pulse-api/internal/database/migrations"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection.
// A postgres DSN selects postgres, which is required in production for
// FOR UPDATE SKIP LOCKED claim semantics; otherwise a local sqlite file
// is used for development.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	if cfg.DatabaseDSN != "" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.DatabasePath), gormCfg)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate runs all schema migrations
func Migrate(db *gorm.DB) error {
	if err := migrations.AddOrderTables(db); err != nil {
		return err
	}

	return migrations.AddBrokerEvents(db)
}
