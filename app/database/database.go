package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swipe/offline-catalog/models"
)

// SchemaVersion is bumped whenever StoredProduct changes shape. A mismatch
// drops the products table; the data is only a cache plus a short-lived
// pending queue.
const SchemaVersion = 1

type schemaMeta struct {
	ID      uint `gorm:"primaryKey"`
	Version int  `gorm:"not null"`
}

func (schemaMeta) TableName() string {
	return "schema_meta"
}

// Open connects to the configured driver and prepares the schema.
func Open(driver, dsn string, log *logrus.Entry) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if driver == "sqlite" {
		// One connection serializes writers and keeps in-memory databases alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(25)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := EnsureSchema(db, SchemaVersion); err != nil {
		return nil, err
	}

	log.WithField("driver", driver).Info("local store ready")
	return db, nil
}

// EnsureSchema creates the tables, recreating products when the stored
// schema version differs from version.
func EnsureSchema(db *gorm.DB, version int) error {
	if err := db.AutoMigrate(&schemaMeta{}); err != nil {
		return fmt.Errorf("failed to migrate schema_meta: %w", err)
	}

	var meta schemaMeta
	err := db.First(&meta, 1).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case meta.Version != version:
		if err := db.Migrator().DropTable(&models.StoredProduct{}); err != nil {
			return fmt.Errorf("failed to drop products table: %w", err)
		}
	}

	if err := db.AutoMigrate(&models.StoredProduct{}); err != nil {
		return fmt.Errorf("failed to migrate products: %w", err)
	}
	if err := db.Save(&schemaMeta{ID: 1, Version: version}).Error; err != nil {
		return fmt.Errorf("failed to store schema version: %w", err)
	}
	return nil
}

// OpenInMemory opens a private in-memory sqlite store, used by tests and
// throwaway demo runs.
func OpenInMemory(log *logrus.Entry) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return Open("sqlite", dsn, log)
}
