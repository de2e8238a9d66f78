// Package dal holds every database operation the bot performs. Functions take
// the *gorm.DB last so callers can pass a transaction or the pool.
package dal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cakeday/config"
	"cakeday/models"
)

const (
	// ErrNotFound is returned when a read, toggle or clear targets a record
	// that does not exist.
	ErrNotFound = errors.ConstError("not found")

	// ErrStorageUnavailable wraps any failure coming from the database itself.
	ErrStorageUnavailable = errors.ConstError("storage unavailable")
)

// Open connects to the configured database, retrying with backoff until it
// answers a ping, then migrates the schema.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.RetryDelay),
		backoff.WithMaxInterval(4*cfg.RetryDelay),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, cfg.ConnectRetries), ctx)

	db, err := backoff.RetryNotifyWithData(func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger: NewGormLogger(log, 200*time.Millisecond),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return db, nil
	}, policy, func(err error, wait time.Duration) {
		log.Warn("Database not ready, retrying",
			zap.String("driver", cfg.Driver),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrStorageUnavailable, cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storageError(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	log.Info("Connected to database", zap.String("driver", cfg.Driver))

	if err := Migrate(ctx, db); err != nil {
		sqlDB.Close()
		return nil, err
	}
	log.Info("Migrated database")

	return db, nil
}

// Migrate creates or updates the tables for every model.
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&models.Birthday{},
		&models.Setting{},
		&models.Announcement{},
	)
	if err != nil {
		return fmt.Errorf("%w: migrating: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return storageError(err)
	}
	return storageError(sqlDB.Close())
}

func dialectorFor(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		return sqlite.Open(cfg.DSN), nil
	case config.DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	}
	return nil, errors.Annotatef(config.ErrUnknownDriver, "%q", cfg.Driver)
}

// ensureDir creates the parent directory of a sqlite database file.
func ensureDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Annotatef(err, "creating %s", dir)
	}
	return nil
}

// storageError maps gorm errors onto the package taxonomy.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
