package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/agora-labs/agora/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var errMissingDSN = errors.New("database dsn is required")

// Config selects the storage engine.
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the configured engine, normalizes legacy rows and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errMissingDSN
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if normalizeDriver(cfg.Driver) == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", normalizeDriver(cfg.Driver)))
	return db, nil
}

// Migrate applies pending data migrations and then brings every table up to date.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return fmt.Errorf("migrate migration ledger: %w", err)
	}
	if err := applyMigrations(db, logger); err != nil {
		return fmt.Errorf("apply data migrations: %w", err)
	}

	models := append([]any{&notes.Note{}}, chemistry.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func normalizeDriver(driver string) string {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if normalized == "" {
		return DriverSQLite
	}
	return normalized
}

// SupportedDriver reports whether driver names a known engine. Empty means sqlite.
func SupportedDriver(driver string) bool {
	switch normalizeDriver(driver) {
	case DriverSQLite, DriverPostgres, DriverMySQL:
		return true
	default:
		return false
	}
}
