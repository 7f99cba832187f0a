// Package journal persists received render events in a SQL database.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jrjohn/ordr-go/pkg/logger"
)

// Driver names a supported database
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

const defaultRecentLimit = 50

// Config holds journal configuration
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DefaultConfig returns default journal configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Driver:          string(DriverSQLite),
		DSN:             "ordr-events.db",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// Journal stores and queries EventRecords
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg *Config, log *zap.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch Driver(cfg.Driver) {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.OrNop(log).Info("Journal database connected", zap.String("driver", cfg.Driver))
	return New(db, log)
}

// New wraps an open database and migrates the schema.
func New(db *gorm.DB, log *zap.Logger) (*Journal, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &Journal{db: db, logger: logger.OrNop(log)}, nil
}

// Record stores one event. The render id is read from the payload when
// present.
func (j *Journal) Record(ctx context.Context, channel string, payload json.RawMessage, receivedAt time.Time) (*EventRecord, error) {
	var ids struct {
		RenderID int `json:"renderID"`
	}
	_ = json.Unmarshal(payload, &ids)

	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	record := &EventRecord{
		Channel:    channel,
		RenderID:   ids.RenderID,
		Payload:    string(payload),
		ReceivedAt: receivedAt.UTC(),
	}
	if err := j.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to record %s event: %w", channel, err)
	}
	return record, nil
}

// Tap adapts Record to the client's raw event observer. Failures are
// logged since the push goroutine has no caller to return them to.
func (j *Journal) Tap() func(ctx context.Context, channel string, payload json.RawMessage) {
	return func(ctx context.Context, channel string, payload json.RawMessage) {
		if _, err := j.Record(ctx, channel, payload, time.Now()); err != nil {
			j.logger.Error("journal write failed", logger.Channel(channel), zap.Error(err))
		}
	}
}

// Recent returns the latest events, newest first. A non-positive limit
// uses the default of 50.
func (j *Journal) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var records []EventRecord
	err := j.db.WithContext(ctx).
		Order("received_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ByRender returns the events of one render in arrival order.
func (j *Journal) ByRender(ctx context.Context, renderID int) ([]EventRecord, error) {
	var records []EventRecord
	err := j.db.WithContext(ctx).
		Where("render_id = ?", renderID).
		Order("received_at ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var count int64
	err := j.db.WithContext(ctx).Model(&EventRecord{}).Count(&count).Error
	return count, err
}

// Prune deletes events received before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := j.db.WithContext(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&EventRecord{})
	return result.RowsAffected, result.Error
}

// Close closes the underlying connection pool
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
