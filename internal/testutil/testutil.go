// Package testutil holds fixtures shared by package tests: a fake o!rdr
// push server and connections to optional backing services.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var databaseSeq atomic.Uint64

// Backends locates the optional services used by integration-style tests.
// Tests skip when a service is unreachable.
type Backends struct {
	RedisAddr   string
	MySQLDSN    string
	PostgresDSN string
}

// DefaultTestConfig reads ORDR_TEST_REDIS_ADDR, ORDR_TEST_MYSQL_DSN and
// ORDR_TEST_POSTGRES_DSN, falling back to local defaults.
func DefaultTestConfig() Backends {
	return Backends{
		RedisAddr:   envOr("ORDR_TEST_REDIS_ADDR", "localhost:6379"),
		MySQLDSN:    envOr("ORDR_TEST_MYSQL_DSN", "ordr:ordr@tcp(localhost:3306)/ordr_test?charset=utf8mb4&parseTime=True&loc=UTC"),
		PostgresDSN: envOr("ORDR_TEST_POSTGRES_DSN", "host=localhost port=5432 user=ordr password=ordr dbname=ordr_test sslmode=disable"),
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// NewTestRedisClient returns a client on DB 15, flushed before and after
// the test.
func NewTestRedisClient(t *testing.T, b Backends) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: b.RedisAddr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", b.RedisAddr, err)
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return client
}

// NewTestSQLiteDB opens an in-memory SQLite database private to the test.
func NewTestSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ordr-test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), databaseSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), quietGorm())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	closeOnCleanup(t, db)
	return db
}

// NewTestMySQLDB connects to MySQL or skips the test.
func NewTestMySQLDB(t *testing.T, b Backends) *gorm.DB {
	t.Helper()
	return openOrSkip(t, "MySQL", mysql.Open(b.MySQLDSN))
}

// NewTestPostgresDB connects to PostgreSQL or skips the test.
func NewTestPostgresDB(t *testing.T, b Backends) *gorm.DB {
	t.Helper()
	return openOrSkip(t, "PostgreSQL", postgres.Open(b.PostgresDSN))
}

func openOrSkip(t *testing.T, name string, dialector gorm.Dialector) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(dialector, quietGorm())
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	closeOnCleanup(t, db)
	return db
}

func quietGorm() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

func closeOnCleanup(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
}

// WaitForCondition polls condition every 10ms and fails the test with
// message if it is still false after timeout.
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v: %s", timeout, message)
}

// SkipIfShort skips tests that need external services under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
}
