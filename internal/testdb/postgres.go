package testdb

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// EnvPostgresDSN names a scratch Postgres database for the tests that need real
// row locks. Those tests skip when it is unset.
const EnvPostgresDSN = "LIBRARY_TEST_POSTGRES_DSN"

// Statements collects the SQL a dry-run connection would have sent.
type Statements struct {
	mu   sync.Mutex
	sqls []string
}

func (s *Statements) record(db *gorm.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sqls = append(s.sqls, db.Statement.SQL.String())
}

// All returns the recorded queries in order.
func (s *Statements) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sqls...)
}

// Last returns the most recent query, or "" when nothing ran.
func (s *Statements) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sqls) == 0 {
		return ""
	}
	return s.sqls[len(s.sqls)-1]
}

// PostgresDryRun returns a connection that renders SQL with the Postgres
// dialect without ever dialing a server. Every query it builds is recorded.
func PostgresDryRun(t testing.TB) (*gorm.DB, *Statements) {
	t.Helper()
	conn, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=library dbname=library sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open postgres dry run: %v", err)
	}

	stmts := &Statements{}
	if err := conn.Callback().Query().After("gorm:query").Register("testdb:record", stmts.record); err != nil {
		t.Fatalf("register query recorder: %v", err)
	}
	return conn, stmts
}

// OpenPostgres connects to the database named by EnvPostgresDSN, or skips the
// test when none is configured. The caller owns the schema.
func OpenPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvPostgresDSN)
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
