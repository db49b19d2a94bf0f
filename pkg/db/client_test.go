package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicky"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	}()

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic rollback to leave 0 records, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := FromConn(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNew_OpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    "file:db_new_test?mode=memory&cache=shared",
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: "oracle", DSN: "x"}, nil); err == nil {
		t.Fatalf("expected unknown driver to be rejected")
	}
	if _, err := New(context.Background(), config.DBConfig{}, nil); err == nil {
		t.Fatalf("expected empty DSN to be rejected")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := db.Create(&testModel{Name: "dup"}).Error
	if err == nil {
		t.Fatalf("expected unique violation from sqlite")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("sqlite unique error not classified: %v", err)
	}

	pgErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "loans_one_active_per_user_book"})
	if !IsUniqueViolation(pgErr, "loans_one_active_per_user_book") {
		t.Fatalf("pgconn unique error not classified")
	}
	if IsUniqueViolation(pgErr, "users_email_key") {
		t.Fatalf("constraint filter should not match a different constraint")
	}
	if IsUniqueViolation(err, "loans_one_active_per_user_book") {
		t.Fatalf("a test_models collision is not the active loan index: %v", err)
	}

	activeLoan := errors.New("UNIQUE constraint failed: loans.user_id, loans.book_id")
	if !IsUniqueViolation(activeLoan, "loans_one_active_per_user_book") {
		t.Fatalf("sqlite column list should map to the active loan index")
	}
	if IsUniqueViolation(errors.New("UNIQUE constraint failed: loans.id"), "loans_one_active_per_user_book") {
		t.Fatalf("primary key collision matched the active loan index")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "loans_pkey"}, "loans_one_active_per_user_book") {
		t.Fatalf("postgres primary key collision matched the active loan index")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil is never a violation")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "pgx serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pgx deadlock", err: fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "pq serialization", err: &pq.Error{Code: "40001"}, want: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain", err: errors.New("40001"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSerializationFailure(tc.err); got != tc.want {
				t.Fatalf("IsSerializationFailure(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsCheckViolation(t *testing.T) {
	if !IsCheckViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatalf("expected pg check violation")
	}
	if !IsCheckViolation(errors.New("CHECK constraint failed: quantity >= 0")) {
		t.Fatalf("expected sqlite check violation")
	}
	if IsCheckViolation(errors.New("other")) {
		t.Fatalf("unexpected check violation")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503", ConstraintName: "loans_user_id_fkey"}) {
		t.Fatalf("expected pg foreign key violation")
	}
	if !IsForeignKeyViolation(errors.New("FOREIGN KEY constraint failed")) {
		t.Fatalf("expected sqlite foreign key violation")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}) || IsForeignKeyViolation(nil) {
		t.Fatalf("unexpected foreign key violation")
	}
}

func TestIsUniqueViolationMapsUserColumns(t *testing.T) {
	err := errors.New("UNIQUE constraint failed: users.email")
	if !IsUniqueViolation(err, "users_email_key") {
		t.Fatalf("expected sqlite email collision to match users_email_key")
	}
	if IsUniqueViolation(err, "users_username_key") {
		t.Fatalf("email collision must not match users_username_key")
	}
}
