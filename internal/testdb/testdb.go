// Package testdb builds throwaway sqlite databases carrying the library schema
// for repository and service tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'member',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE authors (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE publishers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE books (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  author_id TEXT NOT NULL REFERENCES authors(id),
  publisher_id TEXT REFERENCES publishers(id),
  quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE book_continuations (
  book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
  continuation_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
  created_at DATETIME,
  PRIMARY KEY (book_id, continuation_id),
  CHECK (book_id <> continuation_id)
);`,
	`CREATE TABLE loans (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id),
  book_id TEXT NOT NULL REFERENCES books(id),
  loan_date DATETIME NOT NULL,
  due_date DATETIME NOT NULL,
  returned_at DATETIME,
  created_at DATETIME,
  CHECK (due_date > loan_date)
);`,
	`CREATE UNIQUE INDEX loans_one_active_per_user_book ON loans (user_id, book_id) WHERE returned_at IS NULL;`,
}

// Open returns a private in-memory database for the calling test. The pool is
// pinned to one connection so concurrent transactions queue instead of racing
// on sqlite's file lock.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// MustUser inserts a member with a unique username.
func MustUser(t testing.TB, conn *gorm.DB) *models.User {
	t.Helper()
	suffix := uuid.NewString()[:8]
	user := &models.User{
		Username:     "reader_" + suffix,
		Email:        fmt.Sprintf("reader_%s@example.com", suffix),
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "Reader",
		Role:         enums.UserRoleMember,
		IsActive:     true,
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// MustAuthor inserts an author.
func MustAuthor(t testing.TB, conn *gorm.DB) *models.Author {
	t.Helper()
	author := &models.Author{Name: "Author " + uuid.NewString()[:8]}
	if err := conn.Create(author).Error; err != nil {
		t.Fatalf("create author: %v", err)
	}
	return author
}

// MustBook inserts a book with the given number of copies and a fresh author.
func MustBook(t testing.TB, conn *gorm.DB, quantity int) *models.Book {
	t.Helper()
	author := MustAuthor(t, conn)
	book := &models.Book{
		Title:    "Book " + uuid.NewString()[:8],
		AuthorID: author.ID,
		Quantity: quantity,
	}
	if err := conn.Create(book).Error; err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}
