// Package pagination implements keyset paging for the catalog, member and
// loan listings. Every listing runs newest first on one timestamp column, with
// the row id breaking ties, and hands out an opaque cursor for the next page.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformedCursor = errors.New("malformed cursor")

// cursorEncoding keeps cursors safe to paste into a query string as-is.
var cursorEncoding = base64.RawURLEncoding

// Params is what a listing endpoint accepts: a page size and the cursor a
// previous page returned.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the position of the last row a page returned.
type Cursor struct {
	SortKey time.Time
	ID      uuid.UUID
}

// NormalizeLimit applies DefaultLimit to zero or negative sizes and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer is the row count to fetch so one extra row signals a next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func EncodeCursor(c Cursor) string {
	return cursorEncoding.EncodeToString([]byte(c.SortKey.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()))
}

// ParseCursor returns nil for a blank value, meaning the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := cursorEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	sortKey, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errMalformedCursor
	}

	var c Cursor
	if c.SortKey, err = time.Parse(time.RFC3339Nano, sortKey); err != nil {
		return nil, fmt.Errorf("%w: sort key: %v", errMalformedCursor, err)
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformedCursor, err)
	}
	return &c, nil
}

// Trim drops the buffer row fetched by LimitWithBuffer and reports whether a
// further page exists.
func Trim[T any](rows []T, limit int) ([]T, bool) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, false
	}
	return rows[:limit], true
}

// Keyset pages rows of T newest first by Column. Key reads the cursor back off
// the last row of a page; its SortKey must be the Column value.
type Keyset[T any] struct {
	Column string
	Key    func(T) Cursor
}

// Fetch runs qb for one page. A cursor that does not parse is a validation
// error so a tampered query string answers 400.
func (k Keyset[T]) Fetch(qb *gorm.DB, params Params) ([]T, string, error) {
	cursor, err := ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		qb = qb.Where(
			fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND id < ?)", k.Column),
			cursor.SortKey, cursor.SortKey, cursor.ID,
		)
	}

	var rows []T
	err = qb.Order(k.Column + " DESC").Order("id DESC").
		Limit(LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	page, more := Trim(rows, params.Limit)
	if !more {
		return page, "", nil
	}
	return page, EncodeCursor(k.Key(page[len(page)-1])), nil
}
