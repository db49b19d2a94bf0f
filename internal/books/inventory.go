package books

import (
	"context"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AvailableCopies is the number of copies on the shelf. It never drops below zero
// even if the counts were read from a stale snapshot.
func AvailableCopies(quantity int, activeLoans int64) int {
	available := int64(quantity) - activeLoans
	if available < 0 {
		return 0
	}
	return int(available)
}

// IsAvailable reports whether at least one copy can be lent out.
func IsAvailable(quantity int, activeLoans int64) bool {
	return activeLoans < int64(quantity)
}

// Inventory answers availability questions from the loans table. Quantity is the
// only stored number; everything else is counted.
type Inventory struct {
	db *gorm.DB
}

// NewInventory binds the inventory reader to the provided connection.
func NewInventory(db *gorm.DB) *Inventory {
	return &Inventory{db: db}
}

func (i *Inventory) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return i.db
}

// LockBook loads the book with SELECT ... FOR UPDATE. Every writer that depends on
// the book's active loan count takes this lock first.
func (i *Inventory) LockBook(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := i.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ActiveLoanCount counts unreturned loans of the book.
func (i *Inventory) ActiveLoanCount(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error) {
	var count int64
	err := i.conn(tx).WithContext(ctx).
		Model(&models.Loan{}).
		Where("book_id = ? AND returned_at IS NULL", bookID).
		Count(&count).Error
	return count, err
}

// ActiveLoanCounts counts unreturned loans for a page of books in one query.
// Books without active loans are absent from the map.
func (i *Inventory) ActiveLoanCounts(ctx context.Context, tx *gorm.DB, bookIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(bookIDs))
	if len(bookIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		BookID uuid.UUID
		Active int64
	}
	err := i.conn(tx).WithContext(ctx).
		Model(&models.Loan{}).
		Select("book_id, COUNT(*) AS active").
		Where("book_id IN ? AND returned_at IS NULL", bookIDs).
		Group("book_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.BookID] = row.Active
	}
	return counts, nil
}
