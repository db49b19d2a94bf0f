package loans

import (
	"context"
	"time"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the loan ledger. Rows are inserted and stamped returned; they are
// never deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, loan *models.Loan) (*models.Loan, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Loan, string, error)
	CountActiveForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	HasActiveLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	MarkReturned(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the ledger to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	if err := r.db.WithContext(ctx).Omit("User", "Book").Create(loan).Error; err != nil {
		return nil, err
	}
	return loan, nil
}

// FindByID loads the loan with the borrower and the book.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Book").
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

var loanPages = pagination.Keyset[models.Loan]{
	Column: "loan_date",
	Key:    func(l models.Loan) pagination.Cursor { return pagination.Cursor{SortKey: l.LoanDate, ID: l.ID} },
}

// ListForUser pages through a user's loans, most recent loan_date first.
func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Loan, string, error) {
	qb := r.db.WithContext(ctx).
		Preload("User").
		Preload("Book").
		Where("user_id = ?", userID)
	return loanPages.Fetch(qb, params)
}

func (r *repository) CountActiveForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("user_id = ? AND returned_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

func (r *repository) HasActiveLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("user_id = ? AND book_id = ? AND returned_at IS NULL", userID, bookID).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// MarkReturned stamps returned_at only while the loan is still active and
// reports how many rows changed. Zero means someone else returned it first.
func (r *repository) MarkReturned(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id = ? AND returned_at IS NULL", id).
		UpdateColumn("returned_at", at)
	return res.RowsAffected, res.Error
}
