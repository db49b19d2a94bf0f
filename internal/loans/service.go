package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OperationCreate = "create"
	OperationReturn = "return"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BookInventory locks books and counts their active loans inside the caller's transaction.
type BookInventory interface {
	LockBook(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Book, error)
	ActiveLoanCount(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error)
}

// UserLocker serializes a borrower's concurrent requests.
type UserLocker interface {
	LockUser(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.User, error)
}

type retryRecorder interface {
	IncRetry(operation string)
}

// Service drives the loan lifecycle. A loan opens on Create, closes on Return and
// never changes again.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*LoanDTO, error)
	Return(ctx context.Context, input ReturnInput) (*LoanDTO, error)
	Get(ctx context.Context, loanID, requesterID uuid.UUID) (*LoanDTO, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*LoanList, error)
}

// ServiceParams wires the loan service.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Books   BookInventory
	Users   UserLocker
	Config  config.LoansConfig
	Clock   func() time.Time
	Metrics retryRecorder
}

type service struct {
	repo    Repository
	tx      txRunner
	books   BookInventory
	users   UserLocker
	cfg     config.LoansConfig
	now     func() time.Time
	metrics retryRecorder
}

type noopRetryRecorder struct{}

func (noopRetryRecorder) IncRetry(string) {}

// NewService validates the wiring and returns the lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("loans repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Books == nil {
		return nil, fmt.Errorf("book inventory required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user locker required")
	}
	if params.Config.MaxActiveLoans <= 0 {
		return nil, fmt.Errorf("max active loans must be positive")
	}
	if params.Config.Duration <= 0 {
		return nil, fmt.Errorf("loan duration must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	var recorder retryRecorder = noopRetryRecorder{}
	if params.Metrics != nil {
		recorder = params.Metrics
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		books:   params.Books,
		users:   params.Users,
		cfg:     params.Config,
		now:     clock,
		metrics: recorder,
	}, nil
}

// Create lends one copy of the book. The user row is locked before the book row
// on every path, so two borrowers never wait on each other in opposite order.
func (s *service) Create(ctx context.Context, input CreateInput) (*LoanDTO, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.BookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book_id is required")
	}

	var created *models.Loan
	err := s.runWithRetry(ctx, OperationCreate, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			user, err := s.users.LockUser(ctx, tx, input.UserID)
			if err != nil {
				return mapLoadError(err, "user")
			}
			book, err := s.books.LockBook(ctx, tx, input.BookID)
			if err != nil {
				return mapLoadError(err, "book")
			}

			userActive, err := repo.CountActiveForUser(ctx, user.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count user loans")
			}
			bookActive, err := s.books.ActiveLoanCount(ctx, tx, book.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count book loans")
			}
			holds, err := repo.HasActiveLoan(ctx, user.ID, book.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing loan")
			}

			if err := decideCreate(createFacts{
				BookID:          book.ID,
				Limit:           s.cfg.MaxActiveLoans,
				UserActiveLoans: userActive,
				Quantity:        book.Quantity,
				BookActiveLoans: bookActive,
				HoldsBook:       holds,
			}); err != nil {
				return err
			}

			now := s.now()
			loan, err := repo.Create(ctx, &models.Loan{
				UserID:   user.ID,
				BookID:   book.ID,
				LoanDate: now,
				DueDate:  now.Add(s.cfg.Duration),
			})
			if err != nil {
				if db.IsUniqueViolation(err, activeLoanIndex) {
					return errDuplicateActiveLoan(book.ID)
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert loan")
			}
			loan.User = user
			loan.Book = book
			created = loan
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	dto := FromModel(created, s.now())
	return &dto, nil
}

// Return closes an active loan owned by the requester. The conditional update is
// the final word: a concurrent return that committed first wins and this one is
// reported as already returned.
func (s *service) Return(ctx context.Context, input ReturnInput) (*LoanDTO, error) {
	if input.LoanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var returned *models.Loan
	err := s.runWithRetry(ctx, OperationReturn, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			loan, err := repo.FindByID(ctx, input.LoanID)
			if err != nil {
				return mapLoadError(err, "loan")
			}
			if loan.UserID != input.RequesterID {
				return errNotOwner()
			}
			if loan.ReturnedAt != nil {
				return errAlreadyReturned(loan.ID)
			}

			now := s.now()
			rows, err := repo.MarkReturned(ctx, loan.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark loan returned")
			}
			if rows == 0 {
				return errAlreadyReturned(loan.ID)
			}
			loan.ReturnedAt = &now
			returned = loan
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	dto := FromModel(returned, s.now())
	return &dto, nil
}

func (s *service) Get(ctx context.Context, loanID, requesterID uuid.UUID) (*LoanDTO, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	loan, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, mapLoadError(err, "loan")
	}
	if loan.UserID != requesterID {
		return nil, errNotOwner()
	}
	dto := FromModel(loan, s.now())
	return &dto, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*LoanList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, next, err := s.repo.ListForUser(ctx, userID, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loans")
	}

	now := s.now()
	out := make([]LoanDTO, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i], now))
	}
	return &LoanList{Loans: out, NextCursor: next}, nil
}

func mapLoadError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound(what)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
