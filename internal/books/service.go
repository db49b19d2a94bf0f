package books

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonQuantityBelowActiveLoans = "quantity_below_active_loans"
	ReasonBookHasActiveLoans       = "book_has_active_loans"
	ReasonBookHasLoanHistory       = "book_has_loan_history"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type inventoryReader interface {
	LockBook(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Book, error)
	ActiveLoanCount(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error)
	ActiveLoanCounts(ctx context.Context, tx *gorm.DB, bookIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

// Service exposes catalog management and the public catalog reads.
type Service interface {
	CreateAuthor(ctx context.Context, input CreateAuthorInput) (*AuthorDTO, error)
	ListAuthors(ctx context.Context) ([]AuthorDTO, error)
	CreatePublisher(ctx context.Context, input CreatePublisherInput) (*PublisherDTO, error)
	ListPublishers(ctx context.Context) ([]PublisherDTO, error)
	CreateBook(ctx context.Context, input CreateBookInput) (*BookDTO, error)
	GetBook(ctx context.Context, id uuid.UUID) (*BookDTO, error)
	ListBooks(ctx context.Context, params pagination.Params) (*BookList, error)
	UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookDTO, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventoryReader
}

// NewService builds the catalog service.
func NewService(repo Repository, tx txRunner, inventory inventoryReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("books repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory reader required")
	}
	return &service{repo: repo, tx: tx, inventory: inventory}, nil
}

func (s *service) CreateAuthor(ctx context.Context, input CreateAuthorInput) (*AuthorDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	author, err := s.repo.CreateAuthor(ctx, &models.Author{Name: name})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create author")
	}
	return authorFromModel(author), nil
}

func (s *service) ListAuthors(ctx context.Context) ([]AuthorDTO, error) {
	rows, err := s.repo.ListAuthors(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list authors")
	}
	out := make([]AuthorDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *authorFromModel(&rows[i]))
	}
	return out, nil
}

func (s *service) CreatePublisher(ctx context.Context, input CreatePublisherInput) (*PublisherDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	publisher, err := s.repo.CreatePublisher(ctx, &models.Publisher{Name: name})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create publisher")
	}
	return publisherFromModel(publisher), nil
}

func (s *service) ListPublishers(ctx context.Context) ([]PublisherDTO, error) {
	rows, err := s.repo.ListPublishers(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list publishers")
	}
	out := make([]PublisherDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *publisherFromModel(&rows[i]))
	}
	return out, nil
}

func (s *service) CreateBook(ctx context.Context, input CreateBookInput) (*BookDTO, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if input.AuthorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author_id is required")
	}
	quantity := 1
	if input.Quantity != nil {
		quantity = *input.Quantity
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}

	book := &models.Book{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		AuthorID:    input.AuthorID,
		PublisherID: input.PublisherID,
		Quantity:    quantity,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := s.ensureReferences(ctx, repo, &input.AuthorID, input.PublisherID); err != nil {
			return err
		}
		if _, err := repo.Create(ctx, book); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a book with this title already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create book")
		}
		if len(input.ContinuationIDs) == 0 {
			return nil
		}
		return s.replaceContinuations(ctx, repo, book.ID, input.ContinuationIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBook(ctx, book.ID)
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*BookDTO, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	active, err := s.inventory.ActiveLoanCount(ctx, nil, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active loans")
	}
	links, err := s.repo.ContinuationIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load continuations")
	}
	dto := withContinuations(FromModel(book, active), links)
	return &dto, nil
}

func (s *service) ListBooks(ctx context.Context, params pagination.Params) (*BookList, error) {
	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list books")
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := s.inventory.ActiveLoanCounts(ctx, nil, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active loans")
	}
	links, err := s.repo.ContinuationIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load continuations")
	}

	out := make([]BookDTO, 0, len(rows))
	for i := range rows {
		out = append(out, withContinuations(FromModel(&rows[i], counts[rows[i].ID]), links))
	}
	return &BookList{Books: out, NextCursor: next}, nil
}

// UpdateBook applies a partial update under the book row lock, so a quantity
// change is checked against the same active loan count a concurrent borrow sees.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookDTO, error) {
	if input.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.Quantity != nil {
		if *input.Quantity < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
		}
		updates["quantity"] = *input.Quantity
	}
	if input.AuthorID != nil {
		if *input.AuthorID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "author_id cannot be empty")
		}
		updates["author_id"] = *input.AuthorID
	}
	publisherID := input.PublisherID
	if publisherID != nil {
		if *publisherID == uuid.Nil {
			updates["publisher_id"] = nil
			publisherID = nil
		} else {
			updates["publisher_id"] = *publisherID
		}
	}

	var (
		book   *models.Book
		active int64
		links  map[uuid.UUID][]uuid.UUID
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := s.inventory.LockBook(ctx, tx, id); err != nil {
			return mapLoadError(err)
		}
		if err := s.ensureReferences(ctx, repo, input.AuthorID, publisherID); err != nil {
			return err
		}

		var err error
		active, err = s.inventory.ActiveLoanCount(ctx, tx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active loans")
		}
		if input.Quantity != nil && int64(*input.Quantity) < active {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "quantity cannot drop below copies currently on loan").
				WithDetails(map[string]any{
					"reason":       ReasonQuantityBelowActiveLoans,
					"active_loans": active,
					"quantity":     *input.Quantity,
				})
		}

		if err := repo.Update(ctx, id, updates); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a book with this title already exists")
			}
			if db.IsCheckViolation(err) {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update book")
		}
		if input.ContinuationIDs != nil {
			if err := s.replaceContinuations(ctx, repo, id, *input.ContinuationIDs); err != nil {
				return err
			}
		}

		book, err = repo.FindByID(ctx, id)
		if err != nil {
			return mapLoadError(err)
		}
		links, err = repo.ContinuationIDs(ctx, []uuid.UUID{id})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load continuations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto := withContinuations(FromModel(book, active), links)
	return &dto, nil
}

// DeleteBook removes a book that has never been lent. Loans keep their book
// reference forever, so any loan history blocks deletion.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := s.inventory.LockBook(ctx, tx, id); err != nil {
			return mapLoadError(err)
		}

		active, err := s.inventory.ActiveLoanCount(ctx, tx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active loans")
		}
		if active > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "book has copies on loan").
				WithDetails(map[string]any{"reason": ReasonBookHasActiveLoans, "active_loans": active})
		}

		total, err := repo.LoanCount(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count loans")
		}
		if total > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "book has loan history").
				WithDetails(map[string]any{"reason": ReasonBookHasLoanHistory, "loans": total})
		}

		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete book")
		}
		return nil
	})
}

// replaceContinuations stores ids as the book's continuation set. Repeats
// collapse; a self link, a nil id or an id naming no book is a validation error.
func (s *service) replaceContinuations(ctx context.Context, repo Repository, bookID uuid.UUID, ids []uuid.UUID) error {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		switch {
		case id == uuid.Nil:
			return pkgerrors.New(pkgerrors.CodeValidation, "continuation_ids cannot contain an empty id")
		case id == bookID:
			return pkgerrors.New(pkgerrors.CodeValidation, "a book cannot continue itself").
				WithDetails(map[string]string{"continuation_ids": "must not include the book itself"})
		case seen[id]:
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	found, err := repo.ExistingIDs(ctx, unique)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load continuation books")
	}
	var missing []string
	for _, id := range unique {
		if !found[id] {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "continuation_ids reference unknown books").
			WithDetails(map[string]any{"missing": missing})
	}

	if err := repo.ReplaceContinuations(ctx, bookID, unique); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store continuations")
	}
	return nil
}

func withContinuations(dto BookDTO, links map[uuid.UUID][]uuid.UUID) BookDTO {
	if ids := links[dto.ID]; len(ids) > 0 {
		dto.ContinuationIDs = ids
	}
	return dto
}

func (s *service) ensureReferences(ctx context.Context, repo Repository, authorID, publisherID *uuid.UUID) error {
	if authorID != nil {
		if _, err := repo.FindAuthor(ctx, *authorID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeValidation, "author_id does not reference an author")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load author")
		}
	}
	if publisherID != nil {
		if _, err := repo.FindPublisher(ctx, *publisherID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeValidation, "publisher_id does not reference a publisher")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load publisher")
		}
	}
	return nil
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
}
