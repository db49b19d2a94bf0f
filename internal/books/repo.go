package books

import (
	"context"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for the catalog tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAuthor(ctx context.Context, author *models.Author) (*models.Author, error)
	ListAuthors(ctx context.Context) ([]models.Author, error)
	FindAuthor(ctx context.Context, id uuid.UUID) (*models.Author, error)
	CreatePublisher(ctx context.Context, publisher *models.Publisher) (*models.Publisher, error)
	ListPublishers(ctx context.Context) ([]models.Publisher, error)
	FindPublisher(ctx context.Context, id uuid.UUID) (*models.Publisher, error)
	Create(ctx context.Context, book *models.Book) (*models.Book, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	List(ctx context.Context, params pagination.Params) ([]models.Book, string, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	LoanCount(ctx context.Context, bookID uuid.UUID) (int64, error)
	ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	ContinuationIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
	ReplaceContinuations(ctx context.Context, bookID uuid.UUID, continuationIDs []uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAuthor(ctx context.Context, author *models.Author) (*models.Author, error) {
	if err := r.db.WithContext(ctx).Create(author).Error; err != nil {
		return nil, err
	}
	return author, nil
}

func (r *repository) ListAuthors(ctx context.Context) ([]models.Author, error) {
	var rows []models.Author
	err := r.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindAuthor(ctx context.Context, id uuid.UUID) (*models.Author, error) {
	var author models.Author
	if err := r.db.WithContext(ctx).First(&author, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &author, nil
}

func (r *repository) CreatePublisher(ctx context.Context, publisher *models.Publisher) (*models.Publisher, error) {
	if err := r.db.WithContext(ctx).Create(publisher).Error; err != nil {
		return nil, err
	}
	return publisher, nil
}

func (r *repository) ListPublishers(ctx context.Context) ([]models.Publisher, error) {
	var rows []models.Publisher
	err := r.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindPublisher(ctx context.Context, id uuid.UUID) (*models.Publisher, error) {
	var publisher models.Publisher
	if err := r.db.WithContext(ctx).First(&publisher, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &publisher, nil
}

// Create inserts the book row. Associations are not upserted.
func (r *repository) Create(ctx context.Context, book *models.Book) (*models.Book, error) {
	if err := r.db.WithContext(ctx).Omit("Author", "Publisher").Create(book).Error; err != nil {
		return nil, err
	}
	return book, nil
}

// FindByID loads the book with its author and publisher.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Publisher").
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

var bookPages = pagination.Keyset[models.Book]{
	Column: "created_at",
	Key:    func(b models.Book) pagination.Cursor { return pagination.Cursor{SortKey: b.CreatedAt, ID: b.ID} },
}

// List returns one page of books, newest first, and the cursor for the next page.
func (r *repository) List(ctx context.Context, params pagination.Params) ([]models.Book, string, error) {
	qb := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Publisher")
	return bookPages.Fetch(qb, params)
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete removes the book and every continuation link naming it on either side.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	conn := r.db.WithContext(ctx)
	err := conn.Where("book_id = ? OR continuation_id = ?", id, id).Delete(&models.BookContinuation{}).Error
	if err != nil {
		return err
	}
	return conn.Where("id = ?", id).Delete(&models.Book{}).Error
}

// LoanCount counts every loan of the book, returned or not.
func (r *repository) LoanCount(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("book_id = ?", bookID).
		Count(&count).Error
	return count, err
}

// ExistingIDs reports which of ids name a book.
func (r *repository) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id IN ?", ids).
		Pluck("id", &rows).Error
	if err != nil {
		return nil, err
	}
	for _, id := range rows {
		found[id] = true
	}
	return found, nil
}

// ContinuationIDs returns the continuations of each book, oldest link first.
// Books without continuations are absent from the map.
func (r *repository) ContinuationIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}
	var links []models.BookContinuation
	err := r.db.WithContext(ctx).
		Where("book_id IN ?", bookIDs).
		Order("created_at ASC").Order("continuation_id ASC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		out[link.BookID] = append(out[link.BookID], link.ContinuationID)
	}
	return out, nil
}

// ReplaceContinuations makes continuationIDs the complete continuation set of
// the book. An empty set clears it.
func (r *repository) ReplaceContinuations(ctx context.Context, bookID uuid.UUID, continuationIDs []uuid.UUID) error {
	conn := r.db.WithContext(ctx)
	if err := conn.Where("book_id = ?", bookID).Delete(&models.BookContinuation{}).Error; err != nil {
		return err
	}
	if len(continuationIDs) == 0 {
		return nil
	}
	links := make([]models.BookContinuation, 0, len(continuationIDs))
	for _, id := range continuationIDs {
		links = append(links, models.BookContinuation{BookID: bookID, ContinuationID: id})
	}
	return conn.Create(&links).Error
}
