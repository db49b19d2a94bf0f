package books

import (
	"time"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/google/uuid"
)

// AuthorDTO is the API representation of an author.
type AuthorDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PublisherDTO is the API representation of a publisher.
type PublisherDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BookDTO carries the catalog entry plus its derived availability.
type BookDTO struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Author          *AuthorDTO    `json:"author,omitempty"`
	AuthorID        uuid.UUID     `json:"author_id"`
	Publisher       *PublisherDTO `json:"publisher,omitempty"`
	PublisherID     *uuid.UUID    `json:"publisher_id,omitempty"`
	Quantity        int           `json:"quantity"`
	ActiveLoans     int64         `json:"active_loans"`
	AvailableCopies int           `json:"available_copies"`
	IsAvailable     bool          `json:"is_available"`
	ContinuationIDs []uuid.UUID   `json:"continuation_ids"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BookList is a cursor page of books.
type BookList struct {
	Books      []BookDTO `json:"books"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// CreateAuthorInput is the payload for a new author.
type CreateAuthorInput struct {
	Name string
}

// CreatePublisherInput is the payload for a new publisher.
type CreatePublisherInput struct {
	Name string
}

// CreateBookInput is the validated payload for a new book. A nil Quantity means one copy.
type CreateBookInput struct {
	Title           string
	Description     string
	AuthorID        uuid.UUID
	PublisherID     *uuid.UUID
	Quantity        *int
	ContinuationIDs []uuid.UUID
}

// UpdateBookInput holds optional book mutations. A non-nil ContinuationIDs
// replaces the whole continuation set; pointing at an empty slice clears it.
type UpdateBookInput struct {
	Title           *string
	Description     *string
	AuthorID        *uuid.UUID
	PublisherID     *uuid.UUID
	Quantity        *int
	ContinuationIDs *[]uuid.UUID
}

func (in UpdateBookInput) empty() bool {
	return in.Title == nil && in.Description == nil && in.AuthorID == nil &&
		in.PublisherID == nil && in.Quantity == nil && in.ContinuationIDs == nil
}

func authorFromModel(m *models.Author) *AuthorDTO {
	if m == nil {
		return nil
	}
	return &AuthorDTO{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

func publisherFromModel(m *models.Publisher) *PublisherDTO {
	if m == nil {
		return nil
	}
	return &PublisherDTO{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

// FromModel maps a book and its active loan count to the API shape. The
// continuation set starts empty; callers fill it from the link table.
func FromModel(m *models.Book, activeLoans int64) BookDTO {
	return BookDTO{
		ID:              m.ID,
		Title:           m.Title,
		Description:     m.Description,
		Author:          authorFromModel(m.Author),
		AuthorID:        m.AuthorID,
		Publisher:       publisherFromModel(m.Publisher),
		PublisherID:     m.PublisherID,
		Quantity:        m.Quantity,
		ActiveLoans:     activeLoans,
		AvailableCopies: AvailableCopies(m.Quantity, activeLoans),
		IsAvailable:     IsAvailable(m.Quantity, activeLoans),
		ContinuationIDs: []uuid.UUID{},
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
