package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/library-backend/api/responses"
	"github.com/angelmondragon/library-backend/api/validators"
	"github.com/angelmondragon/library-backend/internal/books"
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/angelmondragon/library-backend/pkg/logger"
)

type nameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type createBookRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description string  `json:"description"`
	AuthorID    string  `json:"author_id" validate:"required,uuid"`
	PublisherID *string `json:"publisher_id,omitempty" validate:"omitempty,uuid"`
	Quantity    *int    `json:"quantity,omitempty" validate:"omitempty,min=0"`

	ContinuationIDs []string `json:"continuation_ids,omitempty" validate:"omitempty,dive,uuid"`
}

func (r createBookRequest) toInput() (books.CreateBookInput, error) {
	authorID, err := uuid.Parse(r.AuthorID)
	if err != nil {
		return books.CreateBookInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid author_id")
	}
	input := books.CreateBookInput{
		Title:       r.Title,
		Description: r.Description,
		AuthorID:    authorID,
		Quantity:    r.Quantity,
	}
	if r.PublisherID != nil {
		publisherID, err := uuid.Parse(*r.PublisherID)
		if err != nil {
			return books.CreateBookInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid publisher_id")
		}
		input.PublisherID = &publisherID
	}
	continuations, err := parseContinuationIDs(r.ContinuationIDs)
	if err != nil {
		return books.CreateBookInput{}, err
	}
	input.ContinuationIDs = continuations
	return input, nil
}

func parseContinuationIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid continuation_ids").
				WithDetails(map[string]string{"continuation_ids": value + " is not a book id"})
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// An empty publisher_id detaches the publisher. continuation_ids replaces the
// whole set; [] clears it.
type updateBookRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
	AuthorID    *string `json:"author_id,omitempty" validate:"omitempty,uuid"`
	PublisherID *string `json:"publisher_id,omitempty"`
	Quantity    *int    `json:"quantity,omitempty" validate:"omitempty,min=0"`

	ContinuationIDs *[]string `json:"continuation_ids,omitempty" validate:"omitempty,dive,uuid"`
}

func (r updateBookRequest) toInput() (books.UpdateBookInput, error) {
	input := books.UpdateBookInput{
		Title:       r.Title,
		Description: r.Description,
		Quantity:    r.Quantity,
	}
	if r.AuthorID != nil {
		authorID, err := uuid.Parse(*r.AuthorID)
		if err != nil {
			return books.UpdateBookInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid author_id")
		}
		input.AuthorID = &authorID
	}
	if r.PublisherID != nil {
		publisherID := uuid.Nil
		if raw := strings.TrimSpace(*r.PublisherID); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return books.UpdateBookInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid publisher_id")
			}
			publisherID = parsed
		}
		input.PublisherID = &publisherID
	}
	if r.ContinuationIDs != nil {
		continuations, err := parseContinuationIDs(*r.ContinuationIDs)
		if err != nil {
			return books.UpdateBookInput{}, err
		}
		input.ContinuationIDs = &continuations
	}
	return input, nil
}

func AdminCreateAuthor(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		var body nameRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		author, err := svc.CreateAuthor(r.Context(), books.CreateAuthorInput{Name: body.Name})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, author)
	}
}

func AdminListAuthors(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		authors, err := svc.ListAuthors(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, authors)
	}
}

func AdminCreatePublisher(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		var body nameRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		publisher, err := svc.CreatePublisher(r.Context(), books.CreatePublisherInput{Name: body.Name})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, publisher)
	}
}

func AdminListPublishers(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		publishers, err := svc.ListPublishers(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, publishers)
	}
}

// AdminCreateBook adds a title to the catalog.
func AdminCreateBook(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		var body createBookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		book, err := svc.CreateBook(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, book)
	}
}

// AdminUpdateBook applies a partial update. Quantity may not drop below the copies on loan.
func AdminUpdateBook(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		bookID, err := validators.ParseUUIDParam(r, "bookId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateBookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		book, err := svc.UpdateBook(r.Context(), bookID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, book)
	}
}

func AdminDeleteBook(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "book service unavailable"))
			return
		}

		bookID, err := validators.ParseUUIDParam(r, "bookId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteBook(r.Context(), bookID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
