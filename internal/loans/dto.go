package loans

import (
	"time"

	"github.com/angelmondragon/library-backend/pkg/db/models"
	"github.com/angelmondragon/library-backend/pkg/enums"
	"github.com/google/uuid"
)

// LoanDTO is the API representation of a loan. Status and IsOverdue are computed
// at read time.
type LoanDTO struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	Username   string           `json:"username,omitempty"`
	BookID     uuid.UUID        `json:"book_id"`
	BookTitle  string           `json:"book_title,omitempty"`
	LoanDate   time.Time        `json:"loan_date"`
	DueDate    time.Time        `json:"due_date"`
	ReturnedAt *time.Time       `json:"returned_at"`
	Status     enums.LoanStatus `json:"status"`
	IsOverdue  bool             `json:"is_overdue"`
}

// LoanList is a cursor page of a user's loans.
type LoanList struct {
	Loans      []LoanDTO `json:"loans"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// CreateInput identifies the borrower and the requested book.
type CreateInput struct {
	UserID uuid.UUID
	BookID uuid.UUID
}

// ReturnInput identifies the loan and who is returning it.
type ReturnInput struct {
	LoanID      uuid.UUID
	RequesterID uuid.UUID
}

// IsOverdue reports whether an unreturned loan is past its due date.
func IsOverdue(loan *models.Loan, now time.Time) bool {
	return loan.ReturnedAt == nil && now.After(loan.DueDate)
}

// FromModel maps a loan to its API shape as of now.
func FromModel(m *models.Loan, now time.Time) LoanDTO {
	out := LoanDTO{
		ID:         m.ID,
		UserID:     m.UserID,
		BookID:     m.BookID,
		LoanDate:   m.LoanDate,
		DueDate:    m.DueDate,
		ReturnedAt: m.ReturnedAt,
		Status:     enums.DeriveLoanStatus(m.DueDate, m.ReturnedAt, now),
		IsOverdue:  IsOverdue(m, now),
	}
	if m.User != nil {
		out.Username = m.User.Username
	}
	if m.Book != nil {
		out.BookTitle = m.Book.Title
	}
	return out
}
