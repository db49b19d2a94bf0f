package loans

import (
	pkgerrors "github.com/angelmondragon/library-backend/pkg/errors"
	"github.com/google/uuid"
)

// activeLoanIndex is the partial unique index holding one open loan per reader and book.
const activeLoanIndex = "loans_one_active_per_user_book"

// Rejection reasons carried in the error details under "reason".
const (
	ReasonLimitExceeded       = "limit_exceeded"
	ReasonBookUnavailable     = "book_unavailable"
	ReasonDuplicateActiveLoan = "duplicate_active_loan"
	ReasonAlreadyReturned     = "already_returned"
	ReasonNotOwner            = "not_owner"
	ReasonNotFound            = "not_found"
)

func errLimitExceeded(limit int, active int64) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "active loan limit reached").
		WithDetails(map[string]any{
			"reason":       ReasonLimitExceeded,
			"limit":        limit,
			"active_loans": active,
		})
}

func errBookUnavailable(bookID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "no copies of this book are available").
		WithDetails(map[string]any{
			"reason":  ReasonBookUnavailable,
			"book_id": bookID.String(),
		})
}

func errDuplicateActiveLoan(bookID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "you already have an active loan for this book").
		WithDetails(map[string]any{
			"reason":  ReasonDuplicateActiveLoan,
			"book_id": bookID.String(),
		})
}

func errAlreadyReturned(loanID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "loan has already been returned").
		WithDetails(map[string]any{
			"reason":  ReasonAlreadyReturned,
			"loan_id": loanID.String(),
		})
}

func errNotOwner() error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "loan belongs to another user").
		WithDetails(map[string]any{"reason": ReasonNotOwner})
}

func errNotFound(what string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found").
		WithDetails(map[string]any{"reason": ReasonNotFound})
}

// RejectionReason returns the lifecycle rule that refused err, or "" when err is
// not a rule rejection (for example a database outage).
func RejectionReason(err error) string {
	switch reason := pkgerrors.Reason(err); reason {
	case ReasonLimitExceeded, ReasonBookUnavailable, ReasonDuplicateActiveLoan,
		ReasonAlreadyReturned, ReasonNotOwner, ReasonNotFound:
		return reason
	}
	return ""
}
