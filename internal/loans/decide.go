package loans

import (
	"github.com/angelmondragon/library-backend/internal/books"
	"github.com/google/uuid"
)

// createFacts is everything the borrow rules look at, read under the user and
// book row locks.
type createFacts struct {
	BookID          uuid.UUID
	Limit           int
	UserActiveLoans int64
	Quantity        int
	BookActiveLoans int64
	HoldsBook       bool
}

// decideCreate applies the borrow rules in order and reports only the first failure.
func decideCreate(f createFacts) error {
	if f.UserActiveLoans >= int64(f.Limit) {
		return errLimitExceeded(f.Limit, f.UserActiveLoans)
	}
	if !books.IsAvailable(f.Quantity, f.BookActiveLoans) {
		return errBookUnavailable(f.BookID)
	}
	if f.HoldsBook {
		return errDuplicateActiveLoan(f.BookID)
	}
	return nil
}
