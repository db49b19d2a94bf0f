package enums

import (
	"fmt"
	"time"
)

// LoanStatus is the read-time label of a loan. It is never persisted.
type LoanStatus string

const (
	LoanStatusCurrent  LoanStatus = "current"
	LoanStatusOverdue  LoanStatus = "overdue"
	LoanStatusReturned LoanStatus = "returned"
)

var validLoanStatuses = []LoanStatus{
	LoanStatusCurrent,
	LoanStatusOverdue,
	LoanStatusReturned,
}

// DeriveLoanStatus labels a loan as of now. Returned wins over overdue; a loan
// due exactly now is still current.
func DeriveLoanStatus(dueDate time.Time, returnedAt *time.Time, now time.Time) LoanStatus {
	if returnedAt != nil {
		return LoanStatusReturned
	}
	if now.After(dueDate) {
		return LoanStatusOverdue
	}
	return LoanStatusCurrent
}

// IsValid reports whether the value is a known LoanStatus.
func (s LoanStatus) IsValid() bool {
	for _, candidate := range validLoanStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLoanStatus converts raw input into a LoanStatus.
func ParseLoanStatus(value string) (LoanStatus, error) {
	for _, candidate := range validLoanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan status %q", value)
}
