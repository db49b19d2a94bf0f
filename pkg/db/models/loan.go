package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Loan records one user holding one copy of a book. A nil ReturnedAt marks the
// loan as active; once set it never changes.
type Loan struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `gorm:"type:uuid;column:user_id;not null"`
	User       *User      `gorm:"foreignKey:UserID"`
	BookID     uuid.UUID  `gorm:"type:uuid;column:book_id;not null"`
	Book       *Book      `gorm:"foreignKey:BookID"`
	LoanDate   time.Time  `gorm:"column:loan_date;not null"`
	DueDate    time.Time  `gorm:"column:due_date;not null"`
	ReturnedAt *time.Time `gorm:"column:returned_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (l *Loan) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the copy is still out.
func (l *Loan) IsActive() bool {
	return l != nil && l.ReturnedAt == nil
}
