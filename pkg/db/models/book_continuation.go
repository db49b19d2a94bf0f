package models

import (
	"time"

	"github.com/google/uuid"
)

// BookContinuation links a book to a title that continues it (the next volume
// of a series, a sequel). The link is directed: A continued by B says nothing
// about B continued by A.
type BookContinuation struct {
	BookID         uuid.UUID `gorm:"type:uuid;primaryKey;column:book_id"`
	ContinuationID uuid.UUID `gorm:"type:uuid;primaryKey;column:continuation_id"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (BookContinuation) TableName() string { return "book_continuations" }
