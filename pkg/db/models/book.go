package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog title. Quantity is the number of physical copies owned;
// availability is always derived from active loans and never stored.
type Book struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Title       string     `gorm:"type:text;not null;uniqueIndex"`
	Description string     `gorm:"type:text;not null"`
	AuthorID    uuid.UUID  `gorm:"type:uuid;column:author_id;not null"`
	Author      *Author    `gorm:"foreignKey:AuthorID"`
	PublisherID *uuid.UUID `gorm:"type:uuid;column:publisher_id"`
	Publisher   *Publisher `gorm:"foreignKey:PublisherID"`
	Quantity    int        `gorm:"column:quantity;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
