package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog title with a fixed number of lendable copies.
// AdmissionVersion is bumped by every reservation admission so concurrent
// admissions for the same book serialize on the row.
type Book struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title            string    `gorm:"column:title;type:text;not null"`
	Description      *string   `gorm:"column:description;type:text"`
	ISBN             *string   `gorm:"column:isbn;type:text;uniqueIndex:books_isbn_key"`
	AuthorID         uuid.UUID `gorm:"column:author_id;type:uuid;not null;index:books_author_id_idx"`
	Author           *Author   `gorm:"foreignKey:AuthorID"`
	PublishedYear    *int      `gorm:"column:published_year"`
	CopiesCount      int       `gorm:"column:copies_count;not null"`
	CoverKey         *string   `gorm:"column:cover_key;type:text"`
	AdmissionVersion int64     `gorm:"column:admission_version;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
