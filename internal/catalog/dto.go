package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/pagination"
)

// AuthorDTO is the API representation of an author.
type AuthorDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Bio       *string   `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookDTO is the API representation of a catalog book.
type BookDTO struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	ISBN            *string    `json:"isbn,omitempty"`
	PublishedYear   *int       `json:"published_year,omitempty"`
	CopiesCount     int        `json:"copies_count"`
	AvailableCopies *int64     `json:"available_copies,omitempty"`
	CoverURL        *string    `json:"cover_url,omitempty"`
	Author          *AuthorDTO `json:"author,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BookPageDTO is a cursor-paginated list of books.
type BookPageDTO struct {
	Items      []BookDTO       `json:"items"`
	Pagination pagination.Meta `json:"pagination"`
}

// AuthorPageDTO is a cursor-paginated list of authors.
type AuthorPageDTO struct {
	Items      []AuthorDTO     `json:"items"`
	Pagination pagination.Meta `json:"pagination"`
}

// CreateAuthorInput is the admin payload for a new author.
type CreateAuthorInput struct {
	Name string  `json:"name" validate:"required,max=200"`
	Bio  *string `json:"bio,omitempty" validate:"omitempty,max=5000"`
}

// UpdateAuthorInput carries optional author changes.
type UpdateAuthorInput struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Bio  *string `json:"bio,omitempty" validate:"omitempty,max=5000"`
}

// CreateBookInput is the admin payload for a new book.
type CreateBookInput struct {
	Title         string    `json:"title" validate:"required,max=300"`
	Description   *string   `json:"description,omitempty" validate:"omitempty,max=10000"`
	ISBN          *string   `json:"isbn,omitempty" validate:"omitempty,min=10,max=17"`
	AuthorID      uuid.UUID `json:"author_id" validate:"required"`
	PublishedYear *int      `json:"published_year,omitempty" validate:"omitempty,min=0,max=3000"`
	CopiesCount   int       `json:"copies_count" validate:"min=0,max=10000"`
}

// UpdateBookInput carries optional book changes.
type UpdateBookInput struct {
	Title         *string    `json:"title,omitempty" validate:"omitempty,min=1,max=300"`
	Description   *string    `json:"description,omitempty" validate:"omitempty,max=10000"`
	ISBN          *string    `json:"isbn,omitempty" validate:"omitempty,min=10,max=17"`
	AuthorID      *uuid.UUID `json:"author_id,omitempty"`
	PublishedYear *int       `json:"published_year,omitempty" validate:"omitempty,min=0,max=3000"`
	CopiesCount   *int       `json:"copies_count,omitempty" validate:"omitempty,min=0,max=10000"`
}

// ListBooksInput filters the public book listing.
type ListBooksInput struct {
	Query    string
	AuthorID *uuid.UUID
	Cursor   string
	Limit    int
}

func newAuthorDTO(a *models.Author) *AuthorDTO {
	if a == nil {
		return nil
	}
	return &AuthorDTO{
		ID:        a.ID,
		Name:      a.Name,
		Bio:       a.Bio,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func newBookDTO(b *models.Book) BookDTO {
	return BookDTO{
		ID:            b.ID,
		Title:         b.Title,
		Description:   b.Description,
		ISBN:          b.ISBN,
		PublishedYear: b.PublishedYear,
		CopiesCount:   b.CopiesCount,
		Author:        newAuthorDTO(b.Author),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}
