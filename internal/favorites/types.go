package favorites

import (
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/pagination"
)

// FavoriteBookDTO is the book summary carried by a favorite row.
type FavoriteBookDTO struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	AuthorID    uuid.UUID `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	CopiesCount int       `json:"copies_count"`
}

// FavoriteDTO wraps the book saved by the user.
type FavoriteDTO struct {
	Book      FavoriteBookDTO `json:"book"`
	CreatedAt time.Time       `json:"created_at"`
}

// FavoritesPageDTO returns a cursor-paginated favorites view.
type FavoritesPageDTO struct {
	Items      []FavoriteDTO   `json:"items"`
	Pagination pagination.Meta `json:"pagination"`
}

type favoriteRecord struct {
	FavoriteID        uuid.UUID
	FavoriteCreatedAt time.Time
	BookID            uuid.UUID
	Title             string
	AuthorID          uuid.UUID
	AuthorName        string
	CopiesCount       int
}

func (r favoriteRecord) toDTO() FavoriteDTO {
	return FavoriteDTO{
		Book: FavoriteBookDTO{
			ID:          r.BookID,
			Title:       r.Title,
			AuthorID:    r.AuthorID,
			AuthorName:  r.AuthorName,
			CopiesCount: r.CopiesCount,
		},
		CreatedAt: r.FavoriteCreatedAt,
	}
}
