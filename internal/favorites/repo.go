package favorites

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository encapsulates favorites persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a favorites repository bound to the provided gorm DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// BookExists reports whether the book id is present in the catalog.
func (r *Repository) BookExists(ctx context.Context, bookID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Book{}).Where("id = ?", bookID).Count(&count).Error
	return count > 0, err
}

// AddItem inserts a favorite and ignores duplicates.
func (r *Repository) AddItem(ctx context.Context, userID, bookID uuid.UUID) error {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return gorm.ErrInvalidValue
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
			DoNothing: true,
		}).
		Create(&models.Favorite{UserID: userID, BookID: bookID}).
		Error
}

// RemoveItem deletes the user-book favorite if it exists.
func (r *Repository) RemoveItem(ctx context.Context, userID, bookID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Delete(&models.Favorite{}).
		Error
}

// ListItems returns a page of favorites for the user, newest first.
func (r *Repository) ListItems(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]favoriteRecord, error) {
	selectColumns := []string{
		"f.id AS favorite_id",
		"f.created_at AS favorite_created_at",
		"b.id AS book_id",
		"b.title",
		"b.copies_count",
		"a.id AS author_id",
		"a.name AS author_name",
	}

	query := r.db.WithContext(ctx).
		Table("favorites f").
		Select(strings.Join(selectColumns, ", ")).
		Joins("JOIN books b ON b.id = f.book_id").
		Joins("JOIN authors a ON a.id = b.author_id").
		Where("f.user_id = ?", userID)

	if cursor != nil {
		query = query.Where("(f.created_at < ?) OR (f.created_at = ? AND f.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var records []favoriteRecord
	err := query.
		Order("f.created_at DESC").
		Order("f.id DESC").
		Limit(limit).
		Scan(&records).Error
	return records, err
}

// CountItems returns how many favorites the user holds.
func (r *Repository) CountItems(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Favorite{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
