package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"gorm.io/gorm"
)

// Repository encapsulates author and book persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a catalog repository bound to the provided gorm DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) CreateAuthor(ctx context.Context, author *models.Author) error {
	return r.db.WithContext(ctx).Create(author).Error
}

func (r *Repository) SaveAuthor(ctx context.Context, author *models.Author) error {
	return r.db.WithContext(ctx).Save(author).Error
}

func (r *Repository) FindAuthor(ctx context.Context, id uuid.UUID) (*models.Author, error) {
	var author models.Author
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&author).Error; err != nil {
		return nil, err
	}
	return &author, nil
}

func (r *Repository) DeleteAuthor(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Author{})
	return res.RowsAffected, res.Error
}

func (r *Repository) CountBooksByAuthor(ctx context.Context, authorID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Book{}).Where("author_id = ?", authorID).Count(&count).Error
	return count, err
}

func (r *Repository) ListAuthors(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Author, error) {
	query := r.db.WithContext(ctx).Model(&models.Author{})
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Author
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) CountAuthors(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Author{}).Count(&count).Error
	return count, err
}

func (r *Repository) CreateBook(ctx context.Context, book *models.Book) error {
	return r.db.WithContext(ctx).Omit("Author").Create(book).Error
}

// SaveBook writes the editable columns only; admission_version and cover_key
// have their own writers.
func (r *Repository) SaveBook(ctx context.Context, book *models.Book) error {
	return r.db.WithContext(ctx).
		Model(book).
		Select("title", "description", "isbn", "author_id", "published_year", "copies_count", "updated_at").
		Updates(book).Error
}

func (r *Repository) FindBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).Preload("Author").Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// LockBook serializes with reservation admissions on the same book row.
func (r *Repository) LockBook(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", id).
		UpdateColumn("admission_version", gorm.Expr("admission_version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) DeleteBook(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Book{})
	return res.RowsAffected, res.Error
}

// SetCoverKey stores the cover object key and returns the key it replaced.
func (r *Repository) SetCoverKey(ctx context.Context, id uuid.UUID, key string) (*string, error) {
	var previous *string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var book models.Book
		if err := tx.Select("id", "cover_key").Where("id = ?", id).First(&book).Error; err != nil {
			return err
		}
		previous = book.CoverKey
		return tx.Model(&models.Book{}).Where("id = ?", id).UpdateColumn("cover_key", key).Error
	})
	return previous, err
}

func (r *Repository) CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status <> ?", bookID, enums.ReservationStatusReturned).
		Count(&count).Error
	return count, err
}

type bookFilter struct {
	Query    string
	AuthorID *uuid.UUID
}

func (r *Repository) filteredBooks(ctx context.Context, filter bookFilter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Joins("JOIN authors ON authors.id = books.author_id")
	if filter.AuthorID != nil {
		query = query.Where("books.author_id = ?", *filter.AuthorID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		query = query.Where(`(LOWER(books.title) LIKE ? ESCAPE '\') OR (LOWER(authors.name) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	return query
}

func (r *Repository) ListBooks(ctx context.Context, filter bookFilter, cursor *pagination.Cursor, limit int) ([]models.Book, error) {
	query := r.filteredBooks(ctx, filter).Preload("Author")
	if cursor != nil {
		query = query.Where("(books.created_at < ?) OR (books.created_at = ? AND books.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Book
	err := query.
		Select("books.*").
		Order("books.created_at DESC").
		Order("books.id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) CountBooks(ctx context.Context, filter bookFilter) (int64, error) {
	var count int64
	err := r.filteredBooks(ctx, filter).Count(&count).Error
	return count, err
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
