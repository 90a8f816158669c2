package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reservations repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("admission_version", gorm.Expr("admission_version + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindBook(ctx, bookID)
}

func (r *repository) FindBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).
		Preload("Author").
		Where("id = ?", bookID).
		First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *repository) CountActive(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status <> ?", bookID, enums.ReservationStatusReturned).
		Count(&count).Error
	return count, err
}

func (r *repository) FindActiveForUser(ctx context.Context, bookID, userID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND user_id = ? AND status <> ?", bookID, userID, enums.ReservationStatusReturned).
		Limit(1).
		Find(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == uuid.Nil {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).
		Preload("Book").
		Where("id = ?", id).
		First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// MarkReturned moves an unreturned row to returned and reports how many rows changed.
func (r *repository) MarkReturned(ctx context.Context, id uuid.UUID, at time.Time, lateFee decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status <> ?", id, enums.ReservationStatusReturned).
		Updates(map[string]any{
			"status":      enums.ReservationStatusReturned,
			"returned_at": at,
			"late_fee":    lateFee,
			"updated_at":  at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", enums.ReservationStatusOutstanding, cutoff).
		Order("due_date ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkOverdue(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	flipped := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		res := r.db.WithContext(ctx).
			Model(&models.Reservation{}).
			Where("id = ? AND status = ?", id, enums.ReservationStatusOutstanding).
			Updates(map[string]any{
				"status":     enums.ReservationStatusOverdue,
				"updated_at": at,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			flipped = append(flipped, id)
		}
	}
	return flipped, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).
		Preload("Book").
		Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Reservation
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
