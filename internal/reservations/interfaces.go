package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/outbox"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository persists the reservation ledger and the per-book admission lock.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// LockBook bumps the book's admission version. On Postgres the row lock is
	// held until the surrounding transaction ends.
	LockBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	FindBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	CountActive(ctx context.Context, bookID uuid.UUID) (int64, error)
	FindActiveForUser(ctx context.Context, bookID, userID uuid.UUID) (*models.Reservation, error)
	Create(ctx context.Context, reservation *models.Reservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	MarkReturned(ctx context.Context, id uuid.UUID, at time.Time, lateFee decimal.Decimal) (int64, error)
	ListDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
	// MarkOverdue flips the still-outstanding rows among ids and returns the
	// ids it actually changed.
	MarkOverdue(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
	ListForUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Reservation, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type holdStore interface {
	Window() time.Duration
	Place(ctx context.Context, bookID, userID uuid.UUID, at time.Time) (holds.Hold, error)
	Restore(ctx context.Context, hold holds.Hold) error
	CountLive(ctx context.Context, bookID uuid.UUID, now time.Time) (int64, error)
	FindLive(ctx context.Context, bookID, userID uuid.UUID, now time.Time) (holds.Hold, bool, error)
	Remove(ctx context.Context, bookID, userID uuid.UUID) (bool, error)
}

// EventRecorder writes reservation lifecycle events into the caller's
// transaction.
type EventRecorder interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CoverSigner turns a stored cover object key into a readable URL.
type CoverSigner interface {
	CoverURL(key string) (string, error)
}
