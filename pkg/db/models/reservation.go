package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reservation is a ledger row: one user borrowing one copy of a book.
type Reservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookID     uuid.UUID               `gorm:"column:book_id;type:uuid;not null;index:reservations_book_id_idx"`
	Book       *Book                   `gorm:"foreignKey:BookID"`
	UserID     uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index:reservations_user_id_idx"`
	Status     enums.ReservationStatus `gorm:"column:status;type:text;not null"`
	DueDate    time.Time               `gorm:"column:due_date;not null"`
	ReturnedAt *time.Time              `gorm:"column:returned_at"`
	LateFee    decimal.Decimal         `gorm:"column:late_fee;type:numeric(10,2);not null;default:0"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
