package reservations

import (
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/libraryhq/library-backend/pkg/pagination"
)

// ReservationDTO is the API representation of a ledger row.
type ReservationDTO struct {
	ID         uuid.UUID               `json:"id"`
	BookID     uuid.UUID               `json:"book_id"`
	BookTitle  *string                 `json:"book_title,omitempty"`
	UserID     uuid.UUID               `json:"user_id"`
	Status     enums.ReservationStatus `json:"status"`
	DueDate    time.Time               `json:"due_date"`
	ReturnedAt *time.Time              `json:"returned_at,omitempty"`
	LateFee    string                  `json:"late_fee"`
	CreatedAt  time.Time               `json:"created_at"`
}

// ReservationPageDTO is a cursor-paginated list of reservations.
type ReservationPageDTO struct {
	Items      []ReservationDTO `json:"items"`
	Pagination pagination.Meta  `json:"pagination"`
}

// HoldDTO describes the caller's live hold on a book.
type HoldDTO struct {
	BookID    uuid.UUID `json:"book_id"`
	PlacedAt  time.Time `json:"placed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BookSummaryDTO is the display data for the reservation page.
type BookSummaryDTO struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	AuthorID        uuid.UUID `json:"author_id"`
	AuthorName      string    `json:"author_name"`
	CoverURL        *string   `json:"cover_url,omitempty"`
	CopiesCount     int       `json:"copies_count"`
	AvailableCopies int64     `json:"available_copies"`
}

type reservationEvent struct {
	ReservationID uuid.UUID               `json:"reservationId"`
	BookID        uuid.UUID               `json:"bookId"`
	UserID        uuid.UUID               `json:"userId"`
	Status        enums.ReservationStatus `json:"status"`
	DueDate       time.Time               `json:"dueDate"`
	LateFee       string                  `json:"lateFee,omitempty"`
}

func toReservationDTO(r models.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		Status:     r.Status,
		DueDate:    r.DueDate.UTC(),
		ReturnedAt: r.ReturnedAt,
		LateFee:    r.LateFee.StringFixed(2),
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.Book != nil {
		title := r.Book.Title
		dto.BookTitle = &title
	}
	return dto
}

func toHoldDTO(h holds.Hold, window time.Duration) HoldDTO {
	return HoldDTO{
		BookID:    h.BookID,
		PlacedAt:  h.PlacedAt.UTC(),
		ExpiresAt: h.ExpiresAt(window).UTC(),
	}
}

func toEvent(r models.Reservation) reservationEvent {
	ev := reservationEvent{
		ReservationID: r.ID,
		BookID:        r.BookID,
		UserID:        r.UserID,
		Status:        r.Status,
		DueDate:       r.DueDate.UTC(),
	}
	if r.Status == enums.ReservationStatusReturned {
		ev.LateFee = r.LateFee.StringFixed(2)
	}
	return ev
}
