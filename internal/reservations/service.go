package reservations

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/pkg/clock"
	"github.com/libraryhq/library-backend/pkg/db"
	"github.com/libraryhq/library-backend/pkg/db/models"
	"github.com/libraryhq/library-backend/pkg/enums"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/metrics"
	"github.com/libraryhq/library-backend/pkg/outbox"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	// DefaultMaxLoanDays bounds reserveLength when no limit is configured.
	DefaultMaxLoanDays = 30
	overdueBatchSize   = 500
	loanDay            = 24 * time.Hour
)

// ServiceParams groups dependencies for the reservations service.
type ServiceParams struct {
	TxRunner      txRunner
	Repo          Repository
	Holds         holdStore
	Clock         clock.Clock
	Events        EventRecorder
	Covers        CoverSigner
	Metrics       *metrics.ReservationMetrics
	Logger        *logger.Logger
	MaxLoanDays   int
	LateFeePerDay decimal.Decimal
}

// Service is the reservation admission check plus the reservation lifecycle.
type Service interface {
	CountLiveHolds(ctx context.Context, bookID uuid.UUID) (int64, error)
	CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int64, error)
	UnavailableCount(ctx context.Context, bookID uuid.UUID) (int64, error)
	PlaceHold(ctx context.Context, bookID, userID uuid.UUID) (HoldDTO, error)
	CommitReservation(ctx context.Context, bookID, userID uuid.UUID, loanDays int) (ReservationDTO, error)
	ReturnReservation(ctx context.Context, reservationID uuid.UUID) (ReservationDTO, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (ReservationPageDTO, error)
	BookSummary(ctx context.Context, bookID uuid.UUID) (BookSummaryDTO, error)
	MaxLoanDays() int
}

type service struct {
	tx            txRunner
	repo          Repository
	holds         holdStore
	clock         clock.Clock
	events        EventRecorder
	covers        CoverSigner
	metrics       *metrics.ReservationMetrics
	logg          *logger.Logger
	maxLoanDays   int
	lateFeePerDay decimal.Decimal
}

// NewService builds a reservations service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx runner is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation repo is required")
	}
	if params.Holds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold store is required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	maxDays := params.MaxLoanDays
	if maxDays <= 0 {
		maxDays = DefaultMaxLoanDays
	}
	return &service{
		tx:            params.TxRunner,
		repo:          params.Repo,
		holds:         params.Holds,
		clock:         clk,
		events:        params.Events,
		covers:        params.Covers,
		metrics:       params.Metrics,
		logg:          params.Logger,
		maxLoanDays:   maxDays,
		lateFeePerDay: params.LateFeePerDay,
	}, nil
}

func (s *service) MaxLoanDays() int {
	return s.maxLoanDays
}

// CountLiveHolds counts holds placed within the live window. Expired entries
// are filtered, not deleted.
func (s *service) CountLiveHolds(ctx context.Context, bookID uuid.UUID) (int64, error) {
	n, err := s.holds.CountLive(ctx, bookID, s.clock.Now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count live holds")
	}
	return n, nil
}

// CountActiveReservations counts outstanding and overdue reservations.
func (s *service) CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int64, error) {
	n, err := s.repo.CountActive(ctx, bookID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active reservations")
	}
	return n, nil
}

// UnavailableCount is a read-only snapshot of active reservations plus live holds.
func (s *service) UnavailableCount(ctx context.Context, bookID uuid.UUID) (int64, error) {
	active, err := s.CountActiveReservations(ctx, bookID)
	if err != nil {
		return 0, err
	}
	live, err := s.CountLiveHolds(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return active + live, nil
}

// PlaceHold claims a copy for userID. Admissions for one book are serialized
// on the book row, so the capacity count and the hold write act as one step.
// A caller that already has a live hold gets it refreshed.
func (s *service) PlaceHold(ctx context.Context, bookID, userID uuid.UUID) (HoldDTO, error) {
	if bookID == uuid.Nil || userID == uuid.Nil {
		return HoldDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "book id and user id are required")
	}
	now := s.clock.Now()
	var (
		hold    holds.Hold
		placed  bool
		outcome = metrics.OutcomeHoldPlaced
	)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		book, err := s.lockBook(ctx, repo, bookID)
		if err != nil {
			return err
		}

		_, live, err := s.holds.FindLive(ctx, bookID, userID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup hold")
		}
		if live {
			outcome = metrics.OutcomeHoldRefreshed
			hold, err = s.holds.Place(ctx, bookID, userID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refresh hold")
			}
			return nil
		}

		existing, err := repo.FindActiveForUser(ctx, bookID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup active reservation")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "book already reserved by user")
		}

		active, err := repo.CountActive(ctx, bookID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active reservations")
		}
		liveHolds, err := s.holds.CountLive(ctx, bookID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count live holds")
		}
		if active+liveHolds >= int64(book.CopiesCount) {
			return pkgerrors.New(pkgerrors.CodeNoCopiesAvailable, "no copies available").
				WithDetails(map[string]any{"copies": book.CopiesCount, "unavailable": active + liveHolds})
		}

		hold, err = s.holds.Place(ctx, bookID, userID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "place hold")
		}
		placed = true
		return nil
	})
	if err != nil {
		err = asInternal(err, "place hold")
		if placed {
			if _, rmErr := s.holds.Remove(context.WithoutCancel(ctx), bookID, userID); rmErr != nil {
				s.logError(ctx, bookID, "hold left behind after failed admission", rmErr)
			}
		}
		s.metrics.ObserveHold(holdOutcome(err))
		return HoldDTO{}, err
	}

	s.metrics.ObserveHold(outcome)
	s.logInfo(ctx, bookID, userID, "hold "+strings.TrimPrefix(outcome, "hold_"))
	return toHoldDTO(hold, s.holds.Window()), nil
}

// CommitReservation converts the caller's live hold into an outstanding
// reservation due loanDays from now. The ledger insert and the hold removal
// succeed or fail together.
func (s *service) CommitReservation(ctx context.Context, bookID, userID uuid.UUID, loanDays int) (ReservationDTO, error) {
	if bookID == uuid.Nil || userID == uuid.Nil {
		return ReservationDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "book id and user id are required")
	}
	if loanDays < 1 || loanDays > s.maxLoanDays {
		return ReservationDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "loan length out of range").
			WithDetails(map[string]any{"min": 1, "max": s.maxLoanDays})
	}
	now := s.clock.Now()
	var (
		created models.Reservation
		removed *holds.Hold
	)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.lockBook(ctx, repo, bookID); err != nil {
			return err
		}

		hold, live, err := s.holds.FindLive(ctx, bookID, userID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup hold")
		}
		if !live {
			return pkgerrors.New(pkgerrors.CodeHoldExpired, "hold expired or missing")
		}

		existing, err := repo.FindActiveForUser(ctx, bookID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup active reservation")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "book already reserved by user")
		}

		created = models.Reservation{
			BookID:    bookID,
			UserID:    userID,
			Status:    enums.ReservationStatusOutstanding,
			DueDate:   now.Add(time.Duration(loanDays) * loanDay),
			LateFee:   decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.Create(ctx, &created); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "book already reserved by user")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert reservation")
		}

		ok, err := s.holds.Remove(ctx, bookID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove hold")
		}
		if ok {
			removed = &hold
		}
		return s.record(ctx, tx, enums.EventReservationCreated, created, now)
	})
	if err != nil {
		err = asInternal(err, "commit reservation")
		if removed != nil {
			if restoreErr := s.holds.Restore(context.WithoutCancel(ctx), *removed); restoreErr != nil {
				s.logError(ctx, bookID, "restore hold after failed commit", restoreErr)
			}
		}
		s.metrics.ObserveCommit(commitOutcome(err))
		return ReservationDTO{}, err
	}

	s.metrics.ObserveCommit(metrics.OutcomeCommitted)
	s.logInfo(ctx, bookID, userID, "reservation committed")
	return toReservationDTO(created), nil
}

// ReturnReservation closes an outstanding or overdue reservation and charges
// the late fee for every started day past the due date.
func (s *service) ReturnReservation(ctx context.Context, reservationID uuid.UUID) (ReservationDTO, error) {
	if reservationID == uuid.Nil {
		return ReservationDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	now := s.clock.Now()
	var updated models.Reservation

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, reservationID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservation")
		}
		if !current.Status.CanTransitionTo(enums.ReservationStatusReturned) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already returned").
				WithDetails(map[string]any{"status": current.Status})
		}

		fee := LateFee(current.DueDate, now, s.lateFeePerDay)
		rows, err := repo.MarkReturned(ctx, reservationID, now, fee)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark reservation returned")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already returned")
		}

		updated = *current
		updated.Status = enums.ReservationStatusReturned
		returnedAt := now
		updated.ReturnedAt = &returnedAt
		updated.LateFee = fee
		updated.UpdatedAt = now
		return s.record(ctx, tx, enums.EventReservationReturned, updated, now)
	})
	if err != nil {
		return ReservationDTO{}, asInternal(err, "return reservation")
	}

	s.logInfo(ctx, updated.BookID, updated.UserID, "reservation returned")
	return toReservationDTO(updated), nil
}

// MarkOverdue flips outstanding reservations whose due date has passed. Each
// batch and its events commit together.
func (s *service) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		var batch []models.Reservation
		var changed int64
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			rows, err := repo.ListDueBefore(ctx, now, overdueBatchSize)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			ids := make([]uuid.UUID, 0, len(rows))
			for _, row := range rows {
				ids = append(ids, row.ID)
			}
			flipped, err := repo.MarkOverdue(ctx, ids, now)
			if err != nil {
				return err
			}
			changed = int64(len(flipped))
			marked := make(map[uuid.UUID]struct{}, len(flipped))
			for _, id := range flipped {
				marked[id] = struct{}{}
			}
			for _, row := range rows {
				if _, ok := marked[row.ID]; !ok {
					continue
				}
				row.Status = enums.ReservationStatusOverdue
				row.UpdatedAt = now
				if err := s.record(ctx, tx, enums.EventReservationOverdue, row, now); err != nil {
					return err
				}
			}
			batch = rows
			return nil
		})
		if err != nil {
			return total, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark reservations overdue")
		}
		total += changed
		if len(batch) < overdueBatchSize || changed == 0 {
			break
		}
	}

	s.metrics.AddOverdue(total)
	return total, nil
}

// ListForUser returns the caller's reservations, newest first.
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (ReservationPageDTO, error) {
	if userID == uuid.Nil {
		return ReservationPageDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursorValue := strings.TrimSpace(cursor)
	decoded, err := pagination.ParseCursor(cursorValue)
	if err != nil {
		return ReservationPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListForUser(ctx, userID, decoded, pagination.LimitWithBuffer(limit))
	if err != nil {
		return ReservationPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reservations")
	}
	page, next := pagination.Trim(rows, limit, func(r models.Reservation) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	total, err := s.repo.CountForUser(ctx, userID)
	if err != nil {
		return ReservationPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count reservations")
	}

	items := make([]ReservationDTO, 0, len(page))
	for _, row := range page {
		items = append(items, toReservationDTO(row))
	}
	return ReservationPageDTO{
		Items: items,
		Pagination: pagination.Meta{
			Total:   int(total),
			Current: cursorValue,
			Next:    next,
		},
	}, nil
}

// BookSummary returns the reservation page data with the current availability.
func (s *service) BookSummary(ctx context.Context, bookID uuid.UUID) (BookSummaryDTO, error) {
	book, err := s.repo.FindBook(ctx, bookID)
	if err != nil {
		if db.IsNotFound(err) {
			return BookSummaryDTO{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
		}
		return BookSummaryDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load book")
	}
	unavailable, err := s.UnavailableCount(ctx, bookID)
	if err != nil {
		return BookSummaryDTO{}, err
	}
	available := int64(book.CopiesCount) - unavailable
	if available < 0 {
		available = 0
	}

	summary := BookSummaryDTO{
		ID:              book.ID,
		Title:           book.Title,
		Description:     book.Description,
		AuthorID:        book.AuthorID,
		CopiesCount:     book.CopiesCount,
		AvailableCopies: available,
	}
	if book.Author != nil {
		summary.AuthorName = book.Author.Name
	}
	if book.CoverKey != nil && s.covers != nil {
		url, err := s.covers.CoverURL(*book.CoverKey)
		if err != nil {
			s.logError(ctx, bookID, "sign cover url", err)
		} else {
			summary.CoverURL = &url
		}
	}
	return summary, nil
}

// LateFee charges perDay for every started day between due and returned.
func LateFee(due, returned time.Time, perDay decimal.Decimal) decimal.Decimal {
	late := returned.Sub(due)
	if late <= 0 || perDay.IsZero() {
		return decimal.Zero
	}
	days := int64(math.Ceil(late.Hours() / 24))
	return perDay.Mul(decimal.NewFromInt(days))
}

func (s *service) lockBook(ctx context.Context, repo Repository, bookID uuid.UUID) (*models.Book, error) {
	book, err := repo.LockBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock book")
	}
	return book, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, r models.Reservation, now time.Time) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateReservation,
		AggregateID:   r.ID,
		Data:          toEvent(r),
		OccurredAt:    now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record "+string(eventType))
	}
	return nil
}

func (s *service) logInfo(ctx context.Context, bookID, userID uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithBookID(ctx, bookID.String())
	ctx = s.logg.WithUserID(ctx, userID.String())
	s.logg.Info(ctx, msg)
}

func (s *service) logError(ctx context.Context, bookID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithBookID(ctx, bookID.String()), msg, err)
}

// asInternal keeps typed errors and classifies anything else, such as a
// failed transaction commit, as internal.
func asInternal(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

func holdOutcome(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNoCopiesAvailable):
		return metrics.OutcomeUnavailable
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		return metrics.OutcomeAlreadyReserved
	default:
		return metrics.OutcomeError
	}
}

func commitOutcome(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeHoldExpired):
		return metrics.OutcomeHoldExpired
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		return metrics.OutcomeAlreadyReserved
	default:
		return metrics.OutcomeError
	}
}
