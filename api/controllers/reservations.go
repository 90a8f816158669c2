package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/libraryhq/library-backend/api/responses"
	"github.com/libraryhq/library-backend/internal/reservations"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/logger"
)

const (
	reserveLengthRequired = "Length of reservation is required."
	reserveLengthRange    = "Length of reservation must be between 1 and %d days."
	maxReservationBody    = 4 << 10
)

type reservationPageResponse struct {
	Book reservations.BookSummaryDTO `json:"book"`
	Hold reservations.HoldDTO        `json:"hold"`
}

type reservationResponse struct {
	Reservation reservations.ReservationDTO `json:"reservation"`
}

type reserveRequest struct {
	ReserveLength json.RawMessage `json:"reserveLength"`
}

// errLengthMissing marks a body without a usable reserveLength value.
var errLengthMissing = errors.New("reserve length missing")

// ReservationPage places or refreshes the caller's hold on the book and returns
// the data the reservation page renders.
func ReservationPage(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bookID, err := uuidParam(r, "id", "book id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hold, err := svc.PlaceHold(r.Context(), bookID, userID)
		if err != nil {
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeNoCopiesAvailable):
				responses.WriteRaw(w, http.StatusConflict, map[string]bool{"unavailable": true})
			case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
				responses.WriteRaw(w, http.StatusConflict, map[string]bool{"alreadyReserved": true})
			default:
				responses.WriteError(r.Context(), logg, w, err)
			}
			return
		}

		book, err := svc.BookSummary(r.Context(), bookID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteRaw(w, http.StatusOK, reservationPageResponse{Book: book, Hold: hold})
	}
}

// CommitReservation turns the caller's live hold into a reservation.
func CommitReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bookID, err := uuidParam(r, "id", "book id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		maxDays := svc.MaxLoanDays()
		days, err := decodeReserveLength(r, maxDays)
		if err != nil {
			if errors.Is(err, errLengthMissing) {
				writeReserveLength(w, reserveLengthRequired)
				return
			}
			writeReserveLength(w, fmt.Sprintf(reserveLengthRange, maxDays))
			return
		}

		reservation, err := svc.CommitReservation(r.Context(), bookID, userID, days)
		if err != nil {
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeHoldExpired):
				responses.WriteRaw(w, http.StatusBadRequest, map[string]bool{"timeout": true})
			case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
				responses.WriteRaw(w, http.StatusConflict, map[string]bool{"alreadyReserved": true})
			case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
				writeReserveLength(w, fmt.Sprintf(reserveLengthRange, maxDays))
			default:
				responses.WriteError(r.Context(), logg, w, err)
			}
			return
		}
		responses.WriteRaw(w, http.StatusOK, reservationResponse{Reservation: reservation})
	}
}

// ListMyReservations pages through the caller's reservations.
func ListMyReservations(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForUser(r.Context(), userID, page.Cursor, page.Limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminReturnReservation marks a reservation returned and settles its late fee.
func AdminReturnReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservations service unavailable"))
			return
		}

		reservationID, err := uuidParam(r, "id", "reservation id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReturnReservation(r.Context(), reservationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// decodeReserveLength accepts the length as a decimal string or a JSON number.
// A missing, null or blank value yields errLengthMissing.
func decodeReserveLength(r *http.Request, maxDays int) (int, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxReservationBody))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return 0, errLengthMissing
	}

	var body reserveRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, errLengthMissing
	}
	value := bytes.TrimSpace(body.ReserveLength)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return 0, errLengthMissing
	}

	var text string
	if value[0] == '"' {
		if err := json.Unmarshal(value, &text); err != nil {
			return 0, errLengthMissing
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, errLengthMissing
		}
	} else {
		text = string(value)
	}

	days, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parse reserve length %q: %w", text, err)
	}
	if days < 1 || days > maxDays {
		return 0, fmt.Errorf("reserve length %d out of range", days)
	}
	return days, nil
}

func writeReserveLength(w http.ResponseWriter, msg string) {
	responses.WriteRaw(w, http.StatusBadRequest, map[string]string{"reserveLength": msg})
}
