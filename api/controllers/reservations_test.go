package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/api/middleware"
	"github.com/libraryhq/library-backend/internal/reservations"
	"github.com/libraryhq/library-backend/pkg/enums"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubReservationService struct {
	reservations.Service

	holdErr      error
	summaryErr   error
	commitErr    error
	commitDays   int
	commitCalled bool
	returnedID   uuid.UUID
	maxDays      int
}

func (s *stubReservationService) PlaceHold(ctx context.Context, bookID, userID uuid.UUID) (reservations.HoldDTO, error) {
	if s.holdErr != nil {
		return reservations.HoldDTO{}, s.holdErr
	}
	placed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return reservations.HoldDTO{BookID: bookID, PlacedAt: placed, ExpiresAt: placed.Add(15 * time.Minute)}, nil
}

func (s *stubReservationService) BookSummary(ctx context.Context, bookID uuid.UUID) (reservations.BookSummaryDTO, error) {
	if s.summaryErr != nil {
		return reservations.BookSummaryDTO{}, s.summaryErr
	}
	return reservations.BookSummaryDTO{ID: bookID, Title: "Dune", AuthorName: "Frank Herbert", CopiesCount: 2, AvailableCopies: 1}, nil
}

func (s *stubReservationService) CommitReservation(ctx context.Context, bookID, userID uuid.UUID, loanDays int) (reservations.ReservationDTO, error) {
	s.commitCalled = true
	s.commitDays = loanDays
	if s.commitErr != nil {
		return reservations.ReservationDTO{}, s.commitErr
	}
	return reservations.ReservationDTO{
		ID:      uuid.New(),
		BookID:  bookID,
		UserID:  userID,
		Status:  enums.ReservationStatusOutstanding,
		DueDate: time.Now().AddDate(0, 0, loanDays),
		LateFee: "0.00",
	}, nil
}

func (s *stubReservationService) ReturnReservation(ctx context.Context, id uuid.UUID) (reservations.ReservationDTO, error) {
	s.returnedID = id
	return reservations.ReservationDTO{ID: id, Status: enums.ReservationStatusReturned, LateFee: "0.00"}, nil
}

func (s *stubReservationService) MaxLoanDays() int {
	if s.maxDays == 0 {
		return 30
	}
	return s.maxDays
}

func bookRequest(method, target, body string, bookID uuid.UUID, userID *uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", bookID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != nil {
		ctx = middleware.WithUserID(ctx, userID.String())
	}
	return req.WithContext(ctx)
}

func decodeRaw(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCommitReservationResponses(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()

	cases := []struct {
		name       string
		body       string
		commitErr  error
		wantStatus int
		wantBody   map[string]any
		wantCommit bool
	}{
		{
			name:       "missing field",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"reserveLength": "Length of reservation is required."},
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"reserveLength": "Length of reservation is required."},
		},
		{
			name:       "blank string",
			body:       `{"reserveLength":"  "}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"reserveLength": "Length of reservation is required."},
		},
		{
			name:       "not a number",
			body:       `{"reserveLength":"soon"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"reserveLength": "Length of reservation must be between 1 and 30 days."},
		},
		{
			name:       "out of range",
			body:       `{"reserveLength":"31"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"reserveLength": "Length of reservation must be between 1 and 30 days."},
		},
		{
			name:       "hold expired",
			body:       `{"reserveLength":"7"}`,
			commitErr:  pkgerrors.New(pkgerrors.CodeHoldExpired, "no live hold"),
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"timeout": true},
			wantCommit: true,
		},
		{
			name:       "already reserved",
			body:       `{"reserveLength":"7"}`,
			commitErr:  pkgerrors.New(pkgerrors.CodeConflict, "book already reserved by user"),
			wantStatus: http.StatusConflict,
			wantBody:   map[string]any{"alreadyReserved": true},
			wantCommit: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubReservationService{commitErr: tc.commitErr}
			rec := httptest.NewRecorder()
			req := bookRequest(http.MethodPost, "/api/books/"+bookID.String()+"/reservation", tc.body, bookID, &userID)

			CommitReservation(svc, nil).ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			require.Equal(t, tc.wantBody, decodeRaw(t, rec))
			require.Equal(t, tc.wantCommit, svc.commitCalled)
		})
	}
}

func TestCommitReservationSuccessAcceptsStringAndNumber(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()

	for _, body := range []string{`{"reserveLength":"14"}`, `{"reserveLength":14}`} {
		svc := &stubReservationService{}
		rec := httptest.NewRecorder()
		req := bookRequest(http.MethodPost, "/", body, bookID, &userID)

		CommitReservation(svc, nil).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, 14, svc.commitDays)
		out := decodeRaw(t, rec)
		reservation, ok := out["reservation"].(map[string]any)
		if !ok {
			t.Fatalf("expected reservation object, got %v", out)
		}
		require.Equal(t, bookID.String(), reservation["book_id"])
		require.Equal(t, "outstanding", reservation["status"])
	}
}

func TestCommitReservationStorageFailure(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()
	svc := &stubReservationService{commitErr: pkgerrors.New(pkgerrors.CodeInternal, "insert reservation")}
	rec := httptest.NewRecorder()

	CommitReservation(svc, nil).ServeHTTP(rec, bookRequest(http.MethodPost, "/", `{"reserveLength":"3"}`, bookID, &userID))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCommitReservationRequiresUser(t *testing.T) {
	svc := &stubReservationService{}
	rec := httptest.NewRecorder()

	CommitReservation(svc, nil).ServeHTTP(rec, bookRequest(http.MethodPost, "/", `{"reserveLength":"3"}`, uuid.New(), nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, svc.commitCalled)
}

func TestReservationPage(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()

	t.Run("hold placed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReservationPage(&stubReservationService{}, nil).ServeHTTP(rec, bookRequest(http.MethodGet, "/", "", bookID, &userID))

		require.Equal(t, http.StatusOK, rec.Code)
		out := decodeRaw(t, rec)
		book := out["book"].(map[string]any)
		hold := out["hold"].(map[string]any)
		require.Equal(t, "Dune", book["title"])
		require.Equal(t, "2026-03-01T12:15:00Z", hold["expires_at"])
	})

	t.Run("no copies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc := &stubReservationService{holdErr: pkgerrors.New(pkgerrors.CodeNoCopiesAvailable, "no copies available")}
		ReservationPage(svc, nil).ServeHTTP(rec, bookRequest(http.MethodGet, "/", "", bookID, &userID))

		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, map[string]any{"unavailable": true}, decodeRaw(t, rec))
	})

	t.Run("already reserved", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc := &stubReservationService{holdErr: pkgerrors.New(pkgerrors.CodeConflict, "book already reserved by user")}
		ReservationPage(svc, nil).ServeHTTP(rec, bookRequest(http.MethodGet, "/", "", bookID, &userID))

		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, map[string]any{"alreadyReserved": true}, decodeRaw(t, rec))
	})

	t.Run("unknown book", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc := &stubReservationService{holdErr: pkgerrors.New(pkgerrors.CodeNotFound, "book not found")}
		ReservationPage(svc, nil).ServeHTTP(rec, bookRequest(http.MethodGet, "/", "", bookID, &userID))

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminReturnReservation(t *testing.T) {
	id := uuid.New()
	svc := &stubReservationService{}
	rec := httptest.NewRecorder()

	AdminReturnReservation(svc, nil).ServeHTTP(rec, bookRequest(http.MethodPost, "/", "", id, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, svc.returnedID)
}

func TestAdminReturnReservationRejectsBadID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	AdminReturnReservation(&stubReservationService{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
