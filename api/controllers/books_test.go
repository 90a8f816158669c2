package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/api/middleware"
	"github.com/libraryhq/library-backend/internal/catalog"
	"github.com/libraryhq/library-backend/internal/covers"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubCatalogService struct {
	catalog.Service

	lastList    catalog.ListBooksInput
	created     catalog.CreateBookInput
	deleted     uuid.UUID
	deleteErr   error
	authorsPage struct {
		cursor string
		limit  int
	}
}

func (s *stubCatalogService) ListBooks(ctx context.Context, input catalog.ListBooksInput) (catalog.BookPageDTO, error) {
	s.lastList = input
	return catalog.BookPageDTO{Items: []catalog.BookDTO{}}, nil
}

func (s *stubCatalogService) GetBook(ctx context.Context, id uuid.UUID) (catalog.BookDTO, error) {
	return catalog.BookDTO{}, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
}

func (s *stubCatalogService) CreateBook(ctx context.Context, input catalog.CreateBookInput) (catalog.BookDTO, error) {
	s.created = input
	return catalog.BookDTO{ID: uuid.New(), Title: input.Title, CopiesCount: input.CopiesCount}, nil
}

func (s *stubCatalogService) DeleteBook(ctx context.Context, id uuid.UUID) error {
	s.deleted = id
	return s.deleteErr
}

func (s *stubCatalogService) ListAuthors(ctx context.Context, cursor string, limit int) (catalog.AuthorPageDTO, error) {
	s.authorsPage.cursor = cursor
	s.authorsPage.limit = limit
	return catalog.AuthorPageDTO{Items: []catalog.AuthorDTO{}}, nil
}

func withID(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestListBooksParsesFilters(t *testing.T) {
	svc := &stubCatalogService{}
	authorID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/books?q=+dune+&authorId="+authorID.String()+"&limit=5&cursor=abc", nil)
	rec := httptest.NewRecorder()

	ListBooks(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dune", svc.lastList.Query)
	require.NotNil(t, svc.lastList.AuthorID)
	require.Equal(t, authorID, *svc.lastList.AuthorID)
	require.Equal(t, 5, svc.lastList.Limit)
	require.Equal(t, "abc", svc.lastList.Cursor)
}

func TestListBooksRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad author": "/api/books?authorId=nope",
		"bad limit":  "/api/books?limit=1000",
		"long query": "/api/books?q=" + strings.Repeat("a", maxSearchLength+1),
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ListBooks(&stubCatalogService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetBookNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := withID(httptest.NewRequest(http.MethodGet, "/", nil), "id", uuid.NewString())

	GetBook(&stubCatalogService{}, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCreateBook(t *testing.T) {
	svc := &stubCatalogService{}
	authorID := uuid.New()
	body := `{"title":"Dune","author_id":"` + authorID.String() + `","copies_count":3}`
	rec := httptest.NewRecorder()

	AdminCreateBook(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/books", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Dune", svc.created.Title)
	require.Equal(t, authorID, svc.created.AuthorID)
	require.Equal(t, 3, svc.created.CopiesCount)
}

func TestAdminCreateBookTrimsDescription(t *testing.T) {
	svc := &stubCatalogService{}
	body := `{"title":"Dune","author_id":"` + uuid.NewString() + `","copies_count":1,"description":"  desert planet  "}`
	rec := httptest.NewRecorder()

	AdminCreateBook(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/books", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.created.Description)
	require.Equal(t, "desert planet", *svc.created.Description)
}

func TestAdminCreateBookRequiresTitle(t *testing.T) {
	body := `{"author_id":"` + uuid.NewString() + `","copies_count":1}`
	rec := httptest.NewRecorder()

	AdminCreateBook(&stubCatalogService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDeleteBook(t *testing.T) {
	id := uuid.New()

	t.Run("deleted", func(t *testing.T) {
		svc := &stubCatalogService{}
		rec := httptest.NewRecorder()
		AdminDeleteBook(svc, nil).ServeHTTP(rec, withID(httptest.NewRequest(http.MethodDelete, "/", nil), "id", id.String()))

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, id, svc.deleted)
	})

	t.Run("unreturned reservations", func(t *testing.T) {
		svc := &stubCatalogService{deleteErr: pkgerrors.New(pkgerrors.CodeConflict, "book has unreturned reservations")}
		rec := httptest.NewRecorder()
		AdminDeleteBook(svc, nil).ServeHTTP(rec, withID(httptest.NewRequest(http.MethodDelete, "/", nil), "id", id.String()))

		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestListAuthorsDefaultsLimit(t *testing.T) {
	svc := &stubCatalogService{}
	rec := httptest.NewRecorder()

	ListAuthors(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/authors", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 25, svc.authorsPage.limit)
	require.Empty(t, svc.authorsPage.cursor)
}

type stubCoverService struct {
	covers.Service
	input covers.PresignInput
}

func (s *stubCoverService) PresignUpload(ctx context.Context, bookID uuid.UUID, input covers.PresignInput) (*covers.PresignOutput, error) {
	s.input = input
	return &covers.PresignOutput{BookID: bookID, GCSKey: "covers/x/y/dune.png", SignedPUTURL: "https://signed"}, nil
}

func TestAdminPresignCover(t *testing.T) {
	svc := &stubCoverService{}
	body := `{"mime_type":"image/png","file_name":"dune.png","size_bytes":1024}`
	req := withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "id", uuid.NewString())
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()

	AdminPresignCover(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "image/png", svc.input.MimeType)
	require.Equal(t, int64(1024), svc.input.SizeBytes)
}

func TestAdminPresignCoverUnconfigured(t *testing.T) {
	req := withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), "id", uuid.NewString())
	rec := httptest.NewRecorder()

	AdminPresignCover(nil, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
