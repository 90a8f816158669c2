package favorites

import (
	"context"
	"strings"

	"github.com/google/uuid"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/pagination"
)

// Service exposes business rules for favorites management.
type Service interface {
	List(ctx context.Context, userID uuid.UUID, cursor string, limit int) (FavoritesPageDTO, error)
	Add(ctx context.Context, userID, bookID uuid.UUID) error
	Remove(ctx context.Context, userID, bookID uuid.UUID) error
}

type service struct {
	repo *Repository
}

// NewService builds a favorites service with the required dependencies.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "favorites repo is required")
	}
	return &service{repo: repo}, nil
}

// List returns the paginated favorites for a user.
func (s *service) List(ctx context.Context, userID uuid.UUID, cursor string, limit int) (FavoritesPageDTO, error) {
	if userID == uuid.Nil {
		return FavoritesPageDTO{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id missing")
	}
	cursorValue := strings.TrimSpace(cursor)
	decoded, err := pagination.ParseCursor(cursorValue)
	if err != nil {
		return FavoritesPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	records, err := s.repo.ListItems(ctx, userID, decoded, pagination.LimitWithBuffer(limit))
	if err != nil {
		return FavoritesPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list favorites")
	}
	page, next := pagination.Trim(records, limit, func(r favoriteRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.FavoriteCreatedAt, ID: r.FavoriteID}
	})
	total, err := s.repo.CountItems(ctx, userID)
	if err != nil {
		return FavoritesPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count favorites")
	}

	items := make([]FavoriteDTO, 0, len(page))
	for _, record := range page {
		items = append(items, record.toDTO())
	}
	return FavoritesPageDTO{
		Items:      items,
		Pagination: pagination.Meta{Total: int(total), Current: cursorValue, Next: next},
	}, nil
}

// Add ensures the book exists and saves it for the user.
func (s *service) Add(ctx context.Context, userID, bookID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user id missing")
	}
	if bookID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}
	exists, err := s.repo.BookExists(ctx, bookID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load book")
	}
	if !exists {
		return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}
	if err := s.repo.AddItem(ctx, userID, bookID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add favorite")
	}
	return nil
}

// Remove drops the favorite regardless of prior state.
func (s *service) Remove(ctx context.Context, userID, bookID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user id missing")
	}
	if err := s.repo.RemoveItem(ctx, userID, bookID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove favorite")
	}
	return nil
}
