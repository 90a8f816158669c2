package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/db"
	"github.com/libraryhq/library-backend/pkg/db/models"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/pagination"
	"gorm.io/gorm"
)

// AvailabilityCounter reports how many copies of a book are taken right now.
// CountLiveHolds must not touch the database; it runs inside the book lock.
type AvailabilityCounter interface {
	UnavailableCount(ctx context.Context, bookID uuid.UUID) (int64, error)
	CountLiveHolds(ctx context.Context, bookID uuid.UUID) (int64, error)
}

// CoverSigner turns a stored cover object key into a readable URL.
type CoverSigner interface {
	CoverURL(key string) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the catalog service.
type ServiceParams struct {
	Repo         *Repository
	TxRunner     txRunner
	Availability AvailabilityCounter
	Covers       CoverSigner
	Logger       *logger.Logger
}

// Service exposes catalog browsing and administration.
type Service interface {
	ListBooks(ctx context.Context, input ListBooksInput) (BookPageDTO, error)
	GetBook(ctx context.Context, id uuid.UUID) (BookDTO, error)
	CreateBook(ctx context.Context, input CreateBookInput) (BookDTO, error)
	UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (BookDTO, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ListAuthors(ctx context.Context, cursor string, limit int) (AuthorPageDTO, error)
	GetAuthor(ctx context.Context, id uuid.UUID) (AuthorDTO, error)
	CreateAuthor(ctx context.Context, input CreateAuthorInput) (AuthorDTO, error)
	UpdateAuthor(ctx context.Context, id uuid.UUID, input UpdateAuthorInput) (AuthorDTO, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo         *Repository
	tx           txRunner
	availability AvailabilityCounter
	covers       CoverSigner
	logg         *logger.Logger
}

// NewService builds a catalog service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "catalog repo is required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx runner is required")
	}
	return &service{
		repo:         params.Repo,
		tx:           params.TxRunner,
		availability: params.Availability,
		covers:       params.Covers,
		logg:         params.Logger,
	}, nil
}

func (s *service) ListBooks(ctx context.Context, input ListBooksInput) (BookPageDTO, error) {
	cursorValue := strings.TrimSpace(input.Cursor)
	cursor, err := pagination.ParseCursor(cursorValue)
	if err != nil {
		return BookPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter := bookFilter{Query: input.Query, AuthorID: input.AuthorID}

	rows, err := s.repo.ListBooks(ctx, filter, cursor, pagination.LimitWithBuffer(input.Limit))
	if err != nil {
		return BookPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list books")
	}
	page, next := pagination.Trim(rows, input.Limit, func(b models.Book) pagination.Cursor {
		return pagination.Cursor{CreatedAt: b.CreatedAt, ID: b.ID}
	})
	total, err := s.repo.CountBooks(ctx, filter)
	if err != nil {
		return BookPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count books")
	}

	items := make([]BookDTO, 0, len(page))
	for i := range page {
		items = append(items, s.toBookDTO(ctx, &page[i]))
	}
	return BookPageDTO{
		Items:      items,
		Pagination: pagination.Meta{Total: int(total), Current: cursorValue, Next: next},
	}, nil
}

// GetBook returns the book with its live availability.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (BookDTO, error) {
	book, err := s.loadBook(ctx, s.repo, id)
	if err != nil {
		return BookDTO{}, err
	}
	dto := s.toBookDTO(ctx, book)
	if s.availability != nil {
		taken, err := s.availability.UnavailableCount(ctx, id)
		if err != nil {
			return BookDTO{}, err
		}
		available := int64(book.CopiesCount) - taken
		if available < 0 {
			available = 0
		}
		dto.AvailableCopies = &available
	}
	return dto, nil
}

func (s *service) CreateBook(ctx context.Context, input CreateBookInput) (BookDTO, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return BookDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if input.CopiesCount < 0 {
		return BookDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "copies_count cannot be negative")
	}
	if _, err := s.loadAuthor(ctx, s.repo, input.AuthorID); err != nil {
		return BookDTO{}, err
	}

	book := &models.Book{
		Title:         title,
		Description:   input.Description,
		ISBN:          normalizeISBN(input.ISBN),
		AuthorID:      input.AuthorID,
		PublishedYear: input.PublishedYear,
		CopiesCount:   input.CopiesCount,
	}
	if err := s.repo.CreateBook(ctx, book); err != nil {
		if db.IsUniqueViolation(err, "") {
			return BookDTO{}, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "isbn already exists")
		}
		return BookDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert book")
	}
	return s.GetBook(ctx, book.ID)
}

// UpdateBook applies changes under the book's admission lock so copies_count
// never drops below active reservations plus live holds.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (BookDTO, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockBook(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock book")
		}
		book, err := s.loadBook(ctx, repo, id)
		if err != nil {
			return err
		}

		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
			}
			book.Title = title
		}
		if input.Description != nil {
			book.Description = input.Description
		}
		if input.ISBN != nil {
			book.ISBN = normalizeISBN(input.ISBN)
		}
		if input.PublishedYear != nil {
			book.PublishedYear = input.PublishedYear
		}
		if input.AuthorID != nil && *input.AuthorID != book.AuthorID {
			if _, err := s.loadAuthor(ctx, repo, *input.AuthorID); err != nil {
				return err
			}
			book.AuthorID = *input.AuthorID
		}
		if input.CopiesCount != nil {
			active, err := repo.CountActiveReservations(ctx, id)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active reservations")
			}
			var live int64
			if s.availability != nil {
				live, err = s.availability.CountLiveHolds(ctx, id)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count live holds")
				}
			}
			if int64(*input.CopiesCount) < active+live {
				return pkgerrors.New(pkgerrors.CodeConflict, "copies_count below copies in use").
					WithDetails(map[string]any{"active_reservations": active, "live_holds": live})
			}
			book.CopiesCount = *input.CopiesCount
		}

		if err := repo.SaveBook(ctx, book); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "isbn already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update book")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return BookDTO{}, err
		}
		return BookDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update book")
	}
	return s.GetBook(ctx, id)
}

func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockBook(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock book")
		}
		active, err := repo.CountActiveReservations(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active reservations")
		}
		if active > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "book has unreturned reservations")
		}
		if _, err := repo.DeleteBook(ctx, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "book has reservation history")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete book")
		}
		return nil
	})
	if err != nil && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete book")
	}
	return err
}

func (s *service) ListAuthors(ctx context.Context, cursor string, limit int) (AuthorPageDTO, error) {
	cursorValue := strings.TrimSpace(cursor)
	decoded, err := pagination.ParseCursor(cursorValue)
	if err != nil {
		return AuthorPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListAuthors(ctx, decoded, pagination.LimitWithBuffer(limit))
	if err != nil {
		return AuthorPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list authors")
	}
	page, next := pagination.Trim(rows, limit, func(a models.Author) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	total, err := s.repo.CountAuthors(ctx)
	if err != nil {
		return AuthorPageDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count authors")
	}
	items := make([]AuthorDTO, 0, len(page))
	for i := range page {
		items = append(items, *newAuthorDTO(&page[i]))
	}
	return AuthorPageDTO{
		Items:      items,
		Pagination: pagination.Meta{Total: int(total), Current: cursorValue, Next: next},
	}, nil
}

func (s *service) GetAuthor(ctx context.Context, id uuid.UUID) (AuthorDTO, error) {
	author, err := s.loadAuthor(ctx, s.repo, id)
	if err != nil {
		return AuthorDTO{}, err
	}
	return *newAuthorDTO(author), nil
}

func (s *service) CreateAuthor(ctx context.Context, input CreateAuthorInput) (AuthorDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return AuthorDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	author := &models.Author{Name: name, Bio: input.Bio}
	if err := s.repo.CreateAuthor(ctx, author); err != nil {
		return AuthorDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert author")
	}
	return *newAuthorDTO(author), nil
}

func (s *service) UpdateAuthor(ctx context.Context, id uuid.UUID, input UpdateAuthorInput) (AuthorDTO, error) {
	author, err := s.loadAuthor(ctx, s.repo, id)
	if err != nil {
		return AuthorDTO{}, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return AuthorDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		author.Name = name
	}
	if input.Bio != nil {
		author.Bio = input.Bio
	}
	if err := s.repo.SaveAuthor(ctx, author); err != nil {
		return AuthorDTO{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update author")
	}
	return *newAuthorDTO(author), nil
}

// DeleteAuthor refuses while any book still references the author.
func (s *service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	if _, err := s.loadAuthor(ctx, s.repo, id); err != nil {
		return err
	}
	books, err := s.repo.CountBooksByAuthor(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count author books")
	}
	if books > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "author has books").
			WithDetails(map[string]any{"books": books})
	}
	if _, err := s.repo.DeleteAuthor(ctx, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "author has books")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete author")
	}
	return nil
}

func (s *service) loadBook(ctx context.Context, repo *Repository, id uuid.UUID) (*models.Book, error) {
	book, err := repo.FindBook(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load book")
	}
	return book, nil
}

func (s *service) loadAuthor(ctx context.Context, repo *Repository, id uuid.UUID) (*models.Author, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author id is required")
	}
	author, err := repo.FindAuthor(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "author not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load author")
	}
	return author, nil
}

func (s *service) toBookDTO(ctx context.Context, book *models.Book) BookDTO {
	dto := newBookDTO(book)
	if book.CoverKey != nil && s.covers != nil {
		url, err := s.covers.CoverURL(*book.CoverKey)
		if err != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithBookID(ctx, book.ID.String()), "sign cover url failed")
			}
		} else {
			dto.CoverURL = &url
		}
	}
	return dto
}

func normalizeISBN(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
