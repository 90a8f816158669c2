package covers

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/pkg/clock"
	pkgerrors "github.com/libraryhq/library-backend/pkg/errors"
	"github.com/libraryhq/library-backend/pkg/logger"
	"gorm.io/gorm"
)

const maxUploadBytes = 10 * 1024 * 1024

type bookCoverStore interface {
	SetCoverKey(ctx context.Context, bookID uuid.UUID, key string) (*string, error)
}

type gcsClient interface {
	SignedURL(bucket, object, contentType string, expires time.Duration) (string, error)
	SignedReadURL(bucket, object string, expires time.Duration) (string, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}

// Service signs cover uploads and cover reads.
type Service interface {
	PresignUpload(ctx context.Context, bookID uuid.UUID, input PresignInput) (*PresignOutput, error)
	CoverURL(key string) (string, error)
}

type Params struct {
	Books       bookCoverStore
	GCS         gcsClient
	Bucket      string
	UploadTTL   time.Duration
	DownloadTTL time.Duration
	Clock       clock.Clock
	Logger      *logger.Logger
}

type service struct {
	books       bookCoverStore
	gcs         gcsClient
	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
	clock       clock.Clock
	logg        *logger.Logger
}

// PresignInput models the payload required to request an upload URL.
type PresignInput struct {
	MimeType  string `json:"mime_type" validate:"required"`
	FileName  string `json:"file_name" validate:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"required,gt=0"`
}

// PresignOutput is returned to the client after the cover key is stored.
type PresignOutput struct {
	BookID       uuid.UUID `json:"book_id"`
	GCSKey       string    `json:"gcs_key"`
	SignedPUTURL string    `json:"signed_put_url"`
	ContentType  string    `json:"content_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewService constructs a covers service backed by the book store and GCS signer.
func NewService(params Params) (Service, error) {
	if params.Books == nil {
		return nil, fmt.Errorf("book cover store required")
	}
	if params.GCS == nil {
		return nil, fmt.Errorf("gcs client required")
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	if params.UploadTTL <= 0 {
		return nil, fmt.Errorf("upload ttl must be positive")
	}
	if params.DownloadTTL <= 0 {
		return nil, fmt.Errorf("download ttl must be positive")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &service{
		books:       params.Books,
		gcs:         params.GCS,
		bucket:      params.Bucket,
		uploadTTL:   params.UploadTTL,
		downloadTTL: params.DownloadTTL,
		clock:       clk,
		logg:        params.Logger,
	}, nil
}

func (s *service) PresignUpload(ctx context.Context, bookID uuid.UUID, input PresignInput) (*PresignOutput, error) {
	if bookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}

	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file_name is required")
	}
	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "size_bytes must be positive")
	}
	if input.SizeBytes > maxUploadBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("size_bytes must be at most %d bytes", maxUploadBytes)).
			WithDetails(map[string]any{"max_bytes": maxUploadBytes})
	}

	mimeType := normalizeMimeType(input.MimeType)
	if mimeType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mime_type is required")
	}
	if !isAllowedMime(mimeType) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mime_type must be one of "+allowedDescription())
	}

	key := buildCoverKey(bookID, uuid.New(), fileName)
	expiresAt := s.clock.Now().Add(s.uploadTTL)
	signedURL, err := s.gcs.SignedURL(s.bucket, key, mimeType, s.uploadTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign upload url")
	}

	previous, err := s.books.SetCoverKey(ctx, bookID, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store cover key")
	}
	if previous != nil && *previous != "" && *previous != key {
		s.deletePrevious(ctx, *previous)
	}

	return &PresignOutput{
		BookID:       bookID,
		GCSKey:       key,
		SignedPUTURL: signedURL,
		ContentType:  mimeType,
		ExpiresAt:    expiresAt,
	}, nil
}

// CoverURL signs a read URL for a stored cover key.
func (s *service) CoverURL(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	return s.gcs.SignedReadURL(s.bucket, key, s.downloadTTL)
}

func (s *service) deletePrevious(ctx context.Context, key string) {
	if err := s.gcs.DeleteObject(context.WithoutCancel(ctx), s.bucket, key); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithField(ctx, "gcs_key", key), "delete previous cover failed", err)
	}
}

func buildCoverKey(bookID, id uuid.UUID, fileName string) string {
	cleanName := sanitizeFileName(fileName)
	if cleanName == "" {
		cleanName = id.String()
	}
	return fmt.Sprintf("covers/%s/%s/%s", bookID.String(), id.String(), cleanName)
}

func sanitizeFileName(name string) string {
	if name == "" {
		return ""
	}
	clean := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if clean == "." || clean == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(clean))
	for _, r := range clean {
		switch {
		case r == '/' || r == '\\' || r == '?' || r == '#' || unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_.")
}
