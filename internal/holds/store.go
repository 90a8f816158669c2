package holds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// DefaultWindow is how long a hold stays live after it is placed.
const DefaultWindow = 15 * time.Minute

const scanBatch = 200

type redisStore interface {
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZCount(ctx context.Context, key, min, max string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRem(ctx context.Context, key, member string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ScanKeys(ctx context.Context, pattern string, batch int64) ([]string, error)
	HoldKey(bookID string) string
	HoldKeyPattern() string
}

// Hold is a short-lived claim on a copy, keyed by (book, user).
type Hold struct {
	BookID   uuid.UUID
	UserID   uuid.UUID
	PlacedAt time.Time
}

// ExpiresAt returns the last instant the hold is still live.
func (h Hold) ExpiresAt(window time.Duration) time.Time {
	return h.PlacedAt.Add(window)
}

// Store keeps holds in one redis sorted set per book: member is the user id,
// score is the placement time in unix milliseconds. Placing again replaces
// the score, so a user never has more than one hold per book.
type Store struct {
	client redisStore
	window time.Duration
}

func NewStore(client redisStore, window time.Duration) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{client: client, window: window}, nil
}

// Window returns the live window applied by the store.
func (s *Store) Window() time.Duration {
	return s.window
}

// Cutoff is the oldest placement time still considered live at now.
func (s *Store) Cutoff(now time.Time) time.Time {
	return now.Add(-s.window)
}

// Place writes or refreshes the hold of userID on bookID.
func (s *Store) Place(ctx context.Context, bookID, userID uuid.UUID, at time.Time) (Hold, error) {
	key := s.client.HoldKey(bookID.String())
	placed := truncate(at)
	if err := s.client.ZAdd(ctx, key, userID.String(), toScore(placed)); err != nil {
		return Hold{}, fmt.Errorf("place hold: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.window); err != nil {
		return Hold{}, fmt.Errorf("expire hold set: %w", err)
	}
	return Hold{BookID: bookID, UserID: userID, PlacedAt: placed}, nil
}

// Restore re-adds a previously removed hold with its original placement time.
func (s *Store) Restore(ctx context.Context, hold Hold) error {
	key := s.client.HoldKey(hold.BookID.String())
	if err := s.client.ZAdd(ctx, key, hold.UserID.String(), toScore(hold.PlacedAt)); err != nil {
		return fmt.Errorf("restore hold: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.window); err != nil {
		return fmt.Errorf("expire hold set: %w", err)
	}
	return nil
}

// CountLive counts holds on bookID placed at or after now minus the window.
// A hold placed exactly at the boundary is still live.
func (s *Store) CountLive(ctx context.Context, bookID uuid.UUID, now time.Time) (int64, error) {
	min := strconv.FormatInt(truncate(s.Cutoff(now)).UnixMilli(), 10)
	count, err := s.client.ZCount(ctx, s.client.HoldKey(bookID.String()), min, "+inf")
	if err != nil {
		return 0, fmt.Errorf("count holds: %w", err)
	}
	return count, nil
}

// Find returns the hold of userID on bookID regardless of age.
func (s *Store) Find(ctx context.Context, bookID, userID uuid.UUID) (Hold, bool, error) {
	score, err := s.client.ZScore(ctx, s.client.HoldKey(bookID.String()), userID.String())
	if errors.Is(err, redis.Nil) {
		return Hold{}, false, nil
	}
	if err != nil {
		return Hold{}, false, fmt.Errorf("lookup hold: %w", err)
	}
	return Hold{BookID: bookID, UserID: userID, PlacedAt: fromScore(score)}, true, nil
}

// FindLive returns the hold of userID on bookID only if it is live at now.
func (s *Store) FindLive(ctx context.Context, bookID, userID uuid.UUID, now time.Time) (Hold, bool, error) {
	hold, ok, err := s.Find(ctx, bookID, userID)
	if err != nil || !ok {
		return Hold{}, false, err
	}
	if hold.PlacedAt.Before(truncate(s.Cutoff(now))) {
		return Hold{}, false, nil
	}
	return hold, true, nil
}

// Remove deletes the hold of userID on bookID and reports whether it existed.
func (s *Store) Remove(ctx context.Context, bookID, userID uuid.UUID) (bool, error) {
	removed, err := s.client.ZRem(ctx, s.client.HoldKey(bookID.String()), userID.String())
	if err != nil {
		return false, fmt.Errorf("remove hold: %w", err)
	}
	return removed > 0, nil
}

// Sweep deletes every hold placed strictly before the cutoff at now.
// Reads never delete; this is the only physical eviction path. A failing
// set does not stop the others; every failure is returned.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int64, error) {
	keys, err := s.client.ScanKeys(ctx, s.client.HoldKeyPattern(), scanBatch)
	if err != nil {
		return 0, fmt.Errorf("scan hold sets: %w", err)
	}
	max := "(" + strconv.FormatInt(truncate(s.Cutoff(now)).UnixMilli(), 10)
	var (
		total int64
		errs  error
	)
	for _, key := range keys {
		removed, err := s.client.ZRemRangeByScore(ctx, key, "-inf", max)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", key, err))
			continue
		}
		total += removed
	}
	return total, errs
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func toScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func fromScore(score float64) time.Time {
	return time.UnixMilli(int64(math.Round(score))).UTC()
}
