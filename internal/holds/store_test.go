package holds_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libraryhq/library-backend/internal/holds"
	"github.com/libraryhq/library-backend/internal/holds/holdstest"
	"go.uber.org/multierr"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*holds.Store, *holdstest.Redis) {
	t.Helper()
	backend := holdstest.NewRedis()
	store, err := holds.NewStore(backend, holds.DefaultWindow)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, backend
}

func TestCountLiveBoundary(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		offset time.Duration
		want   int64
	}{
		{name: "exactly at window edge", offset: -15 * time.Minute, want: 1},
		{name: "one second inside", offset: -15*time.Minute + time.Second, want: 1},
		{name: "one second outside", offset: -15*time.Minute - time.Second, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newStore(t)
			bookID := uuid.New()
			if _, err := store.Place(ctx, bookID, uuid.New(), base.Add(tc.offset)); err != nil {
				t.Fatalf("place: %v", err)
			}
			got, err := store.CountLive(ctx, bookID, base)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d live holds, got %d", tc.want, got)
			}
		})
	}
}

func TestPlaceTwiceCountsOnce(t *testing.T) {
	ctx := context.Background()
	store, backend := newStore(t)
	bookID, userID := uuid.New(), uuid.New()

	if _, err := store.Place(ctx, bookID, userID, base.Add(-10*time.Minute)); err != nil {
		t.Fatalf("place: %v", err)
	}
	hold, err := store.Place(ctx, bookID, userID, base)
	if err != nil {
		t.Fatalf("re-place: %v", err)
	}
	if !hold.PlacedAt.Equal(base) {
		t.Fatalf("expected refreshed placement, got %v", hold.PlacedAt)
	}
	got, err := store.CountLive(ctx, bookID, base)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 hold, got %d", got)
	}
	if ttl := backend.TTL(backend.HoldKey(bookID.String())); ttl != holds.DefaultWindow {
		t.Fatalf("expected key ttl %v, got %v", holds.DefaultWindow, ttl)
	}
}

func TestFindLive(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	bookID, userID := uuid.New(), uuid.New()

	if _, ok, err := store.FindLive(ctx, bookID, userID, base); err != nil || ok {
		t.Fatalf("expected no hold, ok=%v err=%v", ok, err)
	}

	if _, err := store.Place(ctx, bookID, userID, base.Add(-16*time.Minute)); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, ok, _ := store.FindLive(ctx, bookID, userID, base); ok {
		t.Fatal("expired hold must not be live")
	}
	if _, ok, _ := store.Find(ctx, bookID, userID); !ok {
		t.Fatal("expired hold is still stored until swept")
	}

	if _, err := store.Place(ctx, bookID, userID, base.Add(-5*time.Minute)); err != nil {
		t.Fatalf("place: %v", err)
	}
	hold, ok, err := store.FindLive(ctx, bookID, userID, base)
	if err != nil || !ok {
		t.Fatalf("expected live hold, ok=%v err=%v", ok, err)
	}
	if want := base.Add(10 * time.Minute); !hold.ExpiresAt(store.Window()).Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, hold.ExpiresAt(store.Window()))
	}
}

func TestRemoveAndRestore(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	bookID, userID := uuid.New(), uuid.New()

	hold, err := store.Place(ctx, bookID, userID, base.Add(-3*time.Minute))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	removed, err := store.Remove(ctx, bookID, userID)
	if err != nil || !removed {
		t.Fatalf("expected removal, removed=%v err=%v", removed, err)
	}
	if got, _ := store.CountLive(ctx, bookID, base); got != 0 {
		t.Fatalf("expected no live holds after remove, got %d", got)
	}
	if removed, _ := store.Remove(ctx, bookID, userID); removed {
		t.Fatal("second remove should report nothing removed")
	}

	if err := store.Restore(ctx, hold); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, ok, err := store.FindLive(ctx, bookID, userID, base)
	if err != nil || !ok {
		t.Fatalf("expected restored hold, ok=%v err=%v", ok, err)
	}
	if !restored.PlacedAt.Equal(hold.PlacedAt) {
		t.Fatalf("restore must keep original placement %v, got %v", hold.PlacedAt, restored.PlacedAt)
	}
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	store, backend := newStore(t)
	bookA, bookB := uuid.New(), uuid.New()

	live := uuid.New()
	edge := uuid.New()
	stale := uuid.New()
	_, _ = store.Place(ctx, bookA, live, base.Add(-time.Minute))
	_, _ = store.Place(ctx, bookA, edge, base.Add(-15*time.Minute))
	_, _ = store.Place(ctx, bookA, stale, base.Add(-20*time.Minute))
	_, _ = store.Place(ctx, bookB, uuid.New(), base.Add(-time.Hour))

	removed, err := store.Sweep(ctx, base)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	members := backend.Members(backend.HoldKey(bookA.String()))
	if _, ok := members[edge.String()]; !ok {
		t.Fatal("hold at the window edge must survive the sweep")
	}
	if _, ok := members[stale.String()]; ok {
		t.Fatal("stale hold should be evicted")
	}
}

func TestSweepReportsEveryFailedSet(t *testing.T) {
	ctx := context.Background()
	store, backend := newStore(t)
	_, _ = store.Place(ctx, uuid.New(), uuid.New(), base.Add(-time.Hour))
	_, _ = store.Place(ctx, uuid.New(), uuid.New(), base.Add(-time.Hour))
	boom := errors.New("READONLY")
	backend.FailOn("ZRemRangeByScore", boom)

	removed, err := store.Sweep(ctx, base)
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected one error per set, got %d", got)
	}
	if removed != 0 {
		t.Fatalf("expected no evictions, got %d", removed)
	}
}

func TestStoreSurfacesBackendErrors(t *testing.T) {
	ctx := context.Background()
	store, backend := newStore(t)
	boom := errors.New("connection refused")
	backend.FailOn("ZCount", boom)

	if _, err := store.CountLive(ctx, uuid.New(), base); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}
