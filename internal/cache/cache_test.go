package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pop8234333/exam-system/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func ptr[T any](v T) *T { return &v }

func TestRankingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	r := NewRankings(client, time.Minute)

	if _, err := r.Get(ctx, 0, ptr(int64(1)), 10); !errors.Is(err, ErrCacheNotFound) {
		t.Fatalf("Get on empty cache: expected ErrCacheNotFound, got %v", err)
	}

	entries := []model.RankingEntry{
		{AttemptID: 3, StudentName: "Alice", Score: 40, PaperID: 1, PaperName: "Go", PaperMaxScore: 40},
		{AttemptID: 5, StudentName: "Bob", Score: 22, PaperID: 1, PaperName: "Go", PaperMaxScore: 40},
	}
	if err := r.Set(ctx, 0, ptr(int64(1)), 10, entries); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := r.Get(ctx, 0, ptr(int64(1)), 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].StudentName != "Alice" || got[1].Score != 22 {
		t.Errorf("Get = %+v", got)
	}

	// Different limit is a different key.
	if _, err := r.Get(ctx, 0, ptr(int64(1)), 5); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Get with other limit: expected ErrCacheNotFound, got %v", err)
	}
}

func TestRankingsTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	r := NewRankings(client, 10*time.Second)

	if err := r.Set(ctx, 0, nil, 10, []model.RankingEntry{{AttemptID: 1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(11 * time.Second)
	if _, err := r.Get(ctx, 0, nil, 10); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("expected entry to expire, got %v", err)
	}
}

func TestRankingsInvalidate(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	r := NewRankings(client, time.Minute)

	gen, err := r.Generation(ctx)
	if err != nil || gen != 0 {
		t.Fatalf("initial Generation = %d, %v", gen, err)
	}
	entries := []model.RankingEntry{{AttemptID: 1}}
	for _, paper := range []*int64{ptr(int64(1)), ptr(int64(2)), nil} {
		if err := r.Set(ctx, gen, paper, 10, entries); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if err := r.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	next, err := r.Generation(ctx)
	if err != nil || next != gen+1 {
		t.Fatalf("Generation after Invalidate = %d, %v", next, err)
	}
	for _, paper := range []*int64{ptr(int64(1)), ptr(int64(2)), nil} {
		if _, err := r.Get(ctx, next, paper, 10); !errors.Is(err, ErrCacheNotFound) {
			t.Errorf("entry %v survived invalidation: %v", paper, err)
		}
	}
}

func TestRankingsStaleWriteAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	r := NewRankings(client, time.Minute)

	// A reader takes the generation and queries the database, a writer
	// commits and invalidates, then the reader stores its old result.
	gen, _ := r.Generation(ctx)
	if err := r.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := r.Set(ctx, gen, nil, 10, []model.RankingEntry{{AttemptID: 1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	current, _ := r.Generation(ctx)
	if _, err := r.Get(ctx, current, nil, 10); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("stale leaderboard visible in the current generation: %v", err)
	}
}

func TestPopularity(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	p := NewPopularity(client)

	if n, err := p.Count(ctx, 7); err != nil || n != 0 {
		t.Fatalf("Count before any start = %d, %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Bump(ctx, 7); err != nil {
			t.Fatalf("Bump: %v", err)
		}
	}
	if n, _ := p.Count(ctx, 7); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestWithoutRedis(t *testing.T) {
	ctx := context.Background()
	r := NewRankings(nil, 0)
	p := NewPopularity(nil)

	if _, err := r.Generation(ctx); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Generation: expected ErrCacheNotAvailable, got %v", err)
	}
	if _, err := r.Get(ctx, 0, nil, 10); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Get: expected ErrCacheNotAvailable, got %v", err)
	}
	if err := r.Set(ctx, 0, nil, 10, nil); err != nil {
		t.Errorf("Set without redis should be a no-op, got %v", err)
	}
	if err := r.Invalidate(ctx); err != nil {
		t.Errorf("Invalidate without redis should be a no-op, got %v", err)
	}
	if _, err := p.Bump(ctx, 1); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Bump: expected ErrCacheNotAvailable, got %v", err)
	}
}
