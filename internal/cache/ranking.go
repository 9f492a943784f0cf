package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pop8234333/exam-system/internal/model"
)

const DefaultRankingTTL = 30 * time.Second

// Rankings caches leaderboard query results per paper and limit.
type Rankings struct {
	h   *Helper
	ttl time.Duration
}

// NewRankings creates a ranking cache. client may be nil.
func NewRankings(client *redis.Client, ttl time.Duration) *Rankings {
	if ttl <= 0 {
		ttl = DefaultRankingTTL
	}
	return &Rankings{h: NewHelper(client, "exam:ranking:"), ttl: ttl}
}

const generationKey = "gen"

func rankingKey(gen int64, paperID *int64, limit int) string {
	if paperID == nil {
		return fmt.Sprintf("g%d:all:%d", gen, limit)
	}
	return fmt.Sprintf("g%d:paper:%d:%d", gen, *paperID, limit)
}

// Generation returns the current leaderboard generation. Entries are stored
// under the generation read before the leaderboard was queried, so a
// result computed before an Invalidate is never served after it.
func (r *Rankings) Generation(ctx context.Context) (int64, error) {
	return r.h.GetInt(ctx, generationKey)
}

// Get returns a cached leaderboard of generation gen, ErrCacheNotFound, or
// ErrCacheNotAvailable.
func (r *Rankings) Get(ctx context.Context, gen int64, paperID *int64, limit int) ([]model.RankingEntry, error) {
	var entries []model.RankingEntry
	if err := r.h.Get(ctx, rankingKey(gen, paperID, limit), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Set stores a leaderboard under generation gen.
func (r *Rankings) Set(ctx context.Context, gen int64, paperID *int64, limit int, entries []model.RankingEntry) error {
	return r.h.Set(ctx, rankingKey(gen, paperID, limit), entries, r.ttl)
}

// Invalidate starts a new generation. Entries of older generations are
// no longer read and expire with their TTL.
func (r *Rankings) Invalidate(ctx context.Context) error {
	if !r.h.Available() {
		return nil
	}
	_, err := r.h.Incr(ctx, generationKey)
	return err
}
