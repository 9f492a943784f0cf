package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Popularity counts how often each paper has been started.
type Popularity struct {
	h *Helper
}

func NewPopularity(client *redis.Client) *Popularity {
	return &Popularity{h: NewHelper(client, "exam:popularity:")}
}

// Bump increments the start counter of a paper.
func (p *Popularity) Bump(ctx context.Context, paperID int64) (int64, error) {
	return p.h.Incr(ctx, strconv.FormatInt(paperID, 10))
}

// Count returns the start counter of a paper.
func (p *Popularity) Count(ctx context.Context, paperID int64) (int64, error) {
	return p.h.GetInt(ctx, strconv.FormatInt(paperID, 10))
}

// Available reports whether counts are kept at all.
func (p *Popularity) Available() bool {
	return p.h.Available()
}
