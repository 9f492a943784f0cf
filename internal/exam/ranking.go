package exam

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pop8234333/exam-system/internal/cache"
	"github.com/pop8234333/exam-system/internal/model"
)

// GetRanking returns graded attempts ordered by score, highest first, ties
// going to the earlier attempt. paperID nil ranks across all papers; a
// limit of zero or less returns every entry. Results are cached briefly
// when a ranking cache is configured.
func (s *Service) GetRanking(ctx context.Context, paperID *int64, limit int) ([]model.RankingEntry, error) {
	if limit < 0 {
		limit = 0
	}

	gen, err := s.rankings.Generation(ctx)
	cached := err == nil
	if err != nil && !errors.Is(err, cache.ErrCacheNotAvailable) {
		slog.Debug("ranking cache generation read failed", "error", err)
	}
	if cached {
		entries, err := s.rankings.Get(ctx, gen, paperID, limit)
		switch {
		case err == nil:
			return entries, nil
		case errors.Is(err, cache.ErrCacheNotFound):
		default:
			slog.Debug("ranking cache read failed", "error", err)
		}
	}

	entries, err := s.store.Ranking(ctx, paperID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.RankingEntry{}
	}
	if cached {
		if err := s.rankings.Set(ctx, gen, paperID, limit, entries); err != nil {
			slog.Debug("ranking cache write failed", "error", err)
		}
	}
	return entries, nil
}

// invalidateRankings drops cached leaderboards after att was graded or
// removed. It runs after the commit so the next GetRanking sees the change.
func (s *Service) invalidateRankings(ctx context.Context, att model.Attempt) {
	if err := s.rankings.Invalidate(ctx); err != nil {
		slog.Warn("ranking cache not invalidated", "attempt_id", att.ID, "paper_id", att.PaperID, "error", err)
	}
}

// Popularity returns how many attempts have been started on a paper, as
// counted by the popularity subscriber.
func (s *Service) Popularity(ctx context.Context, paperID int64) (int64, error) {
	if _, err := s.store.GetPaper(ctx, paperID); err != nil {
		return 0, err
	}
	n, err := s.popularity.Count(ctx, paperID)
	if errors.Is(err, cache.ErrCacheNotAvailable) {
		return 0, nil
	}
	return n, err
}
