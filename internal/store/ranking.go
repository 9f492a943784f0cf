package store

import (
	"context"

	"github.com/pop8234333/exam-system/internal/model"
)

// Ranking returns graded attempts ordered by score descending and attempt
// ID ascending, joined with their paper in a single query. A nil paperID
// ranks across all papers; limit <= 0 returns every row.
func (s *Store) Ranking(ctx context.Context, paperID *int64, limit int) ([]model.RankingEntry, error) {
	query := `
		SELECT a.id, a.student_name, a.score, a.paper_id, p.name, COALESCE(t.total, 0),
		       a.start_time, a.end_time
		FROM attempts a
		JOIN papers p ON p.id = a.paper_id
		LEFT JOIN (
			SELECT pq.paper_id, SUM(pq.score) AS total
			FROM paper_questions pq
			JOIN questions q ON q.id = pq.question_id
			GROUP BY pq.paper_id
		) t ON t.paper_id = p.id
		WHERE a.status = 'GRADED'`
	var args []any
	if paperID != nil {
		query += ` AND a.paper_id = ?`
		args = append(args, *paperID)
	}
	query += ` ORDER BY a.score DESC, a.id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.RankingEntry{}
	for rows.Next() {
		var e model.RankingEntry
		if err := rows.Scan(&e.AttemptID, &e.StudentName, &e.Score, &e.PaperID, &e.PaperName,
			&e.PaperMaxScore, &e.StartTime, &e.EndTime); err != nil {
			return nil, err
		}
		if e.EndTime != nil {
			e.Duration = int64(e.EndTime.Sub(e.StartTime).Seconds())
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
