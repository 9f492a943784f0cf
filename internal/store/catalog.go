package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pop8234333/exam-system/internal/grading"
	"github.com/pop8234333/exam-system/internal/model"
)

// InsertQuestion validates and stores a catalog question. Unknown types are
// rejected here so the grader never sees them. Reference answers of
// objective questions are stored in their normalized form.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	typ, err := model.ParseQuestionType(string(q.Type))
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(q.Title) == "" {
		return 0, &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	answer := q.Answer
	switch typ {
	case model.QuestionChoice:
		answer = grading.NormalizeChoice(answer)
		if answer == "" {
			return 0, &model.ValidationError{Field: "answer", Reason: "choice question needs a reference answer"}
		}
	case model.QuestionJudge:
		answer = grading.NormalizeJudge(answer)
		if answer != "TRUE" && answer != "FALSE" {
			return 0, &model.ValidationError{Field: "answer", Reason: fmt.Sprintf("judge answer must be TRUE or FALSE, got %q", q.Answer)}
		}
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO questions (type, title, multi, answer, analysis, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(typ), q.Title, q.Multi && typ == model.QuestionChoice, answer, q.Analysis, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	var q model.Question
	var typ string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, type, title, multi, answer, analysis, created_at FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &typ, &q.Title, &q.Multi, &q.Answer, &q.Analysis, &q.CreatedAt)
	if err != nil {
		return q, notFound(err, "question", id)
	}
	q.Type = model.QuestionType(typ)
	return q, nil
}

// DeleteQuestion removes a question and its paper assignments.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM paper_questions WHERE question_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &model.NotFoundError{Entity: "question", ID: id}
		}
		return nil
	})
}

// QuestionCount returns the number of questions in the catalog.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CreatePaper stores a new, unpublished paper.
func (s *Store) CreatePaper(ctx context.Context, p model.Paper) (int64, error) {
	if strings.TrimSpace(p.Name) == "" {
		return 0, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.Duration < 0 {
		return 0, &model.ValidationError{Field: "duration", Reason: "must not be negative"}
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO papers (name, description, duration, published, created_at) VALUES (?, ?, ?, 0, ?)`,
		p.Name, p.Description, p.Duration, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPaper returns a paper without its questions.
func (s *Store) GetPaper(ctx context.Context, id int64) (model.Paper, error) {
	var p model.Paper
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, description, duration, published, created_at FROM papers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Duration, &p.Published, &p.CreatedAt)
	if err != nil {
		return p, notFound(err, "paper", id)
	}
	return p, nil
}

// AddPaperQuestion attaches a question to a paper with its point value.
// Point values are frozen once the paper is published.
func (s *Store) AddPaperQuestion(ctx context.Context, pq model.PaperQuestion) error {
	if pq.Score < 0 {
		return &model.ValidationError{Field: "score", Reason: "must not be negative"}
	}
	return s.WithTx(ctx, func(tx *Store) error {
		p, err := tx.GetPaper(ctx, pq.PaperID)
		if err != nil {
			return err
		}
		if p.Published {
			return &model.StateError{Op: "add question to paper", ID: p.ID, Message: "paper is published"}
		}
		if _, err := tx.GetQuestion(ctx, pq.QuestionID); err != nil {
			return err
		}
		_, err = tx.q.ExecContext(ctx,
			`INSERT INTO paper_questions (paper_id, question_id, score, sort) VALUES (?, ?, ?, ?)
			 ON CONFLICT(paper_id, question_id) DO UPDATE SET score = excluded.score, sort = excluded.sort`,
			pq.PaperID, pq.QuestionID, pq.Score, pq.Sort,
		)
		return err
	})
}

// PublishPaper freezes a paper's point values.
func (s *Store) PublishPaper(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE papers SET published = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Entity: "paper", ID: id}
	}
	return nil
}

// GetPaperDetail returns a paper with its questions ordered CHOICE, JUDGE,
// TEXT and then by their sort position on the paper.
func (s *Store) GetPaperDetail(ctx context.Context, id int64) (*model.PaperDetail, error) {
	p, err := s.GetPaper(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT q.id, q.type, q.title, q.multi, q.answer, q.analysis, q.created_at, pq.score
		 FROM paper_questions pq
		 JOIN questions q ON q.id = pq.question_id
		 WHERE pq.paper_id = ?
		 ORDER BY CASE q.type WHEN 'CHOICE' THEN 0 WHEN 'JUDGE' THEN 1 ELSE 2 END, pq.sort, q.id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detail := &model.PaperDetail{Paper: p}
	for rows.Next() {
		var it model.PaperItem
		var typ string
		if err := rows.Scan(&it.ID, &typ, &it.Title, &it.Multi, &it.Answer, &it.Analysis, &it.CreatedAt, &it.Score); err != nil {
			return nil, err
		}
		it.Type = model.QuestionType(typ)
		detail.Items = append(detail.Items, it)
	}
	return detail, rows.Err()
}

// GetPaperQuestionScore returns the point value of a question on a paper.
func (s *Store) GetPaperQuestionScore(ctx context.Context, paperID, questionID int64) (int, error) {
	var score int
	err := s.q.QueryRowContext(ctx,
		`SELECT score FROM paper_questions WHERE paper_id = ? AND question_id = ?`, paperID, questionID,
	).Scan(&score)
	if err != nil {
		return 0, notFound(err, "paper question", questionID)
	}
	return score, nil
}

// DeletePaper removes a paper and its question assignments. Attempts that
// reference the paper are kept.
func (s *Store) DeletePaper(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM paper_questions WHERE paper_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &model.NotFoundError{Entity: "paper", ID: id}
		}
		return nil
	})
}

// ImportCatalog inserts every paper and question of a catalog file in one
// transaction. It returns the number of papers and questions created.
func (s *Store) ImportCatalog(ctx context.Context, c model.CatalogImport) (papers, questions int, err error) {
	err = s.WithTx(ctx, func(tx *Store) error {
		for _, pi := range c.Papers {
			paperID, err := tx.CreatePaper(ctx, model.Paper{Name: pi.Name, Description: pi.Description, Duration: pi.Duration})
			if err != nil {
				return fmt.Errorf("paper %q: %w", pi.Name, err)
			}
			for i, qi := range pi.Questions {
				qID, err := tx.InsertQuestion(ctx, model.Question{
					Type:     model.QuestionType(qi.Type),
					Title:    qi.Title,
					Multi:    qi.Multi,
					Answer:   qi.Answer,
					Analysis: qi.Analysis,
				})
				if err != nil {
					return fmt.Errorf("paper %q question %d: %w", pi.Name, i+1, err)
				}
				if err := tx.AddPaperQuestion(ctx, model.PaperQuestion{
					PaperID: paperID, QuestionID: qID, Score: qi.Score, Sort: i,
				}); err != nil {
					return fmt.Errorf("paper %q question %d: %w", pi.Name, i+1, err)
				}
				questions++
			}
			if pi.Publish {
				if err := tx.PublishPaper(ctx, paperID); err != nil {
					return err
				}
			}
			papers++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return papers, questions, nil
}
