package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pop8234333/exam-system/internal/model"
)

const attemptColumns = `id, student_name, paper_id, status, start_time, deadline, end_time, score, summary, window_switches`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (model.Attempt, error) {
	var a model.Attempt
	var status string
	var summary sql.NullString
	err := r.Scan(&a.ID, &a.StudentName, &a.PaperID, &status, &a.StartTime, &a.Deadline, &a.EndTime,
		&a.Score, &summary, &a.WindowSwitches)
	if err != nil {
		return a, err
	}
	a.Status = model.AttemptStatus(status)
	if summary.Valid {
		a.Summary = &summary.String
	}
	return a, nil
}

// StartAttempt creates an IN_PROGRESS attempt for (student, paper), or
// returns the one that already exists. The partial unique index on
// attempts makes the insert a no-op when a live attempt exists, so two
// concurrent starts cannot both create one. created reports whether a new
// row was inserted.
func (s *Store) StartAttempt(ctx context.Context, student string, paperID int64, now time.Time, deadline *time.Time) (att model.Attempt, created bool, err error) {
	err = s.WithTx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO attempts (student_name, paper_id, status, start_time, deadline, score, window_switches)
			 VALUES (?, ?, 'IN_PROGRESS', ?, ?, 0, 0)
			 ON CONFLICT DO NOTHING`,
			student, paperID, now, deadline,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		att, err = scanAttempt(tx.q.QueryRowContext(ctx,
			`SELECT `+attemptColumns+` FROM attempts
			 WHERE student_name = ? AND paper_id = ? AND status = 'IN_PROGRESS'`,
			student, paperID,
		))
		return err
	})
	return att, created, err
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id int64) (model.Attempt, error) {
	a, err := scanAttempt(s.q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if err != nil {
		return a, notFound(err, "attempt", id)
	}
	return a, nil
}

// TransitionAttempt moves an attempt from one status to another. It fails
// with a StateError when the attempt is not in the expected status.
func (s *Store) TransitionAttempt(ctx context.Context, id int64, from, to model.AttemptStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return err
	}
	return s.expectOneRow(ctx, res, id, "transition to "+string(to))
}

// FinishGrading records the final score and summary and marks the attempt
// GRADED. It only applies to COMPLETED attempts, so a grade is written once.
func (s *Store) FinishGrading(ctx context.Context, id int64, score int, summary string, end time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET status = 'GRADED', score = ?, summary = ?, end_time = ?
		 WHERE id = ? AND status = 'COMPLETED'`,
		score, summary, end, id,
	)
	if err != nil {
		return err
	}
	return s.expectOneRow(ctx, res, id, "finish grading")
}

// IncrementWindowSwitches bumps the focus-loss counter of a live attempt.
func (s *Store) IncrementWindowSwitches(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE attempts SET window_switches = window_switches + 1 WHERE id = ? AND status = 'IN_PROGRESS'`, id)
	if err != nil {
		return err
	}
	return s.expectOneRow(ctx, res, id, "record window switch")
}

// expectOneRow turns a zero-row conditional update into NotFoundError or
// StateError depending on whether the attempt exists.
func (s *Store) expectOneRow(ctx context.Context, res sql.Result, id int64, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	a, err := s.GetAttempt(ctx, id)
	if err != nil {
		return err
	}
	return &model.StateError{Op: op, ID: id, Status: a.Status}
}

// DeleteAttempt removes a finished attempt together with its answer
// records in one transaction. Live attempts are refused.
func (s *Store) DeleteAttempt(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		a, err := tx.GetAttempt(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == model.StatusInProgress {
			return &model.StateError{Op: "remove attempt", ID: id, Status: a.Status}
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM answer_records WHERE attempt_id = ?`, id); err != nil {
			return fmt.Errorf("delete answer records: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM attempts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete attempt: %w", err)
		}
		return nil
	})
}

// ListAttempts returns one page of attempts matching the filter, newest first.
func (s *Store) ListAttempts(ctx context.Context, f model.AttemptFilter) (model.AttemptPage, error) {
	page := model.AttemptPage{Page: f.Page, Size: f.Size}

	var where []string
	var args []any
	if f.StudentName != "" {
		where = append(where, `student_name LIKE ?`)
		args = append(args, "%"+f.StudentName+"%")
	}
	if f.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		where = append(where, `start_time >= ?`)
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, `start_time <= ?`)
		args = append(args, f.To.UTC())
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts`+cond, args...).Scan(&page.Total); err != nil {
		return page, err
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts`+cond+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, f.Size, (f.Page-1)*f.Size)...,
	)
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, a)
	}
	return page, rows.Err()
}

// InsertAnswers bulk-inserts the answers of an attempt in a single
// statement. A record's grade is stored with it when Score is set; records
// without one stay ungraded.
func (s *Store) InsertAnswers(ctx context.Context, attemptID int64, answers []model.AnswerRecord) error {
	if len(answers) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO answer_records (attempt_id, question_id, answer, score, correctness, feedback) VALUES `)
	args := make([]any, 0, len(answers)*6)
	for i, a := range answers {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		var score, corr sql.NullInt64
		if a.Score != nil {
			score = sql.NullInt64{Int64: int64(*a.Score), Valid: true}
		}
		if a.Correctness != nil {
			corr = sql.NullInt64{Int64: int64(*a.Correctness), Valid: true}
		}
		args = append(args, attemptID, a.QuestionID, a.Answer, score, corr, a.Feedback)
	}
	_, err := s.q.ExecContext(ctx, sb.String(), args...)
	return err
}

// ListAnswers returns the answer records of an attempt in insertion order.
func (s *Store) ListAnswers(ctx context.Context, attemptID int64) ([]model.AnswerRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, attempt_id, question_id, answer, score, correctness, feedback
		 FROM answer_records WHERE attempt_id = ? ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AnswerRecord
	for rows.Next() {
		var r model.AnswerRecord
		var score, corr sql.NullInt64
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.Answer, &score, &corr, &r.Feedback); err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			r.Score = &v
		}
		if corr.Valid {
			c := model.Correctness(corr.Int64)
			r.Correctness = &c
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
