package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pop8234333/exam-system/internal/events"
	"github.com/pop8234333/exam-system/internal/grading"
	"github.com/pop8234333/exam-system/internal/metrics"
	"github.com/pop8234333/exam-system/internal/model"
	"github.com/pop8234333/exam-system/internal/store"
)

// AnswerInput is one submitted answer.
type AnswerInput struct {
	QuestionID int64  `json:"questionId" validate:"required,gt=0"`
	Answer     string `json:"answer"`
}

// SubmitRequest carries every answer of an attempt. Each question may be
// answered at most once.
type SubmitRequest struct {
	Answers []AnswerInput `json:"answers" validate:"unique=QuestionID,dive"`
}

// SubmitAnswers grades the answers of a live attempt and finishes it.
// Grading, including every AI call, runs before anything is written; the
// answers, their grades and the GRADED attempt are then stored in one short
// transaction. The attempt either ends up GRADED with every answer scored
// or is left untouched. AI failures never fail the submission; they
// degrade single answers.
func (s *Service) SubmitAnswers(ctx context.Context, attemptID int64, req SubmitRequest) (model.Attempt, error) {
	if err := s.check(req); err != nil {
		return model.Attempt{}, err
	}

	att, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return model.Attempt{}, err
	}
	if att.Status != model.StatusInProgress {
		return model.Attempt{}, &model.StateError{Op: "submit answers", ID: attemptID, Status: att.Status}
	}

	records := make([]model.AnswerRecord, len(req.Answers))
	for i, a := range req.Answers {
		records[i] = model.AnswerRecord{AttemptID: attemptID, QuestionID: a.QuestionID, Answer: a.Answer}
	}
	totals, outcome, err := s.grade(ctx, att, records)
	if err != nil {
		return model.Attempt{}, err
	}

	// A concurrent submission of the same attempt loses the IN_PROGRESS
	// transition and rolls back with a StateError.
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.TransitionAttempt(ctx, attemptID, model.StatusInProgress, model.StatusCompleted); err != nil {
			return err
		}
		if err := tx.InsertAnswers(ctx, attemptID, records); err != nil {
			return fmt.Errorf("insert answers: %w", err)
		}
		if err := tx.FinishGrading(ctx, attemptID, totals.Score, totals.Summary, s.now().UTC()); err != nil {
			return err
		}
		att, err = tx.GetAttempt(ctx, attemptID)
		return err
	})
	if err != nil {
		return model.Attempt{}, err
	}

	metrics.AttemptsGraded.WithLabelValues(outcome).Inc()
	slog.Info("attempt graded", "attempt_id", att.ID, "score", att.Score, "outcome", outcome)
	s.invalidateRankings(ctx, att)
	s.publish(ctx, events.TopicAttemptGraded, att)
	return att, nil
}

// grade scores records against the attempt's paper, writing each result
// into its record, and returns the totals together with the outcome label
// used for metrics. Records whose question is not on the paper stay
// ungraded.
func (s *Service) grade(ctx context.Context, att model.Attempt, records []model.AnswerRecord) (grading.Totals, string, error) {
	msgs := s.engine.Messages()

	paper, err := s.store.GetPaperDetail(ctx, att.PaperID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("paper deleted before grading, attempt left ungraded", "attempt_id", att.ID, "paper_id", att.PaperID)
		return grading.Totals{Summary: msgs.PaperMissing}, "paper_missing", nil
	}
	if err != nil {
		return grading.Totals{}, "", fmt.Errorf("load paper: %w", err)
	}

	graded := s.engine.GradeAnswers(ctx, paper, records)
	for i, g := range graded {
		if g.Skipped {
			continue
		}
		score, corr := g.Score, g.Correctness
		records[i].Score = &score
		records[i].Correctness = &corr
		records[i].Feedback = g.Feedback
	}

	totals := s.engine.Aggregate(ctx, paper, graded)
	if len(graded) == 0 {
		return totals, "no_submission", nil
	}
	return totals, "graded", nil
}
