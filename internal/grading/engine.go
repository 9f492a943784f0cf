package grading

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pop8234333/exam-system/internal/metrics"
	"github.com/pop8234333/exam-system/internal/model"
)

const (
	defaultConcurrency = 4
	defaultTimeout     = 120 * time.Second
)

// Config tunes the engine.
type Config struct {
	Concurrency int           // parallel AI calls per submission
	Timeout     time.Duration // per AI call
	Messages    Messages
}

// Engine grades answer batches. It is safe for concurrent use.
type Engine struct {
	ai      Grader
	limit   int
	timeout time.Duration
	msgs    Messages
}

// NewEngine creates an engine. ai may be nil, in which case every TEXT
// answer takes the failure fallback.
func NewEngine(ai Grader, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Messages.Completed == nil {
		cfg.Messages = DefaultMessages()
	}
	return &Engine{ai: ai, limit: cfg.Concurrency, timeout: cfg.Timeout, msgs: cfg.Messages}
}

// Messages returns the strings the engine records on degraded outcomes.
func (e *Engine) Messages() Messages {
	return e.msgs
}

// Graded pairs an answer record with its outcome.
type Graded struct {
	RecordID   int64
	QuestionID int64
	Type       model.QuestionType
	Result
	// Skipped is set when the question is no longer on the paper.
	Skipped  bool
	AIFailed bool
}

// GradeAnswers scores every record against the paper. The returned slice is
// parallel to records. Objective answers are scored inline; TEXT answers are
// sent to the AI adapter with at most Config.Concurrency calls in flight.
// A failing AI call only affects its own answer.
func (e *Engine) GradeAnswers(ctx context.Context, paper *model.PaperDetail, records []model.AnswerRecord) []Graded {
	out := make([]Graded, len(records))

	var g errgroup.Group
	g.SetLimit(e.limit)

	for i, rec := range records {
		out[i] = Graded{RecordID: rec.ID, QuestionID: rec.QuestionID}

		item, ok := paper.Item(rec.QuestionID)
		if !ok {
			slog.Warn("answer references question not on paper, skipping",
				"attempt_id", rec.AttemptID, "question_id", rec.QuestionID, "paper_id", paper.ID)
			out[i].Skipped = true
			continue
		}
		out[i].Type = item.Type

		if strings.TrimSpace(rec.Answer) == "" {
			out[i].Result = Score(item, rec.Answer, nil)
			if item.Type == model.QuestionText {
				out[i].Feedback = e.msgs.NoAnswer
			}
			continue
		}

		if item.Type != model.QuestionText {
			out[i].Result = Score(item, rec.Answer, nil)
			continue
		}

		g.Go(func() error {
			out[i].Result, out[i].AIFailed = e.gradeText(ctx, item, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, gr := range out {
		if !gr.Skipped {
			metrics.AnswersGraded.WithLabelValues(string(gr.Type), gr.Correctness.String()).Inc()
		}
	}
	return out
}

func (e *Engine) gradeText(ctx context.Context, item model.PaperItem, rec model.AnswerRecord) (Result, bool) {
	fail := Result{Score: 0, Correctness: model.Incorrect, Feedback: e.msgs.GradingFailed}
	if e.ai == nil {
		metrics.AIFailures.WithLabelValues("grade_text").Inc()
		return fail, true
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := e.ai.GradeText(callCtx, TextRequest{
		Question:  item.Title,
		Reference: item.Answer,
		Analysis:  item.Analysis,
		Answer:    rec.Answer,
		MaxScore:  item.Score,
	})
	metrics.AICallDuration.WithLabelValues("grade_text").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AIFailures.WithLabelValues("grade_text").Inc()
		slog.Warn("AI grading failed, awarding zero",
			"attempt_id", rec.AttemptID,
			"question_id", rec.QuestionID,
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"error", err)
		return fail, true
	}
	return Score(item, rec.Answer, &res), false
}
