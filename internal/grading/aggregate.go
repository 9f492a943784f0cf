package grading

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pop8234333/exam-system/internal/metrics"
	"github.com/pop8234333/exam-system/internal/model"
)

// Totals is the aggregated outcome of an attempt.
type Totals struct {
	Score   int
	Correct int
	Summary string
	// SummaryFallback is set when the AI summary was unavailable.
	SummaryFallback bool
}

// Aggregate sums the graded answers and asks the AI adapter for a summary.
// The summary is best-effort: on failure a fixed completion note is used.
// An attempt with no submitted answers gets the no-submission summary and
// no AI call.
func (e *Engine) Aggregate(ctx context.Context, paper *model.PaperDetail, graded []Graded) Totals {
	if len(graded) == 0 {
		return Totals{Summary: e.msgs.NoSubmission}
	}

	var t Totals
	for _, g := range graded {
		if g.Skipped {
			continue
		}
		t.Score += g.Score
		if g.Correctness == model.Correct {
			t.Correct++
		}
	}

	maxScore := paper.TotalScore()
	if e.ai == nil {
		t.Summary, t.SummaryFallback = e.msgs.Completed(t.Score, maxScore), true
		return t
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	summary, err := e.ai.Summarize(callCtx, SummaryRequest{
		TotalScore:    t.Score,
		MaxScore:      maxScore,
		AnsweredCount: len(graded),
		CorrectCount:  t.Correct,
	})
	metrics.AICallDuration.WithLabelValues("summarize").Observe(time.Since(start).Seconds())
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		metrics.AIFailures.WithLabelValues("summarize").Inc()
		slog.Warn("AI summary unavailable, using fallback", "paper_id", paper.ID, "error", err)
		t.Summary, t.SummaryFallback = e.msgs.Completed(t.Score, maxScore), true
		return t
	}
	t.Summary = summary
	return t
}
