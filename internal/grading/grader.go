package grading

import (
	"context"
	"fmt"
)

// TextRequest is what the AI adapter needs to score one free-text answer.
type TextRequest struct {
	Question  string
	Reference string
	Analysis  string
	Answer    string
	MaxScore  int
}

// TextResult is the AI adapter's verdict on one free-text answer.
type TextResult struct {
	Score     int
	Positive  string
	Deduction string
}

// SummaryRequest carries the attempt totals the summary is written from.
type SummaryRequest struct {
	TotalScore    int
	MaxScore      int
	AnsweredCount int
	CorrectCount  int
}

// Grader is the AI grading adapter. Implementations may fail or time out;
// callers treat both as a per-answer fallback.
type Grader interface {
	GradeText(ctx context.Context, req TextRequest) (TextResult, error)
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// Messages are the fixed strings recorded when grading degrades.
type Messages struct {
	GradingFailed string
	NoAnswer      string
	NoSubmission  string
	PaperMissing  string
	// Completed renders the fallback summary when the AI summary is unavailable.
	Completed func(total, maxScore int) string
}

// DefaultMessages returns the English strings.
func DefaultMessages() Messages {
	return Messages{
		GradingFailed: "grading failed",
		NoAnswer:      "No answer provided.",
		NoSubmission:  "No answers were submitted.",
		PaperMissing:  "Ungraded: the exam paper no longer exists.",
		Completed: func(total, maxScore int) string {
			return fmt.Sprintf("Exam completed with %d of %d points.", total, maxScore)
		},
	}
}
