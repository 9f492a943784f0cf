// Package grading scores submitted answers and aggregates attempt totals.
//
// Objective questions (CHOICE, JUDGE) are graded by pure functions in this
// file. TEXT questions go through a Grader, usually the LLM client.
package grading

import (
	"strings"

	"github.com/pop8234333/exam-system/internal/model"
)

var judgeTokens = map[string]string{
	"T":     "TRUE",
	"TRUE":  "TRUE",
	"正确":    "TRUE",
	"对":     "TRUE",
	"F":     "FALSE",
	"FALSE": "FALSE",
	"错误":    "FALSE",
	"错":     "FALSE",
}

// NormalizeJudge maps the accepted true/false spellings onto TRUE or FALSE.
// Anything else is returned upper-cased so it can never match by accident.
func NormalizeJudge(s string) string {
	v := strings.ToUpper(strings.TrimSpace(s))
	if n, ok := judgeTokens[v]; ok {
		return n
	}
	return v
}

// NormalizeChoice trims and upper-cases an option letter set such as "a,c".
func NormalizeChoice(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Result is the graded outcome of one answer.
type Result struct {
	Score       int
	Correctness model.Correctness
	Feedback    string
}

// Score applies the grading rule for the item's question type. ai is only
// consulted for TEXT questions; a nil ai for TEXT yields zero points.
//
// Multi-select CHOICE answers get no partial credit: the full option set
// has to match.
func Score(item model.PaperItem, submitted string, ai *TextResult) Result {
	if strings.TrimSpace(submitted) == "" {
		return Result{Score: 0, Correctness: model.Incorrect}
	}

	switch item.Type {
	case model.QuestionChoice:
		if NormalizeChoice(submitted) == NormalizeChoice(item.Answer) {
			return Result{Score: item.Score, Correctness: model.Correct}
		}
		return Result{Score: 0, Correctness: model.Incorrect}

	case model.QuestionJudge:
		if strings.EqualFold(NormalizeJudge(submitted), NormalizeJudge(item.Answer)) {
			return Result{Score: item.Score, Correctness: model.Correct}
		}
		return Result{Score: 0, Correctness: model.Incorrect}

	case model.QuestionText:
		if ai == nil {
			return Result{Score: 0, Correctness: model.Incorrect}
		}
		return classifyText(item.Score, *ai)
	}

	return Result{Score: 0, Correctness: model.Incorrect}
}

func classifyText(maxScore int, ai TextResult) Result {
	score := min(max(ai.Score, 0), maxScore)
	switch {
	case score == 0:
		return Result{Score: 0, Correctness: model.Incorrect, Feedback: ai.Deduction}
	case score == maxScore:
		return Result{Score: score, Correctness: model.Correct, Feedback: ai.Positive}
	default:
		return Result{Score: score, Correctness: model.Partial, Feedback: ai.Deduction}
	}
}
