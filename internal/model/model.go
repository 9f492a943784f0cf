package model

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType is the closed set of question kinds the grader understands.
type QuestionType string

const (
	// QuestionChoice is a single or multi-select question answered with option letters.
	QuestionChoice QuestionType = "CHOICE"
	// QuestionJudge is a true/false question.
	QuestionJudge QuestionType = "JUDGE"
	// QuestionText is a free-text question graded by the AI adapter.
	QuestionText QuestionType = "TEXT"
)

// ParseQuestionType converts a raw type string into a QuestionType.
// Unknown values are rejected with a ValidationError.
func ParseQuestionType(s string) (QuestionType, error) {
	switch t := QuestionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case QuestionChoice, QuestionJudge, QuestionText:
		return t, nil
	default:
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown question type %q", s)}
	}
}

// Rank is the position of the type in paper ordering: CHOICE, then JUDGE, then TEXT.
func (t QuestionType) Rank() int {
	switch t {
	case QuestionChoice:
		return 0
	case QuestionJudge:
		return 1
	default:
		return 2
	}
}

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "IN_PROGRESS"
	StatusCompleted  AttemptStatus = "COMPLETED"
	StatusGraded     AttemptStatus = "GRADED"
)

// ParseAttemptStatus accepts the status names and the numeric codes 0, 1, 2.
func ParseAttemptStatus(s string) (AttemptStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "0", string(StatusInProgress):
		return StatusInProgress, nil
	case "1", string(StatusCompleted):
		return StatusCompleted, nil
	case "2", string(StatusGraded):
		return StatusGraded, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown attempt status %q", s)}
	}
}

// Correctness classifies a graded answer.
type Correctness int

const (
	Incorrect Correctness = 0
	Correct   Correctness = 1
	Partial   Correctness = 2
)

func (c Correctness) String() string {
	switch c {
	case Correct:
		return "CORRECT"
	case Partial:
		return "PARTIAL"
	default:
		return "INCORRECT"
	}
}

// Question is a catalog entry. Point values live on PaperQuestion.
type Question struct {
	ID        int64        `json:"id"`
	Type      QuestionType `json:"type"`
	Title     string       `json:"title"`
	Multi     bool         `json:"multi"`
	Answer    string       `json:"answer"`
	Analysis  string       `json:"analysis,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Paper is an exam definition.
type Paper struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Duration    int       `json:"duration"` // minutes, 0 means untimed
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaperQuestion carries the exam-specific point value of a question.
type PaperQuestion struct {
	PaperID    int64 `json:"paper_id"`
	QuestionID int64 `json:"question_id"`
	Score      int   `json:"score"`
	Sort       int   `json:"sort"`
}

// PaperItem is a question as it appears on a paper, with its point value.
type PaperItem struct {
	Question
	Score int `json:"score"`
}

// PaperDetail is a paper with its ordered questions.
type PaperDetail struct {
	Paper
	Items []PaperItem `json:"questions"`
}

// TotalScore is the sum of all point values on the paper.
func (p *PaperDetail) TotalScore() int {
	total := 0
	for _, it := range p.Items {
		total += it.Score
	}
	return total
}

// QuestionCount returns the number of questions on the paper.
func (p *PaperDetail) QuestionCount() int {
	return len(p.Items)
}

// Item looks up a question on the paper by ID.
func (p *PaperDetail) Item(questionID int64) (PaperItem, bool) {
	for _, it := range p.Items {
		if it.ID == questionID {
			return it, true
		}
	}
	return PaperItem{}, false
}

// Attempt is one student's run through one paper.
type Attempt struct {
	ID             int64         `json:"id"`
	StudentName    string        `json:"student_name"`
	PaperID        int64         `json:"paper_id"`
	Status         AttemptStatus `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Score          int           `json:"score"`
	Summary        *string       `json:"summary,omitempty"`
	WindowSwitches int           `json:"window_switches"`
}

// Expired reports whether the attempt is still in progress past its deadline.
// The state machine never acts on this; callers decide the policy.
func (a *Attempt) Expired(now time.Time) bool {
	return a.Status == StatusInProgress && a.Deadline != nil && now.After(*a.Deadline)
}

// AnswerRecord is a submitted answer and its graded outcome.
type AnswerRecord struct {
	ID          int64        `json:"id"`
	AttemptID   int64        `json:"attempt_id"`
	QuestionID  int64        `json:"question_id"`
	Answer      string       `json:"answer"`
	Score       *int         `json:"score,omitempty"`
	Correctness *Correctness `json:"correctness,omitempty"`
	Feedback    string       `json:"feedback,omitempty"`
}

// AttemptDetail is an attempt with its paper and answers. Paper is nil when
// the paper has been deleted.
type AttemptDetail struct {
	Attempt Attempt        `json:"attempt"`
	Paper   *PaperDetail   `json:"paper"`
	Answers []AnswerRecord `json:"answers"`
}

// RankingEntry is one leaderboard row derived from a graded attempt.
type RankingEntry struct {
	AttemptID     int64      `json:"attempt_id"`
	StudentName   string     `json:"student_name"`
	Score         int        `json:"score"`
	PaperID       int64      `json:"paper_id"`
	PaperName     string     `json:"paper_name"`
	PaperMaxScore int        `json:"paper_max_score"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Duration      int64      `json:"duration_seconds"`
}

// AttemptFilter narrows ListAttempts. Zero values mean no filtering.
type AttemptFilter struct {
	StudentName string
	Status      AttemptStatus
	From        *time.Time
	To          *time.Time
	Page        int
	Size        int
}

// AttemptPage is one page of attempts plus the total match count.
type AttemptPage struct {
	Items []Attempt `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
}
