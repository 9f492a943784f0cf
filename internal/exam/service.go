// Package exam implements the attempt lifecycle: starting an attempt,
// submitting and grading its answers, reading it back, and deriving the
// leaderboard from graded attempts.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pop8234333/exam-system/internal/cache"
	"github.com/pop8234333/exam-system/internal/events"
	"github.com/pop8234333/exam-system/internal/grading"
	"github.com/pop8234333/exam-system/internal/metrics"
	"github.com/pop8234333/exam-system/internal/model"
	"github.com/pop8234333/exam-system/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Publisher delivers attempt events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev events.AttemptEvent) error
}

// Service runs the exam operations against the store.
type Service struct {
	store      *store.Store
	engine     *grading.Engine
	rankings   *cache.Rankings
	popularity *cache.Popularity
	events     Publisher
	validate   *validator.Validate
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRankingCache serves leaderboards from Redis when possible.
func WithRankingCache(r *cache.Rankings) Option {
	return func(s *Service) { s.rankings = r }
}

// WithPopularity enables the per-paper start counter.
func WithPopularity(p *cache.Popularity) Option {
	return func(s *Service) { s.popularity = p }
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service without cache or publisher unless options add them.
func NewService(st *store.Store, engine *grading.Engine, opts ...Option) *Service {
	s := &Service{
		store:      st,
		engine:     engine,
		rankings:   cache.NewRankings(nil, 0),
		popularity: cache.NewPopularity(nil),
		validate:   newValidator(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest identifies who starts which paper.
type StartRequest struct {
	StudentName string `json:"studentName" validate:"required,max=100"`
	PaperID     int64  `json:"paperId" validate:"required,gt=0"`
}

// StartAttempt returns the student's live attempt on the paper, creating it
// if none exists. created reports whether a new attempt was made.
func (s *Service) StartAttempt(ctx context.Context, req StartRequest) (att model.Attempt, created bool, err error) {
	if err := s.check(req); err != nil {
		return att, false, err
	}
	paper, err := s.store.GetPaper(ctx, req.PaperID)
	if err != nil {
		return att, false, err
	}

	now := s.now().UTC()
	var deadline *time.Time
	if paper.Duration > 0 {
		d := now.Add(time.Duration(paper.Duration) * time.Minute)
		deadline = &d
	}

	att, created, err = s.store.StartAttempt(ctx, req.StudentName, req.PaperID, now, deadline)
	if err != nil {
		return att, false, fmt.Errorf("start attempt: %w", err)
	}
	if !created {
		slog.Info("resuming attempt", "attempt_id", att.ID, "student", att.StudentName, "paper_id", att.PaperID)
		return att, false, nil
	}

	metrics.AttemptsStarted.Inc()
	slog.Info("attempt started", "attempt_id", att.ID, "student", att.StudentName, "paper_id", att.PaperID)
	s.publish(ctx, events.TopicAttemptStarted, att)
	return att, true, nil
}

// RecordWindowSwitch counts a focus-loss event on a live attempt.
func (s *Service) RecordWindowSwitch(ctx context.Context, attemptID int64) (model.Attempt, error) {
	if err := s.store.IncrementWindowSwitches(ctx, attemptID); err != nil {
		return model.Attempt{}, err
	}
	return s.store.GetAttempt(ctx, attemptID)
}

// GetAttemptDetail returns an attempt with its paper and answers, the
// answers ordered like the paper's questions. Paper is nil when it has
// been deleted since the attempt was taken.
func (s *Service) GetAttemptDetail(ctx context.Context, attemptID int64) (model.AttemptDetail, error) {
	att, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return model.AttemptDetail{}, err
	}
	detail := model.AttemptDetail{Attempt: att}

	paper, err := s.store.GetPaperDetail(ctx, att.PaperID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		slog.Warn("attempt references a deleted paper", "attempt_id", att.ID, "paper_id", att.PaperID)
	case err != nil:
		return detail, err
	default:
		detail.Paper = paper
	}

	answers, err := s.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return detail, err
	}
	detail.Answers = orderAnswers(detail.Paper, answers)
	return detail, nil
}

// orderAnswers sorts answers by the position of their question on the
// paper. Answers to questions no longer on the paper go last.
func orderAnswers(paper *model.PaperDetail, answers []model.AnswerRecord) []model.AnswerRecord {
	if paper == nil || len(answers) < 2 {
		return answers
	}
	pos := make(map[int64]int, len(paper.Items))
	for i, it := range paper.Items {
		pos[it.ID] = i
	}
	rank := func(a model.AnswerRecord) int {
		if p, ok := pos[a.QuestionID]; ok {
			return p
		}
		return len(paper.Items)
	}
	sort.SliceStable(answers, func(i, j int) bool {
		return rank(answers[i]) < rank(answers[j])
	})
	return answers
}

// RemoveAttempt deletes a finished attempt and its answers.
func (s *Service) RemoveAttempt(ctx context.Context, attemptID int64) error {
	att, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttempt(ctx, attemptID); err != nil {
		return err
	}
	slog.Info("attempt removed", "attempt_id", attemptID)
	s.invalidateRankings(ctx, att)
	s.publish(ctx, events.TopicAttemptRemoved, att)
	return nil
}

// ListAttempts returns one page of attempts. Page defaults to 1 and size to
// 10; sizes above 100 are capped.
func (s *Service) ListAttempts(ctx context.Context, f model.AttemptFilter) (model.AttemptPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Size < 1:
		f.Size = defaultPageSize
	case f.Size > maxPageSize:
		f.Size = maxPageSize
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return model.AttemptPage{}, &model.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	return s.store.ListAttempts(ctx, f)
}

func (s *Service) publish(ctx context.Context, topic string, att model.Attempt) {
	if s.events == nil {
		return
	}
	ev := events.AttemptEvent{
		AttemptID:   att.ID,
		PaperID:     att.PaperID,
		StudentName: att.StudentName,
		Score:       att.Score,
		At:          s.now().UTC(),
	}
	if err := s.events.Publish(ctx, topic, ev); err != nil {
		slog.Warn("event not published", "topic", topic, "attempt_id", att.ID, "error", err)
	}
}
