package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pop8234333/exam-system/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, typ model.QuestionType, title, answer string) int64 {
	t.Helper()
	id, err := s.InsertQuestion(context.Background(), model.Question{Type: typ, Title: title, Answer: answer})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func createTestPaper(t *testing.T, s *Store, name string, duration int) int64 {
	t.Helper()
	id, err := s.CreatePaper(context.Background(), model.Paper{Name: name, Duration: duration})
	if err != nil {
		t.Fatalf("createTestPaper: %v", err)
	}
	return id
}

func addTestPaperQuestion(t *testing.T, s *Store, paperID, questionID int64, score int) {
	t.Helper()
	err := s.AddPaperQuestion(context.Background(), model.PaperQuestion{PaperID: paperID, QuestionID: questionID, Score: score})
	if err != nil {
		t.Fatalf("addTestPaperQuestion: %v", err)
	}
}

// gradedAttempt creates an attempt and drives it to GRADED with the given score.
func gradedAttempt(t *testing.T, s *Store, student string, paperID int64, score int) int64 {
	t.Helper()
	ctx := context.Background()
	start := time.Now().UTC()
	a, _, err := s.StartAttempt(ctx, student, paperID, start, nil)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if err := s.TransitionAttempt(ctx, a.ID, model.StatusInProgress, model.StatusCompleted); err != nil {
		t.Fatalf("TransitionAttempt: %v", err)
	}
	if err := s.FinishGrading(ctx, a.ID, score, "done", start.Add(90*time.Second)); err != nil {
		t.Fatalf("FinishGrading: %v", err)
	}
	return a.ID
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	id := insertTestQuestion(t, s, model.QuestionJudge, "Go has generics", "对")
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Type != model.QuestionJudge {
		t.Errorf("type = %q, want JUDGE", q.Type)
	}
	if q.Answer != "TRUE" {
		t.Errorf("judge answer stored as %q, want normalized TRUE", q.Answer)
	}

	cid := insertTestQuestion(t, s, model.QuestionChoice, "Pick", " a,c ")
	cq, _ := s.GetQuestion(ctx, cid)
	if cq.Answer != "A,C" {
		t.Errorf("choice answer stored as %q, want A,C", cq.Answer)
	}

	_, err = s.GetQuestion(ctx, 9999)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteQuestion(ctx, id); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if _, err := s.GetQuestion(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("deleted question still readable: %v", err)
	}
}

func TestInsertQuestionValidation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name string
		q    model.Question
	}{
		{"unknown type", model.Question{Type: "ESSAY", Title: "x", Answer: "y"}},
		{"empty title", model.Question{Type: model.QuestionText, Title: " "}},
		{"judge not boolean", model.Question{Type: model.QuestionJudge, Title: "x", Answer: "maybe"}},
		{"choice without answer", model.Question{Type: model.QuestionChoice, Title: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.InsertQuestion(context.Background(), tt.q)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestPaperDetailOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	text := insertTestQuestion(t, s, model.QuestionText, "Explain", "ref")
	judge := insertTestQuestion(t, s, model.QuestionJudge, "True?", "TRUE")
	choice := insertTestQuestion(t, s, model.QuestionChoice, "Pick", "B")

	pid := createTestPaper(t, s, "Mixed", 30)
	addTestPaperQuestion(t, s, pid, text, 20)
	addTestPaperQuestion(t, s, pid, judge, 5)
	addTestPaperQuestion(t, s, pid, choice, 10)

	p, err := s.GetPaperDetail(ctx, pid)
	if err != nil {
		t.Fatalf("GetPaperDetail: %v", err)
	}
	want := []int64{choice, judge, text}
	if len(p.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(p.Items))
	}
	for i, id := range want {
		if p.Items[i].ID != id {
			t.Errorf("item %d = question %d, want %d", i, p.Items[i].ID, id)
		}
	}
	if p.TotalScore() != 35 {
		t.Errorf("TotalScore = %d, want 35", p.TotalScore())
	}

	score, err := s.GetPaperQuestionScore(ctx, pid, text)
	if err != nil || score != 20 {
		t.Errorf("GetPaperQuestionScore = %d, %v; want 20", score, err)
	}

	// A deleted question disappears from the paper.
	if err := s.DeleteQuestion(ctx, judge); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	p, _ = s.GetPaperDetail(ctx, pid)
	if p.QuestionCount() != 2 {
		t.Errorf("QuestionCount after delete = %d, want 2", p.QuestionCount())
	}
}

func TestPublishedPaperIsFrozen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuestion(t, s, model.QuestionChoice, "Pick", "A")
	pid := createTestPaper(t, s, "Final", 0)
	addTestPaperQuestion(t, s, pid, q, 10)

	if err := s.PublishPaper(ctx, pid); err != nil {
		t.Fatalf("PublishPaper: %v", err)
	}
	err := s.AddPaperQuestion(ctx, model.PaperQuestion{PaperID: pid, QuestionID: q, Score: 50})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	score, _ := s.GetPaperQuestionScore(ctx, pid, q)
	if score != 10 {
		t.Errorf("score changed to %d after publish", score)
	}
}

func TestStartAttemptIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 60)

	now := time.Now().UTC()
	deadline := now.Add(time.Hour)
	first, created, err := s.StartAttempt(ctx, "alice", pid, now, &deadline)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if !created {
		t.Error("first start should create")
	}
	if first.Status != model.StatusInProgress || first.Score != 0 || first.WindowSwitches != 0 {
		t.Errorf("unexpected new attempt %+v", first)
	}
	if first.Deadline == nil || !first.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", first.Deadline, deadline)
	}

	second, created, err := s.StartAttempt(ctx, "alice", pid, now.Add(time.Minute), nil)
	if err != nil {
		t.Fatalf("StartAttempt again: %v", err)
	}
	if created {
		t.Error("second start should not create")
	}
	if second.ID != first.ID {
		t.Errorf("second start returned %d, want %d", second.ID, first.ID)
	}

	other, _, _ := s.StartAttempt(ctx, "bob", pid, now, nil)
	if other.ID == first.ID {
		t.Error("different student must get a different attempt")
	}

	// Once the attempt leaves IN_PROGRESS a new one may be started.
	if err := s.TransitionAttempt(ctx, first.ID, model.StatusInProgress, model.StatusCompleted); err != nil {
		t.Fatalf("TransitionAttempt: %v", err)
	}
	third, created, _ := s.StartAttempt(ctx, "alice", pid, now, nil)
	if !created || third.ID == first.ID {
		t.Errorf("expected a fresh attempt after completion, got %d (created %v)", third.ID, created)
	}
}

func TestStartAttemptConcurrent(t *testing.T) {
	s := newTestStore(t)
	pid := createTestPaper(t, s, "P", 0)

	const n = 10
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _, err := s.StartAttempt(context.Background(), "carol", pid, time.Now().UTC(), nil)
			if err != nil {
				t.Errorf("StartAttempt: %v", err)
				return
			}
			ids[i] = a.ID
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent starts produced different attempts: %v", ids)
		}
	}
}

func TestUniqueIndexRejectsSecondLiveAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 0)
	if _, _, err := s.StartAttempt(ctx, "dave", pid, time.Now().UTC(), nil); err != nil {
		t.Fatal(err)
	}
	_, err := s.db.Exec(
		`INSERT INTO attempts (student_name, paper_id, status, start_time) VALUES (?, ?, 'IN_PROGRESS', ?)`,
		"dave", pid, time.Now().UTC())
	if err == nil {
		t.Fatal("expected unique constraint violation for a second IN_PROGRESS attempt")
	}
}

func TestTransitionsAreOneWay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 0)
	a, _, _ := s.StartAttempt(ctx, "erin", pid, time.Now().UTC(), nil)

	if err := s.FinishGrading(ctx, a.ID, 10, "x", time.Now().UTC()); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("FinishGrading on IN_PROGRESS: expected ErrInvalidState, got %v", err)
	}
	if err := s.IncrementWindowSwitches(ctx, a.ID); err != nil {
		t.Fatalf("IncrementWindowSwitches: %v", err)
	}
	if err := s.TransitionAttempt(ctx, a.ID, model.StatusInProgress, model.StatusCompleted); err != nil {
		t.Fatalf("TransitionAttempt: %v", err)
	}
	if err := s.IncrementWindowSwitches(ctx, a.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("window switch on COMPLETED: expected ErrInvalidState, got %v", err)
	}
	if err := s.FinishGrading(ctx, a.ID, 10, "good", time.Now().UTC()); err != nil {
		t.Fatalf("FinishGrading: %v", err)
	}
	if err := s.FinishGrading(ctx, a.ID, 99, "again", time.Now().UTC()); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("second FinishGrading: expected ErrInvalidState, got %v", err)
	}

	got, _ := s.GetAttempt(ctx, a.ID)
	if got.Score != 10 || got.Summary == nil || *got.Summary != "good" {
		t.Errorf("grade was overwritten: %+v", got)
	}
	if got.WindowSwitches != 1 {
		t.Errorf("window switches = %d, want 1", got.WindowSwitches)
	}
	if err := s.TransitionAttempt(ctx, 12345, model.StatusInProgress, model.StatusCompleted); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing attempt: expected ErrNotFound, got %v", err)
	}
}

func TestAnswersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 0)
	a, _, _ := s.StartAttempt(ctx, "frank", pid, time.Now().UTC(), nil)

	five, correct := 5, model.Correct
	err := s.InsertAnswers(ctx, a.ID, []model.AnswerRecord{
		{QuestionID: 1, Answer: "B"},
		{QuestionID: 2, Answer: "t", Score: &five, Correctness: &correct, Feedback: "ok"},
	})
	if err != nil {
		t.Fatalf("InsertAnswers: %v", err)
	}
	recs, err := s.ListAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Score != nil || recs[0].Correctness != nil {
		t.Error("ungraded record should have nil score and correctness")
	}

	if recs[1].Score == nil || *recs[1].Score != 5 || *recs[1].Correctness != model.Correct || recs[1].Feedback != "ok" {
		t.Errorf("graded record = %+v", recs[1])
	}
}

func TestDeleteAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 0)

	live, _, _ := s.StartAttempt(ctx, "gina", pid, time.Now().UTC(), nil)
	_ = s.InsertAnswers(ctx, live.ID, []model.AnswerRecord{{QuestionID: 1, Answer: "A"}})

	err := s.DeleteAttempt(ctx, live.ID)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := s.GetAttempt(ctx, live.ID); err != nil {
		t.Errorf("live attempt was deleted: %v", err)
	}
	if recs, _ := s.ListAnswers(ctx, live.ID); len(recs) != 1 {
		t.Errorf("live attempt answers deleted, %d left", len(recs))
	}

	done := gradedAttempt(t, s, "hank", pid, 50)
	_ = s.InsertAnswers(ctx, done, []model.AnswerRecord{{QuestionID: 1, Answer: "A"}, {QuestionID: 2, Answer: "B"}})
	if err := s.DeleteAttempt(ctx, done); err != nil {
		t.Fatalf("DeleteAttempt: %v", err)
	}
	if _, err := s.GetAttempt(ctx, done); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected deleted attempt to be gone, got %v", err)
	}
	if recs, _ := s.ListAnswers(ctx, done); len(recs) != 0 {
		t.Errorf("expected answers to be deleted, %d left", len(recs))
	}

	if err := s.DeleteAttempt(ctx, 9999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := insertTestQuestion(t, s, model.QuestionChoice, "Pick", "A")
	p := createTestPaper(t, s, "Paper P", 60)
	addTestPaperQuestion(t, s, p, q, 100)
	other := createTestPaper(t, s, "Other", 0)

	id1 := gradedAttempt(t, s, "s1", p, 80)
	id2 := gradedAttempt(t, s, "s2", p, 80)
	id3 := gradedAttempt(t, s, "s3", p, 90)
	gradedAttempt(t, s, "s4", other, 100)
	// Not graded, must not appear.
	if _, _, err := s.StartAttempt(ctx, "s5", p, time.Now().UTC(), nil); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Ranking(ctx, &p, 0)
	if err != nil {
		t.Fatalf("Ranking: %v", err)
	}
	want := []int64{id3, id1, id2}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].AttemptID != id {
			t.Errorf("position %d = attempt %d, want %d", i, entries[i].AttemptID, id)
		}
	}
	top := entries[0]
	if top.PaperName != "Paper P" || top.PaperMaxScore != 100 || top.Score != 90 {
		t.Errorf("unexpected top entry %+v", top)
	}
	if top.Duration != 90 {
		t.Errorf("duration = %d, want 90", top.Duration)
	}

	limited, _ := s.Ranking(ctx, &p, 2)
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d entries", len(limited))
	}

	all, _ := s.Ranking(ctx, nil, 0)
	if len(all) != 4 {
		t.Errorf("unfiltered ranking returned %d entries, want 4", len(all))
	}
	if all[0].PaperName != "Other" {
		t.Errorf("expected 100-point attempt first, got %+v", all[0])
	}
}

func TestListAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := createTestPaper(t, s, "P", 0)

	for i := range 5 {
		gradedAttempt(t, s, fmt.Sprintf("student-%d", i), pid, i*10)
	}
	if _, _, err := s.StartAttempt(ctx, "zoe", pid, time.Now().UTC(), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		filter    model.AttemptFilter
		wantTotal int
		wantItems int
	}{
		{"all", model.AttemptFilter{Page: 1, Size: 10}, 6, 6},
		{"paged", model.AttemptFilter{Page: 2, Size: 4}, 6, 2},
		{"by name", model.AttemptFilter{StudentName: "student", Page: 1, Size: 10}, 5, 5},
		{"by status", model.AttemptFilter{Status: model.StatusInProgress, Page: 1, Size: 10}, 1, 1},
		{"future range", model.AttemptFilter{From: ptr(time.Now().Add(time.Hour)), Page: 1, Size: 10}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.ListAttempts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAttempts: %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", page.Total, tt.wantTotal)
			}
			if len(page.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(page.Items), tt.wantItems)
			}
		})
	}
}

func TestImportCatalogAndFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	papers, questions, err := s.ImportCatalog(ctx, model.CatalogImport{Papers: []model.PaperImport{{
		Name:     "Go",
		Duration: 45,
		Publish:  true,
		Questions: []model.QuestionImport{
			{Type: "choice", Title: "Pick", Answer: "b", Score: 10},
			{Type: "TEXT", Title: "Explain", Answer: "ref", Score: 20},
		},
	}}})
	if err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}
	if papers != 1 || questions != 2 {
		t.Errorf("imported %d papers / %d questions", papers, questions)
	}

	_, _, err = s.ImportCatalog(ctx, model.CatalogImport{Papers: []model.PaperImport{{
		Name:      "Broken",
		Questions: []model.QuestionImport{{Type: "ESSAY", Title: "x", Score: 1}},
	}}})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown type, got %v", err)
	}
	if n, _ := s.QuestionCount(ctx); n != 2 {
		t.Errorf("failed import left %d questions, want 2", n)
	}

	hash, err := s.GetImportedFileHash(ctx, "catalog.json")
	if err != nil || hash != "" {
		t.Fatalf("GetImportedFileHash = %q, %v", hash, err)
	}
	if err := s.SetImportedFileHash(ctx, "catalog.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "catalog.json")
	if hash != "abc" {
		t.Errorf("hash = %q, want abc", hash)
	}
}

func ptr[T any](v T) *T { return &v }
