package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/domain"
	"spi-exam-service/internal/infra/filesystem"
)

func TestExamAllCorrect(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	if err := service.Start(ctx, &session, "easy_language_5q"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.SecondsPerQuestion != 60 || session.CurrentIndex != 0 || len(session.Answers) != 0 {
		t.Fatalf("unexpected started session: %+v", session)
	}

	for i, raw := range []string{"4", "2", "3", "3", "1"} {
		q, finished, err := service.Current(ctx, session)
		if err != nil || finished {
			t.Fatalf("current %d: finished=%v err=%v", i, finished, err)
		}
		if q.Index != i || q.Total != 5 || q.SecondsPerQuestion != 60 {
			t.Fatalf("unexpected current question: %+v", q)
		}
		if _, err := service.RecordAnswer(ctx, &session, raw); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}

	if _, finished, _ := service.Current(ctx, session); !finished {
		t.Fatalf("expected exam finished after last answer")
	}
	result, err := service.ComputeResult(ctx, &session)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 5 || result.Total != 5 {
		t.Fatalf("expected 5/5, got %+v", result)
	}
	if session.Active() || session.Answers != nil || session.CurrentIndex != 0 || session.SecondsPerQuestion != 0 {
		t.Fatalf("expected session cleared, got %+v", session)
	}
}

func TestExamPartialAnswers(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	if err := service.Start(ctx, &session, "easy_language_5q"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, raw := range []string{"4", "", "3", "9", "1"} {
		if _, err := service.RecordAnswer(ctx, &session, raw); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	if session.Answers[1] != nil {
		t.Fatalf("expected empty submission recorded as no answer")
	}
	if session.Answers[3] == nil || *session.Answers[3] != 9 {
		t.Fatalf("expected literal 9 recorded, got %v", session.Answers[3])
	}

	result, err := service.ComputeResult(ctx, &session)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 3 || result.Total != 5 || result.Answered != 4 {
		t.Fatalf("expected 3/5 with 4 answered, got %+v", result)
	}
}

func TestResultOnlyOnce(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	_ = service.Start(ctx, &session, "easy_language_5q")
	_, _ = service.RecordAnswer(ctx, &session, "4")

	if _, err := service.ComputeResult(ctx, &session); err != nil {
		t.Fatalf("first result: %v", err)
	}
	if _, err := service.ComputeResult(ctx, &session); !errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestStartUnknownSlugLeavesSessionIdle(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	if err := service.Start(ctx, &session, "nope"); !errors.Is(err, domain.ErrUnknownSlug) {
		t.Fatalf("expected ErrUnknownSlug, got %v", err)
	}
	if err := service.Start(ctx, &session, "Bad Slug"); !errors.Is(err, domain.ErrInvalidSlug) {
		t.Fatalf("expected ErrInvalidSlug, got %v", err)
	}
	if session.Active() || session.Answers != nil || session.CurrentIndex != 0 || session.SecondsPerQuestion != 0 {
		t.Fatalf("expected untouched idle session, got %+v", session)
	}
}

func TestOperationsRequireActiveSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	if _, _, err := service.Current(ctx, session); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from Current, got %v", err)
	}
	if _, err := service.RecordAnswer(ctx, &session, "1"); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from RecordAnswer, got %v", err)
	}
}

func TestRecordAnswerClampsAtEnd(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	var session domain.ExamSession
	_ = service.Start(ctx, &session, "easy_language_5q")
	for i := 0; i < 4; i++ {
		finished, err := service.RecordAnswer(ctx, &session, "0")
		if err != nil || finished {
			t.Fatalf("answer %d: finished=%v err=%v", i, finished, err)
		}
	}
	finished, err := service.RecordAnswer(ctx, &session, "1")
	if err != nil || !finished {
		t.Fatalf("expected last answer to finish the exam, finished=%v err=%v", finished, err)
	}

	// late duplicate post after the last question
	finished, err = service.RecordAnswer(ctx, &session, "2")
	if err != nil || !finished {
		t.Fatalf("expected late answer to report finished, finished=%v err=%v", finished, err)
	}
	if session.CurrentIndex != 5 || len(session.Answers) != 5 {
		t.Fatalf("expected index clamped at 5 with 5 answers, got %+v", session)
	}
	if *session.Answers[4] != 1 {
		t.Fatalf("expected last slot untouched, got %d", *session.Answers[4])
	}
}

func TestRecordAnswerOverwritesExistingSlot(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestExam(t)

	one, two := 1, 2
	session := domain.ExamSession{
		Slug:               "easy_language_5q",
		CurrentIndex:       1,
		Answers:            []*int{&one, &two},
		SecondsPerQuestion: 60,
	}
	if _, err := service.RecordAnswer(ctx, &session, "3"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(session.Answers) != 2 || *session.Answers[1] != 3 || session.CurrentIndex != 2 {
		t.Fatalf("expected overwrite at index 1, got %+v", session)
	}
}

func TestTimeLimitSnapshotAtStart(t *testing.T) {
	ctx := context.Background()
	service, root := newTestExam(t)

	var session domain.ExamSession
	_ = service.Start(ctx, &session, "easy_language_5q")

	path := filepath.Join(root, "easy", "language", "easy_language_5q.json")
	doc := languageSet()
	doc["time_per_question_sec"] = 10
	writeRaw(t, path, mustJSON(t, doc))
	touch(t, path, baseTime.Add(time.Minute))

	q, _, err := service.Current(ctx, session)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if q.SecondsPerQuestion != 60 {
		t.Fatalf("expected snapshotted 60s, got %d", q.SecondsPerQuestion)
	}
}

func TestScoreUsesFreshContent(t *testing.T) {
	ctx := context.Background()
	service, root := newTestExam(t)

	var session domain.ExamSession
	_ = service.Start(ctx, &session, "easy_language_5q")
	for _, raw := range []string{"0", "0", "0", "0", "0"} {
		_, _ = service.RecordAnswer(ctx, &session, raw)
	}

	// content correction mid-session: every answer becomes 0
	path := filepath.Join(root, "easy", "language", "easy_language_5q.json")
	writeRaw(t, path, mustJSON(t, setDoc("easy", "language", "easy_language_5q", 60, []int{0, 0, 0, 0, 0})))
	touch(t, path, baseTime.Add(time.Minute))

	result, err := service.ComputeResult(ctx, &session)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Score != 5 {
		t.Fatalf("expected corrected content to score 5, got %+v", result)
	}
}

func TestDataRemovedMidSession(t *testing.T) {
	ctx := context.Background()
	service, root := newTestExam(t)

	var session domain.ExamSession
	_ = service.Start(ctx, &session, "easy_language_5q")
	if err := os.Remove(filepath.Join(root, "easy", "language", "easy_language_5q.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, _, err := service.Current(ctx, session); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, err := service.RecordAnswer(ctx, &session, "1"); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, err := service.ComputeResult(ctx, &session); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if session.Active() {
		t.Fatalf("expected session cleared even when scoring fails")
	}
}

func TestParseSelection(t *testing.T) {
	cases := map[string]*int{
		"3":   intPtr(3),
		" 2 ": intPtr(2),
		"-1":  intPtr(-1),
		"":    nil,
		"abc": nil,
		"1.5": nil,
	}
	for raw, want := range cases {
		got := app.ParseSelection(raw)
		if (got == nil) != (want == nil) || (got != nil && *got != *want) {
			t.Fatalf("ParseSelection(%q) = %v, want %v", raw, got, want)
		}
	}
}

func newTestExam(t *testing.T) (*app.ExamService, string) {
	t.Helper()
	root := t.TempDir()
	writeSet(t, root, "easy", "language", "easy_language_5q", languageSet())
	catalog := app.NewCatalog(filesystem.NewSetSource(root), nil)
	if _, err := catalog.BuildIndex(context.Background()); err != nil {
		t.Fatalf("build index: %v", err)
	}
	return app.NewExamService(catalog), root
}

func intPtr(v int) *int { return &v }
