package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"spi-exam-service/internal/domain"
)

// SessionRepository abstracts where exam sessions live (in-memory, Redis, etc).
// Load returns an idle session for unknown ids.
type SessionRepository interface {
	Load(ctx context.Context, id string) (domain.ExamSession, error)
	Save(ctx context.Context, id string, session domain.ExamSession) error
	Delete(ctx context.Context, id string) error
}

// QuestionSets loads question-set content (from cache/backing store).
type QuestionSets interface {
	LoadSet(ctx context.Context, slug string) (domain.QuestionSet, error)
}

// ExamService drives the exam state machine. It only touches the typed
// session record; persistence belongs to the caller.
type ExamService struct {
	sets QuestionSets
}

func NewExamService(sets QuestionSets) *ExamService {
	return &ExamService{sets: sets}
}

// Preview loads slug for the pre-exam overview without touching any session.
func (s *ExamService) Preview(ctx context.Context, slug string) (domain.QuestionSet, error) {
	return s.sets.LoadSet(ctx, slug)
}

// Start begins an exam on slug. The session is left untouched on failure.
func (s *ExamService) Start(ctx context.Context, session *domain.ExamSession, slug string) error {
	set, err := s.sets.LoadSet(ctx, slug)
	if err != nil {
		return err
	}
	*session = domain.ExamSession{
		Slug:               slug,
		CurrentIndex:       0,
		Answers:            []*int{},
		SecondsPerQuestion: set.SecondsPerQuestion,
	}
	return nil
}

// Current returns the question at the session's index. finished is true when
// every question has been answered; the session is not modified.
func (s *ExamService) Current(ctx context.Context, session domain.ExamSession) (q domain.CurrentQuestion, finished bool, err error) {
	if !session.Active() {
		return domain.CurrentQuestion{}, false, domain.ErrNoActiveSession
	}
	set, err := s.load(ctx, session.Slug)
	if err != nil {
		return domain.CurrentQuestion{}, false, err
	}
	if session.CurrentIndex >= len(set.Questions) {
		return domain.CurrentQuestion{}, true, nil
	}

	limit := session.SecondsPerQuestion
	if limit <= 0 {
		limit = set.SecondsPerQuestion
	}
	return domain.CurrentQuestion{
		Question:           set.Questions[session.CurrentIndex],
		Index:              session.CurrentIndex,
		Total:              len(set.Questions),
		SecondsPerQuestion: limit,
		Title:              set.Title,
	}, false, nil
}

// RecordAnswer stores raw as the answer for the current question and advances.
// Anything that does not parse as an integer is recorded as no answer. Once
// the index has reached the end of the set further answers are ignored and
// finished is reported.
func (s *ExamService) RecordAnswer(ctx context.Context, session *domain.ExamSession, raw string) (finished bool, err error) {
	if !session.Active() {
		return false, domain.ErrNoActiveSession
	}
	set, err := s.load(ctx, session.Slug)
	if err != nil {
		return false, err
	}
	if session.CurrentIndex >= len(set.Questions) {
		return true, nil
	}

	selected := ParseSelection(raw)
	if session.CurrentIndex < len(session.Answers) {
		session.Answers[session.CurrentIndex] = selected
	} else {
		for len(session.Answers) < session.CurrentIndex {
			session.Answers = append(session.Answers, nil)
		}
		session.Answers = append(session.Answers, selected)
	}
	session.CurrentIndex++
	return session.CurrentIndex >= len(set.Questions), nil
}

// ComputeResult scores the session against freshly loaded content and clears
// the session whether or not scoring succeeded.
func (s *ExamService) ComputeResult(ctx context.Context, session *domain.ExamSession) (domain.ExamResult, error) {
	if !session.Active() {
		return domain.ExamResult{}, domain.ErrNoResult
	}
	defer session.Clear()

	set, err := s.load(ctx, session.Slug)
	if err != nil {
		return domain.ExamResult{}, err
	}
	return Score(set, session.Answers), nil
}

// Score counts answers equal to the correct option. Missing or extra answers
// never score.
func Score(set domain.QuestionSet, answers []*int) domain.ExamResult {
	result := domain.ExamResult{Slug: set.Slug, Title: set.Title, Total: len(set.Questions)}
	for i, q := range set.Questions {
		if i >= len(answers) || answers[i] == nil {
			continue
		}
		result.Answered++
		if *answers[i] == q.CorrectOptionIndex {
			result.Score++
		}
	}
	return result
}

// ParseSelection converts a submitted option value into an answer slot.
func ParseSelection(raw string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}

func (s *ExamService) load(ctx context.Context, slug string) (domain.QuestionSet, error) {
	set, err := s.sets.LoadSet(ctx, slug)
	if err == nil {
		return set, nil
	}
	if errors.Is(err, domain.ErrDataUnavailable) {
		return domain.QuestionSet{}, err
	}
	return domain.QuestionSet{}, fmt.Errorf("%w: %w", domain.ErrDataUnavailable, err)
}
