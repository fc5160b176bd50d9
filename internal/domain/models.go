package domain

import (
	"regexp"
	"time"
)

// SlugPattern is the allowed shape of a question-set identifier.
var SlugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidSlug reports whether slug is a well-formed question-set identifier.
func ValidSlug(slug string) bool {
	return SlugPattern.MatchString(slug)
}

// QuestionSetMeta is the summary record kept in the catalog index.
type QuestionSetMeta struct {
	Mode               string    `json:"mode"`
	Category           string    `json:"category"`
	Slug               string    `json:"slug"`
	Location           string    `json:"-"`
	Title              string    `json:"title"`
	QuestionCount      int       `json:"questionCount"`
	SecondsPerQuestion int       `json:"secondsPerQuestion"`
	ModTime            time.Time `json:"-"`
}

// TotalMinutes is the whole-exam time budget rounded up to minutes.
func (m QuestionSetMeta) TotalMinutes() int {
	total := m.QuestionCount * m.SecondsPerQuestion
	return (total + 59) / 60
}

// Question is a single multiple-choice item.
type Question struct {
	PromptHTML         string   `json:"prompt_html"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"answer_index"`
}

// QuestionSet is the full content of one slug.
type QuestionSet struct {
	Mode               string     `json:"mode"`
	Category           string     `json:"category"`
	Slug               string     `json:"slug"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	SecondsPerQuestion int        `json:"time_per_question_sec"`
	Questions          []Question `json:"questions"`
}

// Meta summarizes the set for the index.
func (s QuestionSet) Meta(location string, modTime time.Time) QuestionSetMeta {
	return QuestionSetMeta{
		Mode:               s.Mode,
		Category:           s.Category,
		Slug:               s.Slug,
		Location:           location,
		Title:              s.Title,
		QuestionCount:      len(s.Questions),
		SecondsPerQuestion: s.SecondsPerQuestion,
		ModTime:            modTime,
	}
}

// ExamSession is the per-visitor exam progress. A zero value is the idle state.
type ExamSession struct {
	Slug               string `json:"slug,omitempty"`
	CurrentIndex       int    `json:"current_index,omitempty"`
	Answers            []*int `json:"answers,omitempty"`
	SecondsPerQuestion int    `json:"time_per_question_sec,omitempty"`
}

// Active reports whether an exam is in progress.
func (s ExamSession) Active() bool {
	return s.Slug != ""
}

// Clear drops every field, returning the session to idle.
func (s *ExamSession) Clear() {
	*s = ExamSession{}
}

// CurrentQuestion is what the question page needs to render.
type CurrentQuestion struct {
	Question           Question
	Index              int
	Total              int
	SecondsPerQuestion int
	Title              string
}

// ExamResult summarizes a finished exam.
type ExamResult struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
	Answered int    `json:"answered"`
}
