package domain

import (
	"encoding/json"
	"fmt"
)

const (
	// SchemaVersion is the only accepted document version.
	SchemaVersion = 1
	// MinSecondsPerQuestion and MaxSecondsPerQuestion bound time_per_question_sec.
	MinSecondsPerQuestion = 1
	MaxSecondsPerQuestion = 600
	// MinOptions is the smallest option list a question may carry.
	MinOptions = 2
)

// Placement is where a document was found. The document must agree with it.
type Placement struct {
	Mode     string
	Category string
	Slug     string
}

// setDocument mirrors the on-disk JSON. Pointers distinguish missing fields
// from zero values. Keys are matched exactly, never case-insensitively.
type setDocument struct {
	Version            *int               `json:"version"`
	Mode               *string            `json:"mode"`
	Category           *string            `json:"category"`
	Slug               *string            `json:"slug"`
	Title              *string            `json:"title"`
	Description        *string            `json:"description"`
	TimePerQuestionSec *int               `json:"time_per_question_sec"`
	Questions          []*questionDocument `json:"questions"`
}

type questionDocument struct {
	PromptHTML  *string   `json:"prompt_html"`
	Options     []*string `json:"options"`
	AnswerIndex *int      `json:"answer_index"`
}

func (d *setDocument) UnmarshalJSON(data []byte) error {
	return decodeFields(data, map[string]any{
		"version":               &d.Version,
		"mode":                  &d.Mode,
		"category":              &d.Category,
		"slug":                  &d.Slug,
		"title":                 &d.Title,
		"description":           &d.Description,
		"time_per_question_sec": &d.TimePerQuestionSec,
		"questions":             &d.Questions,
	})
}

func (q *questionDocument) UnmarshalJSON(data []byte) error {
	return decodeFields(data, map[string]any{
		"prompt_html":  &q.PromptHTML,
		"options":      &q.Options,
		"answer_index": &q.AnswerIndex,
	})
}

// decodeFields decodes a JSON object and fills each target from its exact
// key. Unknown keys, including differently cased ones, are ignored.
func decodeFields(data []byte, targets map[string]any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, dst := range targets {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// ParseQuestionSet decodes and validates a question-set document against the
// placement it was found at. Every failure wraps ErrInvalidData.
func ParseQuestionSet(data []byte, at Placement) (QuestionSet, error) {
	var doc setDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return QuestionSet{}, fmt.Errorf("%w: decode: %v", ErrInvalidData, err)
	}
	if err := doc.validate(at); err != nil {
		return QuestionSet{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return doc.toQuestionSet(), nil
}

func (d *setDocument) validate(at Placement) error {
	if d.Version == nil || *d.Version != SchemaVersion {
		return fmt.Errorf("version must be %d", SchemaVersion)
	}
	if d.Mode == nil || *d.Mode != at.Mode {
		return fmt.Errorf("mode does not match %q", at.Mode)
	}
	if d.Category == nil || *d.Category != at.Category {
		return fmt.Errorf("category does not match %q", at.Category)
	}
	if d.Slug == nil || *d.Slug != at.Slug {
		return fmt.Errorf("slug does not match %q", at.Slug)
	}
	if d.Title == nil || *d.Title == "" {
		return fmt.Errorf("title must be a non-empty string")
	}
	if d.Description == nil {
		return fmt.Errorf("description must be a string")
	}
	t := d.TimePerQuestionSec
	if t == nil || *t < MinSecondsPerQuestion || *t > MaxSecondsPerQuestion {
		return fmt.Errorf("time_per_question_sec must be in [%d, %d]", MinSecondsPerQuestion, MaxSecondsPerQuestion)
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("questions must be a non-empty list")
	}
	for i, q := range d.Questions {
		if err := q.validate(); err != nil {
			return fmt.Errorf("question %d: %v", i, err)
		}
	}
	return nil
}

func (q *questionDocument) validate() error {
	if q == nil {
		return fmt.Errorf("must be an object")
	}
	if q.PromptHTML == nil {
		return fmt.Errorf("prompt_html is required")
	}
	if len(q.Options) < MinOptions {
		return fmt.Errorf("needs at least %d options", MinOptions)
	}
	for j, opt := range q.Options {
		if opt == nil {
			return fmt.Errorf("option %d must be a string", j)
		}
	}
	if q.AnswerIndex == nil || *q.AnswerIndex < 0 || *q.AnswerIndex >= len(q.Options) {
		return fmt.Errorf("answer_index must be within options")
	}
	return nil
}

func (d *setDocument) toQuestionSet() QuestionSet {
	set := QuestionSet{
		Mode:               *d.Mode,
		Category:           *d.Category,
		Slug:               *d.Slug,
		Title:              *d.Title,
		Description:        *d.Description,
		SecondsPerQuestion: *d.TimePerQuestionSec,
		Questions:          make([]Question, 0, len(d.Questions)),
	}
	for _, q := range d.Questions {
		options := make([]string, len(q.Options))
		for j, opt := range q.Options {
			options[j] = *opt
		}
		set.Questions = append(set.Questions, Question{
			PromptHTML:         *q.PromptHTML,
			Options:            options,
			CorrectOptionIndex: *q.AnswerIndex,
		})
	}
	return set
}
