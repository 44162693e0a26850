package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QuestionType identifies how a learner answers a question.
type QuestionType string

const (
	QuestionTypeText            QuestionType = "TEXT"
	QuestionTypeUpload          QuestionType = "UPLOAD"
	QuestionTypeURL             QuestionType = "URL"
	QuestionTypeSingleCorrect   QuestionType = "SINGLE_CORRECT"
	QuestionTypeMultipleCorrect QuestionType = "MULTIPLE_CORRECT"
	QuestionTypeTrueFalse       QuestionType = "TRUE_FALSE"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeText, QuestionTypeUpload, QuestionTypeURL,
		QuestionTypeSingleCorrect, QuestionTypeMultipleCorrect, QuestionTypeTrueFalse:
		return true
	}
	return false
}

// IsChoice reports whether answers to t are picked from a choice set.
func (t QuestionType) IsChoice() bool {
	return t == QuestionTypeSingleCorrect || t == QuestionTypeMultipleCorrect || t == QuestionTypeTrueFalse
}

// Choice is one selectable option of a choice question.
type Choice struct {
	Label     string `json:"label"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is the immutable view of a question used while grading one response.
type Question struct {
	ID          uint
	Type        QuestionType
	Text        string
	TotalPoints float64
	Answer      *bool
	Choices     []Choice
	Policy      ScoringPolicy
	NumRetries  *int
}

// LearnerResponse holds exactly one populated answer, chosen by the question type.
type LearnerResponse struct {
	Text    *string  `json:"text,omitempty"`
	URL     *string  `json:"url,omitempty"`
	File    *string  `json:"file,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// MarshalJSON keeps an explicit empty selection as "choices": [].
func (r LearnerResponse) MarshalJSON() ([]byte, error) {
	type plain LearnerResponse
	if r.Choices != nil && len(r.Choices) == 0 {
		return json.Marshal(struct {
			plain
			Choices []string `json:"choices"`
		}{plain: plain(r), Choices: []string{}})
	}
	return json.Marshal(plain(r))
}

func (r LearnerResponse) populated() int {
	count := 0
	if r.Text != nil {
		count++
	}
	if r.URL != nil {
		count++
	}
	if r.File != nil {
		count++
	}
	if r.Boolean != nil {
		count++
	}
	if r.Choices != nil {
		count++
	}
	return count
}

// Validate checks that the response carries the single field expected for qt.
func (r LearnerResponse) Validate(qt QuestionType) error {
	if r.populated() != 1 {
		return fmt.Errorf("%w: exactly one answer field must be set", ErrInvalidResponse)
	}

	var ok bool
	switch qt {
	case QuestionTypeText:
		ok = r.Text != nil && strings.TrimSpace(*r.Text) != ""
	case QuestionTypeURL:
		ok = r.URL != nil && strings.TrimSpace(*r.URL) != ""
	case QuestionTypeUpload:
		ok = r.File != nil && strings.TrimSpace(*r.File) != ""
	case QuestionTypeTrueFalse:
		ok = r.Boolean != nil || r.Choices != nil
	case QuestionTypeSingleCorrect, QuestionTypeMultipleCorrect:
		ok = r.Choices != nil
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, qt)
	}
	if !ok {
		return fmt.Errorf("%w: answer does not match question type %s", ErrInvalidResponse, qt)
	}
	return nil
}

// FreeText returns the learner-authored text that leaves the engine, if any.
func (r LearnerResponse) FreeText() (string, bool) {
	switch {
	case r.Text != nil:
		return *r.Text, true
	case r.URL != nil:
		return *r.URL, true
	case r.File != nil:
		return *r.File, true
	}
	return "", false
}

// Describe renders the response as plain text for the reasoning service.
func (r LearnerResponse) Describe() string {
	switch {
	case r.Text != nil:
		return *r.Text
	case r.URL != nil:
		return "Submitted URL: " + *r.URL
	case r.File != nil:
		return "Submitted file: " + *r.File
	case r.Boolean != nil:
		return strconv.FormatBool(*r.Boolean)
	case r.Choices != nil:
		if len(r.Choices) == 0 {
			return "Selected options: none"
		}
		return "Selected options: " + strings.Join(r.Choices, ", ")
	}
	return ""
}

// CriterionResult is one entry of a grading result.
type CriterionResult struct {
	Criteria string  `json:"criteria"`
	Points   float64 `json:"points"`
	Feedback string  `json:"feedback"`
}

// GradingResult is the ordered per-criterion output of a grader.
type GradingResult []CriterionResult

// ChoiceStatus describes how well a choice selection matched the key.
type ChoiceStatus string

const (
	StatusCorrect          ChoiceStatus = "correct"
	StatusPartiallyCorrect ChoiceStatus = "partiallyCorrect"
	StatusIncorrect        ChoiceStatus = "incorrect"
)

// GraderKind names a grading strategy.
type GraderKind string

const (
	GraderChoice GraderKind = "choice"
	GraderRubric GraderKind = "rubric"
)

// Outcome is what a grader hands to the aggregator.
type Outcome struct {
	Kind    GraderKind
	Results GradingResult
	// Deductive marks results whose points are deltas subtracted from the question total.
	Deductive bool
	// Status is only set by the choice grader.
	Status ChoiceStatus
}

// Grader scores one learner response for one question.
type Grader interface {
	Kind() GraderKind
	Grade(ctx context.Context, question Question, response LearnerResponse) (Outcome, error)
}
