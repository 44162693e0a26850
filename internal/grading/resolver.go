package grading

import "fmt"

// Resolver maps a question to the grader that scores it.
type Resolver struct {
	choice Grader
	rubric Grader
}

// NewResolver wires the available graders.
func NewResolver(choice Grader, rubric Grader) *Resolver {
	return &Resolver{choice: choice, rubric: rubric}
}

// Resolve returns the grader for question. Choice questions use the choice grader unless
// they are explicitly AI graded; text, upload and url questions always use the rubric adapter.
func (r *Resolver) Resolve(question Question) (Grader, error) {
	switch question.Type {
	case QuestionTypeSingleCorrect, QuestionTypeMultipleCorrect, QuestionTypeTrueFalse:
		if _, aiGraded := question.Policy.(AIGraded); aiGraded {
			return r.require(r.rubric, question)
		}
		return r.require(r.choice, question)
	case QuestionTypeText, QuestionTypeUpload, QuestionTypeURL:
		if question.Policy == nil {
			return nil, fmt.Errorf("%w: question %d has no scoring policy", ErrInvalidQuestion, question.ID)
		}
		return r.require(r.rubric, question)
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, question.Type)
	}
}

func (r *Resolver) require(grader Grader, question Question) (Grader, error) {
	if grader == nil {
		return nil, fmt.Errorf("%w: no grader configured for question %d", ErrDependencyUnavailable, question.ID)
	}
	return grader, nil
}

// ModerationInput is one free-text input checked by the safety gate.
type ModerationInput struct {
	Source string
	Text   string
	// Authored inputs are immutable question content whose verdicts may be cached.
	Authored bool
}

// ModerationInputs lists the free text that leaves the engine when kind grades response.
func ModerationInputs(question Question, response LearnerResponse, kind GraderKind) []ModerationInput {
	var inputs []ModerationInput
	if kind == GraderRubric {
		inputs = append(inputs, ModerationInput{Source: "question", Text: question.Text, Authored: true})
		if rubric := RubricText(question.Policy); rubric != "" {
			inputs = append(inputs, ModerationInput{Source: "rubric", Text: rubric, Authored: true})
		}
	}
	if text, ok := response.FreeText(); ok {
		inputs = append(inputs, ModerationInput{Source: "response", Text: text})
	}
	return inputs
}
