package grading

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ChoiceScore is the detailed result of scoring a choice selection.
type ChoiceScore struct {
	CorrectSelected   int
	IncorrectSelected int
	Net               int
	ScorePercent      float64
	Points            float64
	Status            ChoiceStatus
	Feedback          GradingResult
}

// ScoreChoices applies the cancel-by-incorrect rule: every wrong pick cancels one right pick,
// the net count floors at zero and only an exact selection is fully correct.
func ScoreChoices(choices []Choice, selected []string, totalPoints float64) ChoiceScore {
	correctLabels := make(map[string]struct{}, len(choices))
	for _, choice := range choices {
		if choice.IsCorrect {
			correctLabels[strings.TrimSpace(choice.Label)] = struct{}{}
		}
	}

	picked := make(map[string]struct{}, len(selected))
	for _, label := range selected {
		picked[strings.TrimSpace(label)] = struct{}{}
	}

	score := ChoiceScore{}
	for label := range picked {
		if _, ok := correctLabels[label]; ok {
			score.CorrectSelected++
		} else {
			score.IncorrectSelected++
		}
	}

	score.Net = score.CorrectSelected - score.IncorrectSelected
	if score.Net < 0 {
		score.Net = 0
	}

	if len(correctLabels) > 0 {
		score.ScorePercent = float64(score.Net) / float64(len(correctLabels)) * 100
	}

	switch {
	case score.Net == len(correctLabels) && len(picked) == len(correctLabels) && len(correctLabels) > 0:
		score.Status = StatusCorrect
	case score.Net > 0:
		score.Status = StatusPartiallyCorrect
	default:
		score.Status = StatusIncorrect
	}

	if totalPoints > 0 {
		score.Points = math.Round(score.ScorePercent / 100 * totalPoints)
		score.Points = math.Min(math.Max(score.Points, 0), totalPoints)
	}

	score.Feedback = GradingResult{{
		Criteria: "Choice selection",
		Points:   score.Points,
		Feedback: choiceFeedback(score, len(correctLabels)),
	}}
	return score
}

func choiceFeedback(score ChoiceScore, correctCount int) string {
	switch score.Status {
	case StatusCorrect:
		return "Correct. You selected exactly the right options."
	case StatusPartiallyCorrect:
		return fmt.Sprintf("Partially correct. %d of %d correct options selected, %d incorrect option(s) selected.",
			score.CorrectSelected, correctCount, score.IncorrectSelected)
	default:
		if score.CorrectSelected == 0 {
			return "Incorrect. None of the correct options were selected."
		}
		return fmt.Sprintf("Incorrect. %d incorrect selection(s) cancelled out the %d correct one(s).",
			score.IncorrectSelected, score.CorrectSelected)
	}
}

// ChoiceGrader grades single-correct, multiple-correct and true/false questions deterministically.
type ChoiceGrader struct{}

// NewChoiceGrader constructs the choice grader.
func NewChoiceGrader() *ChoiceGrader {
	return &ChoiceGrader{}
}

// Kind implements Grader.
func (g *ChoiceGrader) Kind() GraderKind {
	return GraderChoice
}

// Grade implements Grader.
func (g *ChoiceGrader) Grade(_ context.Context, question Question, response LearnerResponse) (Outcome, error) {
	choices, err := choiceSet(question)
	if err != nil {
		return Outcome{}, err
	}

	selected := response.Choices
	if response.Boolean != nil {
		selected = []string{strconv.FormatBool(*response.Boolean)}
	}
	if question.Type == QuestionTypeTrueFalse {
		selected = matchAuthoredLabels(choices, selected)
	}

	score := ScoreChoices(choices, selected, question.TotalPoints)
	return Outcome{
		Kind:    GraderChoice,
		Results: score.Feedback,
		Status:  score.Status,
	}, nil
}

// choiceSet returns the question choices, synthesizing {true, false} for bare true/false questions.
func choiceSet(question Question) ([]Choice, error) {
	if len(question.Choices) > 0 {
		return question.Choices, nil
	}
	if question.Type == QuestionTypeTrueFalse && question.Answer != nil {
		return []Choice{
			{Label: "true", IsCorrect: *question.Answer},
			{Label: "false", IsCorrect: !*question.Answer},
		}, nil
	}
	return nil, fmt.Errorf("%w: question %d has no choices", ErrInvalidQuestion, question.ID)
}

// matchAuthoredLabels maps true/false selections onto the authored labels ignoring case,
// so "True", "TRUE" and a boolean answer all select the same choice.
func matchAuthoredLabels(choices []Choice, selected []string) []string {
	matched := make([]string, 0, len(selected))
	for _, label := range selected {
		label = strings.TrimSpace(label)
		for _, choice := range choices {
			if strings.EqualFold(strings.TrimSpace(choice.Label), label) {
				label = choice.Label
				break
			}
		}
		matched = append(matched, label)
	}
	return matched
}
