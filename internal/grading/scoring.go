package grading

import (
	"fmt"
	"strings"
)

// ScoringType is the persisted tag of a scoring policy.
type ScoringType string

const (
	ScoringSingleCriteria   ScoringType = "SINGLE_CRITERIA"
	ScoringMultipleCriteria ScoringType = "MULTIPLE_CRITERIA"
	ScoringLossPerMistake   ScoringType = "LOSS_PER_MISTAKE"
	ScoringAIGraded         ScoringType = "AI_GRADED"
)

// Criterion is one level of a point scale.
type Criterion struct {
	Description string  `json:"description"`
	Points      float64 `json:"points"`
}

// Rubric is a named point scale. Multiple-criteria policies score each rubric separately.
type Rubric struct {
	Question string      `json:"question"`
	Criteria []Criterion `json:"criteria"`
}

// ScoringPolicy is a closed union of SingleCriteria, MultipleCriteria, LossPerMistake and AIGraded.
type ScoringPolicy interface {
	Type() ScoringType
	isScoringPolicy()
}

// SingleCriteria scores the whole response on one point scale.
type SingleCriteria struct {
	Criteria []Criterion
}

// MultipleCriteria scores the response once per rubric.
type MultipleCriteria struct {
	Rubrics []Rubric
}

// LossPerMistake deducts points per detected mistake. Criteria list known mistakes and their cost.
type LossPerMistake struct {
	Criteria []Criterion
}

// AIGraded leaves the judgement to the reasoning service without a rubric.
type AIGraded struct{}

func (SingleCriteria) Type() ScoringType   { return ScoringSingleCriteria }
func (MultipleCriteria) Type() ScoringType { return ScoringMultipleCriteria }
func (LossPerMistake) Type() ScoringType   { return ScoringLossPerMistake }
func (AIGraded) Type() ScoringType         { return ScoringAIGraded }

func (SingleCriteria) isScoringPolicy()   {}
func (MultipleCriteria) isScoringPolicy() {}
func (LossPerMistake) isScoringPolicy()   {}
func (AIGraded) isScoringPolicy()         {}

// NewScoringPolicy builds the policy variant for a stored scoring type and its rubrics.
// An empty type yields a nil policy, which choice questions accept.
func NewScoringPolicy(scoringType ScoringType, rubrics []Rubric) (ScoringPolicy, error) {
	switch ScoringType(strings.ToUpper(strings.TrimSpace(string(scoringType)))) {
	case "":
		return nil, nil
	case ScoringSingleCriteria:
		if len(rubrics) == 0 || len(rubrics[0].Criteria) == 0 {
			return nil, fmt.Errorf("%w: single criteria policy needs a point scale", ErrInvalidQuestion)
		}
		return SingleCriteria{Criteria: rubrics[0].Criteria}, nil
	case ScoringMultipleCriteria:
		if len(rubrics) == 0 {
			return nil, fmt.Errorf("%w: multiple criteria policy needs at least one rubric", ErrInvalidQuestion)
		}
		return MultipleCriteria{Rubrics: rubrics}, nil
	case ScoringLossPerMistake:
		var criteria []Criterion
		if len(rubrics) > 0 {
			criteria = rubrics[0].Criteria
		}
		return LossPerMistake{Criteria: criteria}, nil
	case ScoringAIGraded:
		return AIGraded{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scoring type %q", ErrInvalidQuestion, scoringType)
	}
}

// policyRubrics exposes the rubric text of a policy, used for prompting and moderation.
func policyRubrics(policy ScoringPolicy) []Rubric {
	switch p := policy.(type) {
	case SingleCriteria:
		return []Rubric{{Criteria: p.Criteria}}
	case MultipleCriteria:
		return p.Rubrics
	case LossPerMistake:
		if len(p.Criteria) == 0 {
			return nil
		}
		return []Rubric{{Criteria: p.Criteria}}
	case AIGraded, nil:
		return nil
	default:
		panic(fmt.Sprintf("grading: unhandled scoring policy %T", policy))
	}
}

// RubricText flattens the authored rubric descriptions of a policy.
func RubricText(policy ScoringPolicy) string {
	var builder strings.Builder
	for _, rubric := range policyRubrics(policy) {
		if rubric.Question != "" {
			builder.WriteString(rubric.Question)
			builder.WriteString("\n")
		}
		for _, criterion := range rubric.Criteria {
			builder.WriteString(criterion.Description)
			builder.WriteString("\n")
		}
	}
	return strings.TrimSpace(builder.String())
}
