package grading

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-grading-engine/pkg/ai"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from s while keeping literal characters such as "<" readable.
func PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// reasoningRequest is the structured part of the prompt sent to the reasoning service.
type reasoningRequest struct {
	Question        string      `json:"question"`
	LearnerResponse string      `json:"learnerResponse"`
	TotalPoints     float64     `json:"totalPoints"`
	ScoringType     ScoringType `json:"scoringType"`
	ScoringCriteria []Rubric    `json:"scoringCriteria"`
	Choices         []Choice    `json:"choices,omitempty"`
}

func gradingSystemPrompt() string {
	return "You are an impartial assessment grader. You receive a question, a learner's response, the total points " +
		"available and a scoring policy. Grade strictly according to the policy and respond with a single JSON object " +
		"that validates against the supplied schema. Do not include any text outside the JSON object."
}

func policyInstructions(policy ScoringPolicy, totalPoints float64) string {
	switch policy.(type) {
	case SingleCriteria:
		return "Return exactly one result. Choose the points from the point scale in scoringCriteria. When the response " +
			"quality falls between two described levels, interpolate between their points."
	case MultipleCriteria:
		return "Return exactly one result per rubric in scoringCriteria, in the same order. Score every rubric " +
			"independently against its own point scale and use the rubric question as the criteria value."
	case AIGraded:
		return fmt.Sprintf("Return exactly one result whose points are a whole number between 0 and %s, "+
			"reflecting the overall quality of the response.", formatPoints(totalPoints))
	case LossPerMistake:
		return "Return one result per mistake found in the response. Each result's points is the negative number of " +
			"points lost for that mistake, using the costs in scoringCriteria when they describe it. Return an empty " +
			"results list when there are no mistakes."
	default:
		panic(fmt.Sprintf("grading: unhandled scoring policy %T", policy))
	}
}

func buildMessages(question Question, response LearnerResponse, contract *outputContract) ([]ai.Message, error) {
	request := reasoningRequest{
		Question:        PlainText(question.Text),
		LearnerResponse: PlainText(response.Describe()),
		TotalPoints:     question.TotalPoints,
		ScoringType:     question.Policy.Type(),
		ScoringCriteria: policyRubrics(question.Policy),
	}
	if question.Type.IsChoice() {
		choices, err := choiceSet(question)
		if err != nil {
			return nil, err
		}
		request.Choices = choices
	}
	if request.ScoringCriteria == nil {
		request.ScoringCriteria = []Rubric{}
	}

	payload, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode reasoning request: %w", err)
	}

	builder := strings.Builder{}
	builder.WriteString("# Grading Request\n")
	builder.Write(payload)
	builder.WriteString("\n\n## Scoring Policy\n")
	builder.WriteString(policyInstructions(question.Policy, question.TotalPoints))
	builder.WriteString("\n\n## Output Schema\n")
	builder.WriteString(contract.schemaJSON)
	builder.WriteString("\nReturn JSON.")

	return []ai.Message{
		{Role: ai.RoleSystem, Content: gradingSystemPrompt()},
		{Role: ai.RoleUser, Content: builder.String()},
	}, nil
}

// withRepair appends the rejected answer and a repair instruction to the base prompt.
func withRepair(base []ai.Message, schemaErr *SchemaError, schemaJSON string) []ai.Message {
	messages := make([]ai.Message, 0, len(base)+2)
	messages = append(messages, base...)
	messages = append(messages,
		ai.Message{Role: ai.RoleAssistant, Content: schemaErr.Raw},
		ai.Message{Role: ai.RoleUser, Content: repairInstruction(schemaErr, schemaJSON)},
	)
	return messages
}

func formatPoints(points float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", points), "0"), ".")
}
