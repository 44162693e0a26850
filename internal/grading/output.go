package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxRawExcerpt = 2000

// SchemaError describes reasoning-service output that broke the grading contract.
type SchemaError struct {
	Raw         string
	Diagnostics []string
}

func (e *SchemaError) Error() string {
	return "grading output does not match schema: " + strings.Join(e.Diagnostics, "; ")
}

// ParseResult is either a valid GradingResult or a SchemaError, never both.
type ParseResult struct {
	Result GradingResult
	Err    *SchemaError
}

// OK reports whether the output satisfied the contract.
func (r ParseResult) OK() bool {
	return r.Err == nil
}

// outputContract is the policy-specific schema the reasoning service must answer with.
type outputContract struct {
	scoringType ScoringType
	expected    int
	schemaJSON  string
	schema      *jsonschema.Schema
}

func newOutputContract(question Question) (*outputContract, error) {
	expected := -1
	points := map[string]interface{}{"type": "number"}

	switch p := question.Policy.(type) {
	case SingleCriteria:
		expected = 1
	case MultipleCriteria:
		expected = len(p.Rubrics)
	case AIGraded:
		expected = 1
		points = map[string]interface{}{"type": "integer", "minimum": 0, "maximum": question.TotalPoints}
	case LossPerMistake:
	case nil:
		return nil, fmt.Errorf("%w: question %d has no scoring policy", ErrInvalidQuestion, question.ID)
	default:
		panic(fmt.Sprintf("grading: unhandled scoring policy %T", p))
	}

	results := map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type":                 "object",
			"required":             []string{"criteria", "points", "feedback"},
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"criteria": map[string]interface{}{"type": "string", "minLength": 1},
				"points":   points,
				"feedback": map[string]interface{}{"type": "string"},
			},
		},
	}
	if expected >= 0 {
		results["minItems"] = expected
		results["maxItems"] = expected
	}

	document := map[string]interface{}{
		"type":                 "object",
		"required":             []string{"results"},
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"results": results,
		},
	}

	raw, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode output schema: %w", err)
	}

	url := fmt.Sprintf("gema://grading/%s/%d.json", strings.ToLower(string(question.Policy.Type())), expected)
	schema, err := jsonschema.CompileString(url, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}

	return &outputContract{
		scoringType: question.Policy.Type(),
		expected:    expected,
		schemaJSON:  string(raw),
		schema:      schema,
	}, nil
}

// Parse validates raw against the contract.
func (c *outputContract) Parse(raw string) ParseResult {
	body := extractJSONObject(raw)

	var document interface{}
	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return c.reject(raw, fmt.Sprintf("output is not a JSON object: %v", err))
	}

	if err := c.schema.Validate(document); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			var diagnostics []string
			collectDiagnostics(validationErr, &diagnostics)
			return c.reject(raw, diagnostics...)
		}
		return c.reject(raw, err.Error())
	}

	var payload struct {
		Results GradingResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return c.reject(raw, fmt.Sprintf("output could not be decoded: %v", err))
	}

	return ParseResult{Result: payload.Results}
}

func (c *outputContract) reject(raw string, diagnostics ...string) ParseResult {
	if len(raw) > maxRawExcerpt {
		raw = raw[:maxRawExcerpt]
	}
	if len(diagnostics) == 0 {
		diagnostics = []string{"output rejected"}
	}
	return ParseResult{Err: &SchemaError{Raw: raw, Diagnostics: diagnostics}}
}

func collectDiagnostics(err *jsonschema.ValidationError, out *[]string) {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", location, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectDiagnostics(cause, out)
	}
}

// extractJSONObject drops markdown fences and chatter around the outermost JSON object.
func extractJSONObject(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// repairInstruction tells the reasoning service what was wrong with its last answer.
func repairInstruction(schemaErr *SchemaError, schemaJSON string) string {
	var builder strings.Builder
	builder.WriteString("Your previous answer did not match the required output schema.\n")
	builder.WriteString("Problems found:\n")
	for _, diagnostic := range schemaErr.Diagnostics {
		builder.WriteString("- ")
		builder.WriteString(diagnostic)
		builder.WriteString("\n")
	}
	builder.WriteString("\nAnswer again with only a JSON object that validates against this schema:\n")
	builder.WriteString(schemaJSON)
	return builder.String()
}
