package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-engine/pkg/ai"
)

// RubricConfig tunes the rubric adapter.
type RubricConfig struct {
	// Timeout bounds every single reasoning-service call.
	Timeout time.Duration
	// OutputAttempts is the total number of calls allowed to obtain schema-valid output.
	OutputAttempts int
	// Retry governs transport retries of each call.
	Retry RetryPolicy
}

// RubricAdapter grades free-form responses through the reasoning service.
type RubricAdapter struct {
	completer ai.Completer
	cfg       RubricConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewRubricAdapter constructs the adapter.
func NewRubricAdapter(completer ai.Completer, cfg RubricConfig, logger zerolog.Logger) *RubricAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.OutputAttempts <= 0 {
		cfg.OutputAttempts = 2
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &RubricAdapter{
		completer: completer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "rubric_adapter").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-engine/internal/grading/rubric"),
	}
}

// Kind implements Grader.
func (a *RubricAdapter) Kind() GraderKind {
	return GraderRubric
}

// Grade implements Grader. Output is validated against the policy schema; invalid output is
// retried with a repair instruction until OutputAttempts is spent.
func (a *RubricAdapter) Grade(ctx context.Context, question Question, response LearnerResponse) (Outcome, error) {
	if question.Policy == nil {
		return Outcome{}, fmt.Errorf("%w: question %d has no scoring policy", ErrInvalidQuestion, question.ID)
	}

	ctx, span := a.tracer.Start(ctx, "grading.rubric", trace.WithAttributes(
		attribute.Int64("question.id", int64(question.ID)),
		attribute.String("scoring.type", string(question.Policy.Type())),
	))
	defer span.End()

	contract, err := newOutputContract(question)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}

	base, err := buildMessages(question, response, contract)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}

	messages := base
	var lastErr *SchemaError
	for attempt := 1; attempt <= a.cfg.OutputAttempts; attempt++ {
		completion, err := a.complete(ctx, messages)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reasoning_call_failed")
			return Outcome{}, err
		}

		parsed := contract.Parse(completion.Content)
		if parsed.OK() {
			span.SetAttributes(attribute.Int("grading.output_attempts", attempt))
			_, deductive := question.Policy.(LossPerMistake)
			return Outcome{
				Kind:      GraderRubric,
				Results:   cleanResults(parsed.Result),
				Deductive: deductive,
			}, nil
		}

		lastErr = parsed.Err
		a.logger.Warn().
			Uint("question_id", question.ID).
			Int("attempt", attempt).
			Strs("diagnostics", parsed.Err.Diagnostics).
			Msg("reasoning output rejected by schema")
		messages = withRepair(base, parsed.Err, contract.schemaJSON)
	}

	span.SetStatus(codes.Error, "grading_output_invalid")
	return Outcome{}, fmt.Errorf("%w: no valid output after %d attempts: %s",
		ErrGradingOutputInvalid, a.cfg.OutputAttempts, strings.Join(lastErr.Diagnostics, "; "))
}

func (a *RubricAdapter) complete(ctx context.Context, messages []ai.Message) (ai.Completion, error) {
	if a.completer == nil {
		return ai.Completion{}, fmt.Errorf("%w: reasoning service not configured", ErrDependencyUnavailable)
	}

	var completion ai.Completion
	err := a.cfg.Retry.Do(ctx, ai.IsRetryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		result, err := a.completer.Complete(callCtx, ai.CompletionRequest{Messages: messages, JSON: true})
		if err != nil {
			return err
		}
		completion = result
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ai.Completion{}, fmt.Errorf("reasoning call abandoned: %w", ctxErr)
		}
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) && !exhausted.Retryable {
			return ai.Completion{}, fmt.Errorf("reasoning service rejected request: %w", err)
		}
		return ai.Completion{}, fmt.Errorf("%w: reasoning service: %v", ErrDependencyUnavailable, err)
	}
	return completion, nil
}

func cleanResults(results GradingResult) GradingResult {
	cleaned := make(GradingResult, 0, len(results))
	for _, result := range results {
		cleaned = append(cleaned, CriterionResult{
			Criteria: PlainText(result.Criteria),
			Points:   result.Points,
			Feedback: PlainText(result.Feedback),
		})
	}
	return cleaned
}
