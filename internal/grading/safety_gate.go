package grading

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-engine/pkg/ai"
)

// VerdictCache remembers moderation verdicts of immutable authored text.
type VerdictCache interface {
	Lookup(ctx context.Context, digest string) (allowed bool, found bool, err error)
	Store(ctx context.Context, digest string, allowed bool) error
}

// SafetyGateConfig tunes the content safety gate.
type SafetyGateConfig struct {
	Timeout time.Duration
	Retry   RetryPolicy
}

// SafetyGate checks free text against the content policy service before it is graded.
// When the service cannot be reached the gate fails closed.
type SafetyGate struct {
	moderator ai.Moderator
	cache     VerdictCache
	cfg       SafetyGateConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewSafetyGate constructs the gate. cache may be nil.
func NewSafetyGate(moderator ai.Moderator, cache VerdictCache, cfg SafetyGateConfig, logger zerolog.Logger) *SafetyGate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &SafetyGate{
		moderator: moderator,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.With().Str("component", "safety_gate").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-engine/internal/grading/safety"),
	}
}

// Check reports whether text may be graded. A false result with a nil error is a policy denial;
// a false result with ErrDependencyUnavailable means the policy service could not be consulted.
func (g *SafetyGate) Check(ctx context.Context, text string) (bool, error) {
	return g.check(ctx, ModerationInput{Source: "text", Text: text})
}

// Screen checks every input and fails on the first denial.
func (g *SafetyGate) Screen(ctx context.Context, inputs []ModerationInput) error {
	for _, input := range inputs {
		allowed, err := g.check(ctx, input)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s rejected", ErrContentPolicyViolation, input.Source)
		}
	}
	return nil
}

func (g *SafetyGate) check(ctx context.Context, input ModerationInput) (bool, error) {
	text := PlainText(input.Text)
	if text == "" {
		return true, nil
	}

	ctx, span := g.tracer.Start(ctx, "grading.moderate", trace.WithAttributes(
		attribute.String("moderation.source", input.Source),
	))
	defer span.End()

	digest := ""
	if input.Authored && g.cache != nil {
		digest = textDigest(text)
		allowed, found, err := g.cache.Lookup(ctx, digest)
		if err != nil {
			g.logger.Warn().Err(err).Msg("moderation cache lookup failed")
		} else if found {
			span.SetAttributes(attribute.Bool("moderation.cached", true))
			return allowed, nil
		}
	}

	if g.moderator == nil {
		return false, fmt.Errorf("%w: content policy service not configured", ErrDependencyUnavailable)
	}

	var result ai.ModerationResult
	err := g.cfg.Retry.Do(ctx, ai.IsRetryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		verdict, err := g.moderator.Moderate(callCtx, text)
		if err != nil {
			return err
		}
		result = verdict
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("moderation abandoned: %w", ctxErr)
		}
		g.logger.Error().Err(err).Str("source", input.Source).Msg("content policy service unavailable, failing closed")
		return false, fmt.Errorf("%w: content policy service: %v", ErrDependencyUnavailable, err)
	}

	allowed := !result.Flagged
	span.SetAttributes(attribute.Bool("moderation.allowed", allowed))
	if !allowed {
		g.logger.Info().Str("source", input.Source).Strs("categories", result.Categories).Msg("content rejected by policy")
	}

	if digest != "" {
		if err := g.cache.Store(ctx, digest, allowed); err != nil {
			g.logger.Warn().Err(err).Msg("moderation cache store failed")
		}
	}

	return allowed, nil
}

func textDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
