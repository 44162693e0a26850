package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of reasoning and moderation requests",
	}, []string{"operation", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed reasoning and moderation requests",
	}, []string{"operation", "model"})
)

// OpenAIConfig defines configuration options for the OpenAI client.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	ModerationModel   string
	MaxTokens         int
	Temperature       float32
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// OpenAIClient implements Completer and Moderator against the OpenAI API.
type OpenAIClient struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewOpenAIClient builds a new client using the provided configuration.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.ModerationModel == "" {
		cfg.ModerationModel = "omni-moderation-latest"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		tracer:  otel.Tracer("github.com/noah-isme/gema-grading-engine/pkg/ai/openai"),
		logger:  logger.With().Str("component", "openai_client").Logger(),
	}, nil
}

// Complete sends the prompt to the chat completion API and returns the first choice.
func (c *OpenAIClient) Complete(parent context.Context, req CompletionRequest) (Completion, error) {
	ctx, span := c.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("messages", len(req.Messages)),
	))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return Completion{}, c.fail(span, "complete", c.cfg.Model, err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages:    messages,
	}
	if req.JSON {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues("complete", c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return Completion{}, c.fail(span, "complete", c.cfg.Model, fmt.Errorf("openai complete: %w", err))
	}

	if len(resp.Choices) == 0 {
		return Completion{}, c.fail(span, "complete", c.cfg.Model, ErrEmptyCompletion)
	}

	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
	)

	return Completion{
		Content:          strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Moderate asks the moderation endpoint whether text violates the content policy.
func (c *OpenAIClient) Moderate(parent context.Context, text string) (ModerationResult, error) {
	ctx, span := c.tracer.Start(parent, "openai.moderate", trace.WithAttributes(
		attribute.String("model", c.cfg.ModerationModel),
	))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return ModerationResult{}, c.fail(span, "moderate", c.cfg.ModerationModel, err)
	}

	start := time.Now()
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.cfg.ModerationModel,
	})
	aiDuration.WithLabelValues("moderate", c.cfg.ModerationModel).Observe(time.Since(start).Seconds())
	if err != nil {
		return ModerationResult{}, c.fail(span, "moderate", c.cfg.ModerationModel, fmt.Errorf("openai moderate: %w", err))
	}

	result := ModerationResult{}
	for _, item := range resp.Results {
		if !item.Flagged {
			continue
		}
		result.Flagged = true
		result.Categories = append(result.Categories, flaggedCategories(item.Categories)...)
	}
	sort.Strings(result.Categories)

	span.SetAttributes(attribute.Bool("moderation.flagged", result.Flagged))
	return result, nil
}

func (c *OpenAIClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

func (c *OpenAIClient) fail(span trace.Span, operation, model string, err error) error {
	aiFailures.WithLabelValues(operation, model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Debug().Err(err).Str("operation", operation).Msg("openai request failed")
	return err
}

func flaggedCategories(categories openai.ResultCategories) []string {
	payload, err := json.Marshal(categories)
	if err != nil {
		return nil
	}

	var flags map[string]bool
	if err := json.Unmarshal(payload, &flags); err != nil {
		return nil
	}

	names := make([]string, 0, len(flags))
	for name, flagged := range flags {
		if flagged {
			names = append(names, name)
		}
	}
	return names
}
