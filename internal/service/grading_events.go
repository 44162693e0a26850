package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-engine/internal/observability"
)

const (
	// EventResponseRecorded is emitted after a graded response is persisted.
	EventResponseRecorded = "response.recorded"
	// EventSubmissionFinalized is emitted after an attempt moves to SUBMITTED.
	EventSubmissionFinalized = "submission.finalized"
)

// GradingEvent is the payload fanned out to subscribers.
type GradingEvent struct {
	Type         string    `json:"type"`
	Source       string    `json:"source"`
	SubmissionID uint      `json:"submissionId"`
	QuestionID   uint      `json:"questionId,omitempty"`
	ResponseID   uint      `json:"responseId,omitempty"`
	Sequence     int       `json:"sequence,omitempty"`
	Points       float64   `json:"points"`
	State        string    `json:"state,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// GradingEventPublisher announces grading state changes.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

type gradingEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

// NewGradingEventPublisher publishes to Redis pub/sub and NATS. Either transport may be nil.
func NewGradingEventPublisher(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) GradingEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".")
	}

	return &gradingEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *gradingEventPublisher) Publish(ctx context.Context, event GradingEvent) error {
	event.Source = p.nodeID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject+"."+event.Type, payload); err != nil {
			return err
		}
	}

	observability.GradingEvents().WithLabelValues(event.Type).Inc()
	p.logger.Debug().Str("type", event.Type).Uint("submission_id", event.SubmissionID).Msg("grading event published")
	return nil
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, GradingEvent) error { return nil }
