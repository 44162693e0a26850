package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-engine/internal/dto"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/models"
	"github.com/noah-isme/gema-grading-engine/internal/observability"
	"github.com/noah-isme/gema-grading-engine/internal/repository"
)

// GraderResolver picks the grader for a question.
type GraderResolver interface {
	Resolve(question grading.Question) (grading.Grader, error)
}

// ContentScreener runs free text through the content safety gate.
type ContentScreener interface {
	Screen(ctx context.Context, inputs []grading.ModerationInput) error
}

// GradingService records graded learner responses.
type GradingService interface {
	RecordResponse(ctx context.Context, req dto.GradeRequest) (dto.GradeResponse, error)
}

type gradingService struct {
	questions   repository.QuestionRepository
	submissions repository.SubmissionRepository
	resolver    GraderResolver
	screener    ContentScreener
	locker      ResponseLocker
	events      GradingEventPublisher
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewGradingService wires the grading pipeline. locker and events may be nil.
func NewGradingService(
	questions repository.QuestionRepository,
	submissions repository.SubmissionRepository,
	resolver GraderResolver,
	screener ContentScreener,
	locker ResponseLocker,
	events GradingEventPublisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradingService {
	if locker == nil {
		locker = NewLocalResponseLocker()
	}
	if events == nil {
		events = noopEventPublisher{}
	}
	if validate == nil {
		validate = validator.New()
	}

	return &gradingService{
		questions:   questions,
		submissions: submissions,
		resolver:    resolver,
		screener:    screener,
		locker:      locker,
		events:      events,
		validator:   validate,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-engine/internal/service/grading"),
	}
}

// RecordResponse grades one learner response and appends it to the submission. Nothing is persisted
// unless grading succeeds and the caller is still waiting for the result.
func (s *gradingService) RecordResponse(ctx context.Context, req dto.GradeRequest) (dto.GradeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GradeResponse{}, fmt.Errorf("%w: %v", grading.ErrInvalidResponse, err)
	}

	ctx, span := s.tracer.Start(ctx, "grading.record_response", trace.WithAttributes(
		attribute.Int64("submission.id", int64(req.SubmissionID)),
		attribute.Int64("question.id", int64(req.QuestionID)),
	))
	defer span.End()

	response, err := s.recordResponse(ctx, req)
	if err != nil {
		kind := grading.KindOf(err)
		observability.GradingFailures().WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))

		event := s.logger.Warn()
		if kind == grading.KindInternal {
			event = s.logger.Error()
		}
		event.Err(err).
			Uint("submission_id", req.SubmissionID).
			Uint("question_id", req.QuestionID).
			Str("kind", string(kind)).
			Msg("response not recorded")
		return dto.GradeResponse{}, err
	}

	return response, nil
}

func (s *gradingService) recordResponse(ctx context.Context, req dto.GradeRequest) (dto.GradeResponse, error) {
	release, err := s.locker.Acquire(ctx, ResponseLockKey(req.SubmissionID, req.QuestionID))
	if err != nil {
		return dto.GradeResponse{}, fmt.Errorf("acquire response lock: %w", err)
	}
	defer release()

	submission, err := s.submissions.GetByID(ctx, req.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeResponse{}, fmt.Errorf("%w: submission %d", grading.ErrSubmissionNotFound, req.SubmissionID)
		}
		return dto.GradeResponse{}, err
	}
	if !submission.IsOpen() {
		return dto.GradeResponse{}, fmt.Errorf("%w: submission %d is %s", grading.ErrSubmissionClosed, submission.ID, submission.State)
	}

	stored, err := s.questions.GetByID(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeResponse{}, fmt.Errorf("%w: question %d", grading.ErrQuestionNotFound, req.QuestionID)
		}
		return dto.GradeResponse{}, err
	}
	if stored.AssignmentID != submission.AssignmentID {
		return dto.GradeResponse{}, fmt.Errorf("%w: question %d is not part of assignment %d",
			grading.ErrQuestionNotFound, stored.ID, submission.AssignmentID)
	}

	question, err := toGradingQuestion(stored)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	previous, err := s.submissions.CountResponses(ctx, submission.ID, question.ID)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	if question.NumRetries != nil && previous >= int64(*question.NumRetries) {
		return dto.GradeResponse{}, fmt.Errorf("%w: %d of %d responses used", grading.ErrRetriesExhausted, previous, *question.NumRetries)
	}

	if err := req.LearnerResponse.Validate(question.Type); err != nil {
		return dto.GradeResponse{}, err
	}

	grader, err := s.resolver.Resolve(question)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	started := time.Now()
	if inputs := grading.ModerationInputs(question, req.LearnerResponse, grader.Kind()); len(inputs) > 0 {
		if s.screener == nil {
			return dto.GradeResponse{}, fmt.Errorf("%w: content safety gate not configured", grading.ErrDependencyUnavailable)
		}
		if err := s.screener.Screen(ctx, inputs); err != nil {
			return dto.GradeResponse{}, err
		}
	}

	outcome, err := grader.Grade(ctx, question, req.LearnerResponse)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	summary := grading.Aggregate(outcome, question.TotalPoints)
	observability.GradingLatency().WithLabelValues(string(grader.Kind())).Observe(time.Since(started).Seconds())

	if err := ctx.Err(); err != nil {
		return dto.GradeResponse{}, fmt.Errorf("grading abandoned before persistence: %w", err)
	}

	learnerResponse, err := json.Marshal(req.LearnerResponse)
	if err != nil {
		return dto.GradeResponse{}, fmt.Errorf("encode learner response: %w", err)
	}

	record := models.QuestionResponse{
		SubmissionID:    submission.ID,
		QuestionID:      question.ID,
		LearnerResponse: datatypes.JSON(learnerResponse),
		Points:          summary.TotalPoints,
		Status:          string(outcome.Status),
		Grader:          string(grader.Kind()),
		Feedback:        datatypes.NewJSONSlice(toFeedbackItems(summary.Feedback)),
	}
	if err := s.submissions.AppendResponse(ctx, &record, question.NumRetries); err != nil {
		return dto.GradeResponse{}, translateAppendError(err)
	}

	observability.GradedResponses().WithLabelValues(record.Grader, record.Status).Inc()
	s.logger.Info().
		Uint("submission_id", record.SubmissionID).
		Uint("question_id", record.QuestionID).
		Int("sequence", record.Sequence).
		Float64("points", record.Points).
		Str("grader", record.Grader).
		Msg("response recorded")

	if err := s.events.Publish(ctx, GradingEvent{
		Type:         EventResponseRecorded,
		SubmissionID: record.SubmissionID,
		QuestionID:   record.QuestionID,
		ResponseID:   record.ID,
		Sequence:     record.Sequence,
		Points:       record.Points,
	}); err != nil {
		s.logger.Warn().Err(err).Uint("response_id", record.ID).Msg("failed to publish grading event")
	}

	points := record.Points
	return dto.GradeResponse{
		ID:                record.ID,
		Success:           true,
		TotalPoints:       &points,
		Feedback:          toFeedbackEntries(summary.Feedback),
		Status:            record.Status,
		Sequence:          record.Sequence,
		RemainingAttempts: remainingAttempts(question.NumRetries, previous+1),
	}, nil
}

func translateAppendError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSubmissionNotOpen):
		return fmt.Errorf("%w: submission finalized while grading", grading.ErrSubmissionClosed)
	case errors.Is(err, repository.ErrResponseLimitReached):
		return fmt.Errorf("%w: limit reached while grading", grading.ErrRetriesExhausted)
	case errors.Is(err, repository.ErrResponseConflict):
		return fmt.Errorf("%w: concurrent response for the same question", grading.ErrDependencyUnavailable)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: submission removed while grading", grading.ErrSubmissionNotFound)
	default:
		return fmt.Errorf("persist response: %w", err)
	}
}

func remainingAttempts(limit *int, used int64) *int {
	if limit == nil {
		return nil
	}
	remaining := *limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func toGradingQuestion(stored models.Question) (grading.Question, error) {
	questionType := grading.QuestionType(stored.Type)
	if !questionType.Valid() {
		return grading.Question{}, fmt.Errorf("%w: question %d has unknown type %q", grading.ErrInvalidQuestion, stored.ID, stored.Type)
	}

	rubrics := make([]grading.Rubric, 0, len(stored.Rubrics))
	for _, rubric := range stored.Rubrics {
		criteria := make([]grading.Criterion, 0, len(rubric.Criteria))
		for _, criterion := range rubric.Criteria {
			criteria = append(criteria, grading.Criterion{Description: criterion.Description, Points: criterion.Points})
		}
		rubrics = append(rubrics, grading.Rubric{Question: rubric.Question, Criteria: criteria})
	}

	policy, err := grading.NewScoringPolicy(grading.ScoringType(stored.ScoringType), rubrics)
	if err != nil {
		return grading.Question{}, fmt.Errorf("question %d: %w", stored.ID, err)
	}

	choices := make([]grading.Choice, 0, len(stored.Choices))
	for _, choice := range stored.Choices {
		choices = append(choices, grading.Choice{Label: choice.Label, IsCorrect: choice.IsCorrect})
	}

	return grading.Question{
		ID:          stored.ID,
		Type:        questionType,
		Text:        stored.Text,
		TotalPoints: stored.TotalPoints,
		Answer:      stored.Answer,
		Choices:     choices,
		Policy:      policy,
		NumRetries:  stored.NumRetries,
	}, nil
}

func toFeedbackItems(results grading.GradingResult) []models.FeedbackItem {
	items := make([]models.FeedbackItem, 0, len(results))
	for _, result := range results {
		items = append(items, models.FeedbackItem{Criteria: result.Criteria, Points: result.Points, Feedback: result.Feedback})
	}
	return items
}

func toFeedbackEntries(results grading.GradingResult) []dto.FeedbackEntry {
	entries := make([]dto.FeedbackEntry, 0, len(results))
	for _, result := range results {
		entries = append(entries, dto.FeedbackEntry{Criteria: result.Criteria, Points: result.Points, Feedback: result.Feedback})
	}
	return entries
}
