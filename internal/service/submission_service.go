package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-engine/internal/dto"
	"github.com/noah-isme/gema-grading-engine/internal/grading"
	"github.com/noah-isme/gema-grading-engine/internal/models"
	"github.com/noah-isme/gema-grading-engine/internal/repository"
)

// SubmissionService manages the attempt lifecycle around graded responses.
type SubmissionService interface {
	Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionResponse, error)
	Finalize(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	History(ctx context.Context, submissionID, questionID uint) ([]dto.QuestionResponseView, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	events      GradingEventPublisher
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs the submission service. events may be nil.
func NewSubmissionService(submissions repository.SubmissionRepository, events GradingEventPublisher, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	if events == nil {
		events = noopEventPublisher{}
	}
	if validate == nil {
		validate = validator.New()
	}

	return &submissionService{
		submissions: submissions,
		events:      events,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *submissionService) Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission := models.AssignmentSubmission{
		AssignmentID: req.AssignmentID,
		LearnerID:    req.LearnerID,
		State:        models.SubmissionStateInProgress,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("learner_id", submission.LearnerID).Msg("attempt started")
	return dto.NewSubmissionResponse(submission, nil), nil
}

// Finalize closes the attempt. A second call reports ErrSubmissionClosed.
func (s *submissionService) Finalize(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.Finalize(ctx, id, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return dto.SubmissionResponse{}, fmt.Errorf("%w: submission %d", grading.ErrSubmissionNotFound, id)
		case errors.Is(err, repository.ErrSubmissionNotOpen):
			return dto.SubmissionResponse{}, fmt.Errorf("%w: submission %d is %s", grading.ErrSubmissionClosed, id, submission.State)
		default:
			return dto.SubmissionResponse{}, err
		}
	}

	latest, err := s.submissions.LatestResponses(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	response := dto.NewSubmissionResponse(submission, latest)

	s.logger.Info().Uint("submission_id", id).Float64("total_points", response.TotalPoints).Msg("attempt finalized")
	if err := s.events.Publish(ctx, GradingEvent{
		Type:         EventSubmissionFinalized,
		SubmissionID: id,
		Points:       response.TotalPoints,
		State:        submission.State,
	}); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", id).Msg("failed to publish finalize event")
	}

	return response, nil
}

func (s *submissionService) Get(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, fmt.Errorf("%w: submission %d", grading.ErrSubmissionNotFound, id)
		}
		return dto.SubmissionResponse{}, err
	}

	latest, err := s.submissions.LatestResponses(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission, latest), nil
}

func (s *submissionService) History(ctx context.Context, submissionID, questionID uint) ([]dto.QuestionResponseView, error) {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: submission %d", grading.ErrSubmissionNotFound, submissionID)
		}
		return nil, err
	}

	responses, err := s.submissions.ListResponses(ctx, submissionID, questionID)
	if err != nil {
		return nil, err
	}

	views := make([]dto.QuestionResponseView, 0, len(responses))
	for _, response := range responses {
		views = append(views, dto.NewQuestionResponseView(response))
	}
	return views, nil
}
