package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grading-engine/internal/models"
)

var (
	// ErrSubmissionNotOpen indicates the submission left IN_PROGRESS.
	ErrSubmissionNotOpen = errors.New("submission is not open")
	// ErrResponseLimitReached indicates the question has no attempts left.
	ErrResponseLimitReached = errors.New("response limit reached")
	// ErrResponseConflict indicates a concurrent writer took the same sequence number.
	ErrResponseConflict = errors.New("response sequence conflict")
)

// SubmissionRepository defines data operations for submissions and their graded responses.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.AssignmentSubmission) error
	GetByID(ctx context.Context, id uint) (models.AssignmentSubmission, error)
	Finalize(ctx context.Context, id uint, at time.Time) (models.AssignmentSubmission, error)
	CountResponses(ctx context.Context, submissionID, questionID uint) (int64, error)
	AppendResponse(ctx context.Context, response *models.QuestionResponse, limit *int) error
	ListResponses(ctx context.Context, submissionID, questionID uint) ([]models.QuestionResponse, error)
	LatestResponses(ctx context.Context, submissionID uint) ([]models.QuestionResponse, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.AssignmentSubmission) error {
	if submission.State == "" {
		submission.State = models.SubmissionStateInProgress
	}
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.AssignmentSubmission, error) {
	var submission models.AssignmentSubmission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.AssignmentSubmission{}, err
	}

	return submission, nil
}

// Finalize moves an IN_PROGRESS submission to SUBMITTED. The state check and the write are a single
// conditional update so that a racing writer can never observe a half-finalized attempt.
func (r *submissionRepository) Finalize(ctx context.Context, id uint, at time.Time) (models.AssignmentSubmission, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AssignmentSubmission{}).
		Where("id = ? AND state = ?", id, models.SubmissionStateInProgress).
		Updates(map[string]interface{}{
			"state":        models.SubmissionStateSubmitted,
			"submitted_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return models.AssignmentSubmission{}, result.Error
	}

	submission, err := r.GetByID(ctx, id)
	if err != nil {
		return models.AssignmentSubmission{}, err
	}
	if result.RowsAffected == 0 {
		return submission, ErrSubmissionNotOpen
	}

	return submission, nil
}

func (r *submissionRepository) CountResponses(ctx context.Context, submissionID, questionID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.QuestionResponse{}).
		Where("submission_id = ? AND question_id = ?", submissionID, questionID).
		Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// AppendResponse stores response as the next sequence for its question. The submission row is
// locked, its state and the attempt limit are re-checked, and the insert happens in the same
// transaction.
func (r *submissionRepository) AppendResponse(ctx context.Context, response *models.QuestionResponse, limit *int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submission models.AssignmentSubmission
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&submission, response.SubmissionID).Error; err != nil {
			return err
		}
		if !submission.IsOpen() {
			return ErrSubmissionNotOpen
		}

		var count int64
		if err := tx.Model(&models.QuestionResponse{}).
			Where("submission_id = ? AND question_id = ?", response.SubmissionID, response.QuestionID).
			Count(&count).Error; err != nil {
			return err
		}
		if limit != nil && count >= int64(*limit) {
			return ErrResponseLimitReached
		}

		var sequence int
		if err := tx.Model(&models.QuestionResponse{}).
			Select("COALESCE(MAX(sequence), 0)").
			Where("submission_id = ? AND question_id = ?", response.SubmissionID, response.QuestionID).
			Scan(&sequence).Error; err != nil {
			return err
		}

		response.Sequence = sequence + 1
		return tx.Create(response).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrResponseConflict
	}
	return err
}

func (r *submissionRepository) ListResponses(ctx context.Context, submissionID, questionID uint) ([]models.QuestionResponse, error) {
	var responses []models.QuestionResponse
	if err := r.db.WithContext(ctx).
		Where("submission_id = ? AND question_id = ?", submissionID, questionID).
		Order("sequence ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}

	return responses, nil
}

// LatestResponses returns the highest-sequence response of every answered question.
func (r *submissionRepository) LatestResponses(ctx context.Context, submissionID uint) ([]models.QuestionResponse, error) {
	latest := r.db.Model(&models.QuestionResponse{}).
		Select("question_id, MAX(sequence) AS sequence").
		Where("submission_id = ?", submissionID).
		Group("question_id")

	var responses []models.QuestionResponse
	if err := r.db.WithContext(ctx).
		Table("question_responses AS r").
		Select("r.*").
		Joins("JOIN (?) AS latest ON latest.question_id = r.question_id AND latest.sequence = r.sequence", latest).
		Where("r.submission_id = ?", submissionID).
		Order("r.question_id ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}

	return responses, nil
}
