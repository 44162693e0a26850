package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-engine/internal/models"
)

// SubmissionStartRequest opens a new attempt.
type SubmissionStartRequest struct {
	AssignmentID uint `json:"assignmentId" validate:"required,gt=0"`
	LearnerID    uint `json:"learnerId" validate:"required,gt=0"`
}

// QuestionResponseView is one persisted graded answer.
type QuestionResponseView struct {
	ID              uint            `json:"id"`
	QuestionID      uint            `json:"questionId"`
	Sequence        int             `json:"sequence"`
	LearnerResponse interface{}     `json:"learnerResponse"`
	Points          float64         `json:"points"`
	Status          string          `json:"status,omitempty"`
	Grader          string          `json:"grader"`
	Feedback        []FeedbackEntry `json:"feedback"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SubmissionResponse describes an attempt with the latest response of each answered question.
type SubmissionResponse struct {
	ID           uint                   `json:"id"`
	AssignmentID uint                   `json:"assignmentId"`
	LearnerID    uint                   `json:"learnerId"`
	State        string                 `json:"state"`
	TotalPoints  float64                `json:"totalPoints"`
	SubmittedAt  *time.Time             `json:"submittedAt"`
	CreatedAt    time.Time              `json:"createdAt"`
	Responses    []QuestionResponseView `json:"responses"`
}

// NewQuestionResponseView maps a stored response.
func NewQuestionResponseView(response models.QuestionResponse) QuestionResponseView {
	feedback := make([]FeedbackEntry, 0, len(response.Feedback))
	for _, item := range response.Feedback {
		feedback = append(feedback, FeedbackEntry{Criteria: item.Criteria, Points: item.Points, Feedback: item.Feedback})
	}

	var learnerResponse interface{}
	if len(response.LearnerResponse) > 0 {
		learnerResponse = response.LearnerResponse
	}

	return QuestionResponseView{
		ID:              response.ID,
		QuestionID:      response.QuestionID,
		Sequence:        response.Sequence,
		LearnerResponse: learnerResponse,
		Points:          response.Points,
		Status:          response.Status,
		Grader:          response.Grader,
		Feedback:        feedback,
		CreatedAt:       response.CreatedAt,
	}
}

// NewSubmissionResponse maps a submission and its latest responses.
func NewSubmissionResponse(submission models.AssignmentSubmission, latest []models.QuestionResponse) SubmissionResponse {
	views := make([]QuestionResponseView, 0, len(latest))
	var total float64
	for _, response := range latest {
		views = append(views, NewQuestionResponseView(response))
		total += response.Points
	}

	return SubmissionResponse{
		ID:           submission.ID,
		AssignmentID: submission.AssignmentID,
		LearnerID:    submission.LearnerID,
		State:        submission.State,
		TotalPoints:  total,
		SubmittedAt:  submission.SubmittedAt,
		CreatedAt:    submission.CreatedAt,
		Responses:    views,
	}
}
