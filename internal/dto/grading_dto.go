package dto

import "github.com/noah-isme/gema-grading-engine/internal/grading"

// GradeRequest is the body of POST /grade.
type GradeRequest struct {
	QuestionID      uint                    `json:"questionId" validate:"required,gt=0"`
	SubmissionID    uint                    `json:"submissionId" validate:"required,gt=0"`
	LearnerResponse grading.LearnerResponse `json:"learnerResponse"`
}

// FeedbackEntry is one criterion of the returned feedback.
type FeedbackEntry struct {
	Criteria string  `json:"criteria"`
	Points   float64 `json:"points"`
	Feedback string  `json:"feedback"`
}

// GradeError is the structured failure returned to callers.
type GradeError struct {
	Kind      grading.ErrorKind `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
}

// GradeResponse is returned by POST /grade.
type GradeResponse struct {
	ID                uint            `json:"id,omitempty"`
	Success           bool            `json:"success"`
	TotalPoints       *float64        `json:"totalPoints,omitempty"`
	Feedback          []FeedbackEntry `json:"feedback,omitempty"`
	Status            string          `json:"status,omitempty"`
	Sequence          int             `json:"sequence,omitempty"`
	RemainingAttempts *int            `json:"remainingAttempts,omitempty"`
	Error             *GradeError     `json:"error,omitempty"`
}

// NewGradeError builds the caller-safe error body for err.
func NewGradeError(err error) *GradeError {
	kind := grading.KindOf(err)
	return &GradeError{Kind: kind, Message: kind.Message(), Retryable: kind.Retryable()}
}
