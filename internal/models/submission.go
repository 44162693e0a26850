package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// SubmissionStateInProgress indicates the attempt still accepts responses.
	SubmissionStateInProgress = "IN_PROGRESS"
	// SubmissionStateSubmitted indicates the attempt is final.
	SubmissionStateSubmitted = "SUBMITTED"
)

// AssignmentSubmission is one learner attempt at an assignment.
type AssignmentSubmission struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	AssignmentID uint               `gorm:"not null;index" json:"assignment_id"`
	LearnerID    uint               `gorm:"not null;index" json:"learner_id"`
	State        string             `gorm:"size:32;not null;default:IN_PROGRESS" json:"state"`
	SubmittedAt  *time.Time         `json:"submitted_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Responses    []QuestionResponse `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"responses,omitempty"`
}

// IsOpen reports whether the attempt still accepts responses.
func (s AssignmentSubmission) IsOpen() bool {
	return s.State == SubmissionStateInProgress
}

// FeedbackItem is one persisted grading-result entry.
type FeedbackItem struct {
	Criteria string  `json:"criteria"`
	Points   float64 `json:"points"`
	Feedback string  `json:"feedback"`
}

// QuestionResponse is an append-only graded answer. Retries add rows with a higher sequence.
type QuestionResponse struct {
	ID              uint                              `gorm:"primaryKey" json:"id"`
	SubmissionID    uint                              `gorm:"not null;uniqueIndex:idx_response_sequence,priority:1" json:"submission_id"`
	QuestionID      uint                              `gorm:"not null;uniqueIndex:idx_response_sequence,priority:2" json:"question_id"`
	Sequence        int                               `gorm:"not null;uniqueIndex:idx_response_sequence,priority:3" json:"sequence"`
	LearnerResponse datatypes.JSON                    `json:"learner_response"`
	Points          float64                           `gorm:"not null" json:"points"`
	Status          string                            `gorm:"size:32" json:"status,omitempty"`
	Grader          string                            `gorm:"size:32;not null" json:"grader"`
	Feedback        datatypes.JSONSlice[FeedbackItem] `json:"feedback"`
	CreatedAt       time.Time                         `json:"created_at"`
}
