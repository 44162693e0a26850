package models

import (
	"time"

	"gorm.io/datatypes"
)

// Choice is a stored option of a choice question.
type Choice struct {
	Label     string `json:"label"`
	IsCorrect bool   `json:"isCorrect"`
}

// ScoringCriterion is one level of a stored point scale.
type ScoringCriterion struct {
	Description string  `json:"description"`
	Points      float64 `json:"points"`
}

// ScoringRubric groups the criteria of one scored aspect.
type ScoringRubric struct {
	Question string             `json:"question"`
	Criteria []ScoringCriterion `json:"criteria"`
}

// Question is an authored assessment question. The engine only reads it.
type Question struct {
	ID           uint                               `gorm:"primaryKey" json:"id"`
	AssignmentID uint                               `gorm:"not null;index" json:"assignment_id"`
	Type         string                             `gorm:"size:32;not null" json:"type"`
	Text         string                             `gorm:"type:text;not null" json:"question"`
	TotalPoints  float64                            `gorm:"not null" json:"total_points"`
	Answer       *bool                              `json:"answer,omitempty"`
	Choices      datatypes.JSONSlice[Choice]        `json:"choices,omitempty"`
	ScoringType  string                             `gorm:"size:32" json:"scoring_type"`
	Rubrics      datatypes.JSONSlice[ScoringRubric] `json:"rubrics,omitempty"`
	NumRetries   *int                               `json:"num_retries,omitempty"`
	CreatedAt    time.Time                          `json:"created_at"`
	UpdatedAt    time.Time                          `json:"updated_at"`
}
