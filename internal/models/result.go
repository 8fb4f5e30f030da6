package models

import "time"

// ExamResult is the graded outcome of one attempt. At most one exists per (exam, attempt).
type ExamResult struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	ExamID     uint             `gorm:"not null;uniqueIndex:idx_exam_result_attempt" json:"exam_id"`
	AttemptID  uint             `gorm:"not null;uniqueIndex:idx_exam_result_attempt" json:"attempt_id"`
	Student    string           `gorm:"size:128;not null;index" json:"student"`
	TotalScore int              `gorm:"not null" json:"total_score"`
	MaxScore   int              `gorm:"not null" json:"max_score"`
	Items      []ExamResultItem `gorm:"foreignKey:ResultID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"items"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ExamResultItem is the grading of a single question inside a result.
type ExamResultItem struct {
	ID            uint         `gorm:"primaryKey" json:"-"`
	ResultID      uint         `gorm:"not null;index" json:"-"`
	QuestionID    uint         `gorm:"not null" json:"question_id"`
	Type          QuestionType `gorm:"size:32;not null" json:"type"`
	Answer        string       `gorm:"type:text" json:"answer"`
	CorrectAnswer string       `gorm:"size:255" json:"correct_answer"`
	MaxScore      int          `gorm:"not null" json:"max_score"`
	EarnedScore   int          `gorm:"not null" json:"earned_score"`
	Correct       bool         `gorm:"not null" json:"correct"`
	OrderIndex    int          `gorm:"not null" json:"order_index"`
}
