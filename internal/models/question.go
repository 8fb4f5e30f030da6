package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates the objective question kinds graded automatically.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
)

// Question is the authoritative question record of the question catalog.
type Question struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	BankID        *uint                       `gorm:"index" json:"bank_id"`
	Type          QuestionType                `gorm:"size:32;not null" json:"type"`
	Stem          string                      `gorm:"type:text;not null" json:"stem"`
	Options       datatypes.JSONSlice[string] `gorm:"type:json" json:"options"`
	CorrectAnswer string                      `gorm:"size:255" json:"-"`
	Score         int                         `gorm:"not null;default:1" json:"score"`
	Enabled       bool                        `gorm:"not null;default:true" json:"enabled"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// Paper is an ordered collection of questions an exam is sat against.
type Paper struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Name      string      `gorm:"size:255;not null" json:"name"`
	Items     []PaperItem `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PaperItem places a question at a position inside a paper.
type PaperItem struct {
	ID         uint `gorm:"primaryKey" json:"-"`
	PaperID    uint `gorm:"not null;index" json:"paper_id"`
	QuestionID uint `gorm:"not null" json:"question_id"`
	OrderIndex int  `gorm:"not null" json:"order_index"`
}
