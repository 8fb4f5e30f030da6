package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptStatus is the lifecycle state of an exam attempt.
type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted     AttemptStatus = "SUBMITTED"
	AttemptAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
)

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptInProgress:    {AttemptSubmitted, AttemptAutoSubmitted},
	AttemptSubmitted:     {AttemptInProgress},
	AttemptAutoSubmitted: {AttemptInProgress},
}

// Valid reports whether the status is one of the known attempt states.
func (s AttemptStatus) Valid() bool {
	_, ok := attemptTransitions[s]
	return ok
}

// Finished reports whether the attempt has been handed in, by the student or automatically.
func (s AttemptStatus) Finished() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

// CanTransition reports whether an attempt may move from one status to another.
func CanTransition(from, to AttemptStatus) bool {
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status allowed to transition into target.
func SourcesFor(target AttemptStatus) []AttemptStatus {
	sources := make([]AttemptStatus, 0, 2)
	for _, from := range []AttemptStatus{AttemptInProgress, AttemptSubmitted, AttemptAutoSubmitted} {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// AutoSubmitReason explains why an attempt was finalised without the student.
type AutoSubmitReason string

const (
	AutoSubmitTimeout AutoSubmitReason = "TIMEOUT"
	AutoSubmitTeacher AutoSubmitReason = "TEACHER"
)

// Attempt is one student's instance of taking one exam. A partial unique index keeps
// at most one IN_PROGRESS attempt per (exam, student).
type Attempt struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	ExamID      uint              `gorm:"not null;index:idx_attempt_exam_student;uniqueIndex:idx_attempt_active,where:status = 'IN_PROGRESS'" json:"exam_id"`
	PaperID     uint              `gorm:"not null" json:"paper_id"`
	Student     string            `gorm:"size:128;not null;index:idx_attempt_exam_student;uniqueIndex:idx_attempt_active,where:status = 'IN_PROGRESS'" json:"student"`
	Status      AttemptStatus     `gorm:"size:32;not null;index" json:"status"`
	StartedAt   time.Time         `gorm:"not null" json:"started_at"`
	SubmittedAt *time.Time        `json:"submitted_at"`
	Questions   []AttemptQuestion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
	Answers     []AttemptAnswer   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// QuestionIDs returns the snapshot question ids as a set.
func (a Attempt) QuestionIDs() map[uint]struct{} {
	ids := make(map[uint]struct{}, len(a.Questions))
	for _, question := range a.Questions {
		ids[question.QuestionID] = struct{}{}
	}
	return ids
}

// AttemptQuestion is the frozen copy of a catalog question bound to an attempt at start.
// It carries no correct answer and is never updated after insert.
type AttemptQuestion struct {
	ID         uint                        `gorm:"primaryKey" json:"-" copier:"-"`
	AttemptID  uint                        `gorm:"not null;index" json:"-"`
	QuestionID uint                        `gorm:"not null" json:"question_id"`
	Type       QuestionType                `gorm:"size:32;not null" json:"type"`
	Stem       string                      `gorm:"type:text;not null" json:"stem"`
	Options    datatypes.JSONSlice[string] `gorm:"type:json" json:"options"`
	Score      int                         `gorm:"not null" json:"score"`
	OrderIndex int                         `gorm:"not null" json:"order_index"`
}

// AttemptAnswer is a submitted answer for one snapshot question.
type AttemptAnswer struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	AttemptID  uint   `gorm:"not null;uniqueIndex:idx_attempt_answer_question" json:"-"`
	QuestionID uint   `gorm:"not null;uniqueIndex:idx_attempt_answer_question" json:"question_id"`
	Answer     string `gorm:"type:text" json:"answer"`
}
