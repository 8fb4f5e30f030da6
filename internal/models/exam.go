package models

import "time"

// ExamWindowStatus is the wall-clock status of an exam window.
type ExamWindowStatus string

const (
	// ExamNotStarted means now is before the exam start.
	ExamNotStarted ExamWindowStatus = "NOT_STARTED"
	// ExamInProgress means start <= now < end.
	ExamInProgress ExamWindowStatus = "IN_PROGRESS"
	// ExamEnded means now is at or after the exam end.
	ExamEnded ExamWindowStatus = "ENDED"
)

// Exam is an arranged sitting of a paper for a class. Owned by the exam catalog.
type Exam struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"size:255;not null" json:"name"`
	PaperID   uint          `gorm:"not null;index" json:"paper_id"`
	ClassID   *uint         `gorm:"index" json:"class_id"`
	StartAt   time.Time     `gorm:"not null" json:"start_at"`
	EndAt     time.Time     `gorm:"not null" json:"end_at"`
	Settings  *ExamSettings `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"settings,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusAt computes the window status of the exam at the given instant.
func (e Exam) StatusAt(now time.Time) ExamWindowStatus {
	if now.Before(e.StartAt) {
		return ExamNotStarted
	}
	if now.Before(e.EndAt) {
		return ExamInProgress
	}
	return ExamEnded
}

// IsOpen reports whether the exam accepts attempts at the given instant.
func (e Exam) IsOpen(now time.Time) bool {
	return e.StatusAt(now) == ExamInProgress
}

// Show-answers strategies understood by the result view.
const (
	ShowAnswersNone            = "NONE"
	ShowAnswersAfterSubmission = "AFTER_SUBMISSION"
	ShowAnswersAfterDeadline   = "AFTER_DEADLINE"
)

// ExamSettings carries per-exam policy. Only a subset is consumed by the attempt lifecycle.
type ExamSettings struct {
	ID     uint `gorm:"primaryKey" json:"-"`
	ExamID uint `gorm:"uniqueIndex;not null" json:"exam_id"`
	// AllowPartialScore is advertised to teachers but grading is all-or-nothing per question.
	AllowPartialScore   bool   `gorm:"not null" json:"allow_partial_score"`
	DurationMinutes     *int   `json:"duration_minutes"`
	EnableHeartbeat     bool   `gorm:"not null" json:"enable_heartbeat"`
	RecordTabSwitch     bool   `gorm:"not null" json:"record_tab_switch"`
	AutoSubmitOnTimeout bool   `gorm:"not null" json:"auto_submit_on_timeout"`
	AllowReviewPaper    bool   `gorm:"not null" json:"allow_review_paper"`
	ShowAnswersStrategy string `gorm:"size:32;not null;default:AFTER_SUBMISSION" json:"show_answers_strategy"`
	ShowScore           bool   `gorm:"not null" json:"show_score"`
}

// DefaultExamSettings mirrors the defaults applied when an exam has no settings row.
func DefaultExamSettings(examID uint) ExamSettings {
	return ExamSettings{
		ExamID:              examID,
		AllowPartialScore:   true,
		EnableHeartbeat:     true,
		RecordTabSwitch:     true,
		AutoSubmitOnTimeout: true,
		AllowReviewPaper:    true,
		ShowAnswersStrategy: ShowAnswersAfterSubmission,
		ShowScore:           true,
	}
}

// EffectiveDeadline returns the earlier of the exam end and startedAt plus the duration override.
func (s ExamSettings) EffectiveDeadline(exam Exam, startedAt time.Time) time.Time {
	deadline := exam.EndAt
	if s.DurationMinutes != nil && *s.DurationMinutes > 0 {
		byDuration := startedAt.Add(time.Duration(*s.DurationMinutes) * time.Minute)
		if byDuration.Before(deadline) {
			deadline = byDuration
		}
	}
	return deadline
}
