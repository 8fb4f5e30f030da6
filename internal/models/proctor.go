package models

import (
	"time"

	"gorm.io/datatypes"
)

// Proctor event types recorded against an attempt.
const (
	ProctorEventTabSwitch          = "TAB_SWITCH"
	ProctorEventFocusLost          = "FOCUS_LOST"
	ProctorEventFullscreenExit     = "FULLSCREEN_EXIT"
	ProctorEventTeacherRemind      = "TEACHER_REMIND"
	ProctorEventTeacherForceSubmit = "TEACHER_FORCE_SUBMIT"
	ProctorEventTeacherReopen      = "TEACHER_REOPEN"
)

// InterventionEventTypes lists the teacher-originated events delivered to the student poll.
// TEACHER_REOPEN is recorded for the monitor view only.
var InterventionEventTypes = []string{ProctorEventTeacherRemind, ProctorEventTeacherForceSubmit}

// IsInterventionEvent reports whether eventType is delivered to the student poll.
func IsInterventionEvent(eventType string) bool {
	for _, candidate := range InterventionEventTypes {
		if candidate == eventType {
			return true
		}
	}
	return false
}

// ProctorEvent is an append-only observation attached to an attempt.
type ProctorEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ExamID    uint           `gorm:"not null;index" json:"exam_id"`
	AttemptID uint           `gorm:"not null;index" json:"attempt_id"`
	Username  string         `gorm:"size:128;not null" json:"username"`
	Type      string         `gorm:"size:64;not null;index" json:"type"`
	Payload   datatypes.JSON `gorm:"type:json" json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// AttemptHeartbeat is a liveness ping from the student client.
type AttemptHeartbeat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AttemptID uint      `gorm:"not null;index" json:"attempt_id"`
	Username  string    `gorm:"size:128;not null" json:"username"`
	ClientTS  time.Time `gorm:"column:client_ts;not null" json:"client_ts"`
	CreatedAt time.Time `json:"created_at"`
}
