package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// MonitorCounts summarises attempt progress for an exam.
type MonitorCounts struct {
	Started    int   `json:"started"`
	InProgress int   `json:"in_progress"`
	Submitted  int   `json:"submitted"`
	Results    int64 `json:"results"`
}

// MonitorResponse is the live monitor view of an exam for teachers.
type MonitorResponse struct {
	ExamID           uint                    `json:"exam_id"`
	ExamName         string                  `json:"exam_name"`
	Status           models.ExamWindowStatus `json:"status"`
	Counts           MonitorCounts           `json:"counts"`
	InProgress       []string                `json:"in_progress"`
	Submitted        []string                `json:"submitted"`
	RecentEvents     []ProctorEventResponse  `json:"recent_events"`
	LatestHeartbeats []HeartbeatResponse     `json:"latest_heartbeats"`
	TabSwitchCounts  map[string]int64        `json:"tab_switch_counts"`
	GeneratedAt      time.Time               `json:"generated_at"`
}
