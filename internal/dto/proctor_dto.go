package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// HeartbeatRequest is a liveness ping from the student client.
type HeartbeatRequest struct {
	AttemptID uint       `json:"attempt_id" validate:"required"`
	TS        *time.Time `json:"ts"`
}

// ProctorEventRequest records a client-side proctoring observation.
type ProctorEventRequest struct {
	AttemptID uint            `json:"attempt_id" validate:"required"`
	Type      string          `json:"type" validate:"required,max=64"`
	Payload   json.RawMessage `json:"payload"`
}

// PollMessagesQuery carries the poll cursor.
type PollMessagesQuery struct {
	AttemptID    uint `query:"attempt_id" validate:"required"`
	AfterEventID uint `query:"after_event_id"`
}

// ProctorEventResponse is a stored proctor event.
type ProctorEventResponse struct {
	ID        uint            `json:"id"`
	ExamID    uint            `json:"exam_id"`
	AttemptID uint            `json:"attempt_id"`
	Username  string          `json:"username"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewProctorEventResponse converts a proctor event model to DTO.
func NewProctorEventResponse(event models.ProctorEvent) ProctorEventResponse {
	response := ProctorEventResponse{
		ID:        event.ID,
		ExamID:    event.ExamID,
		AttemptID: event.AttemptID,
		Username:  event.Username,
		Type:      event.Type,
		CreatedAt: event.CreatedAt,
	}
	if len(event.Payload) > 0 {
		response.Payload = json.RawMessage(event.Payload)
	}
	return response
}

// NewProctorEventResponseSlice converts a slice of proctor events.
func NewProctorEventResponseSlice(events []models.ProctorEvent) []ProctorEventResponse {
	out := make([]ProctorEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, NewProctorEventResponse(event))
	}
	return out
}

// HeartbeatResponse is the latest heartbeat of an attempt.
type HeartbeatResponse struct {
	AttemptID  uint      `json:"attempt_id"`
	Username   string    `json:"username"`
	ClientTS   time.Time `json:"client_ts"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewHeartbeatResponse converts a heartbeat model to DTO.
func NewHeartbeatResponse(heartbeat models.AttemptHeartbeat) HeartbeatResponse {
	return HeartbeatResponse{
		AttemptID:  heartbeat.AttemptID,
		Username:   heartbeat.Username,
		ClientTS:   heartbeat.ClientTS,
		ReceivedAt: heartbeat.CreatedAt,
	}
}

// ProctorMessageResponse is a teacher intervention delivered to the student poll.
type ProctorMessageResponse struct {
	ID        uint            `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PollMessagesResponse wraps poll results with the cursor to use next.
type PollMessagesResponse struct {
	Messages    []ProctorMessageResponse `json:"messages"`
	NextEventID uint                     `json:"next_event_id"`
}

// TeacherCommandRequest targets a student's attempt for force-submit or reopen.
type TeacherCommandRequest struct {
	Username string `json:"username" validate:"required,max=128"`
}

// TeacherRemindRequest sends a reminder message to a student.
type TeacherRemindRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Message  string `json:"message" validate:"max=500"`
}

// InterventionResponse reports the outcome of a teacher command.
type InterventionResponse struct {
	AttemptID   uint                 `json:"attempt_id"`
	Username    string               `json:"username"`
	Status      models.AttemptStatus `json:"status"`
	EventID     uint                 `json:"event_id,omitempty"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
	Applied     bool                 `json:"applied"`
}
