package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// AnswerPayload is one submitted answer. QuestionID is signed so non-positive ids can be rejected.
type AnswerPayload struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer" validate:"max=2000"`
}

// SubmitAttemptRequest is the body of the submit endpoint.
type SubmitAttemptRequest struct {
	AttemptID uint            `json:"attempt_id" validate:"required"`
	Answers   []AnswerPayload `json:"answers" validate:"dive"`
}

// QuestionSnapshotResponse is a frozen question as shown to the student. It never carries the answer key.
type QuestionSnapshotResponse struct {
	QuestionID uint                `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	Stem       string              `json:"stem"`
	Options    []string            `json:"options"`
	Score      int                 `json:"score"`
	OrderIndex int                 `json:"order_index"`
}

// AnswerResponse is a stored answer.
type AnswerResponse struct {
	QuestionID uint   `json:"question_id"`
	Answer     string `json:"answer"`
}

// AttemptResponse is the serialized representation of an attempt.
type AttemptResponse struct {
	ID          uint                       `json:"id"`
	ExamID      uint                       `json:"exam_id"`
	PaperID     uint                       `json:"paper_id"`
	Student     string                     `json:"student"`
	Status      models.AttemptStatus       `json:"status"`
	StartedAt   time.Time                  `json:"started_at"`
	SubmittedAt *time.Time                 `json:"submitted_at"`
	Deadline    *time.Time                 `json:"deadline,omitempty"`
	Resumed     bool                       `json:"resumed,omitempty"`
	Questions   []QuestionSnapshotResponse `json:"questions"`
	Answers     []AnswerResponse           `json:"answers"`
}

// NewAttemptResponse converts an attempt model into a DTO.
func NewAttemptResponse(attempt models.Attempt) AttemptResponse {
	questions := make([]QuestionSnapshotResponse, 0, len(attempt.Questions))
	for _, question := range attempt.Questions {
		options := []string(question.Options)
		if options == nil {
			options = []string{}
		}
		questions = append(questions, QuestionSnapshotResponse{
			QuestionID: question.QuestionID,
			Type:       question.Type,
			Stem:       question.Stem,
			Options:    options,
			Score:      question.Score,
			OrderIndex: question.OrderIndex,
		})
	}

	answers := make([]AnswerResponse, 0, len(attempt.Answers))
	for _, answer := range attempt.Answers {
		answers = append(answers, AnswerResponse{QuestionID: answer.QuestionID, Answer: answer.Answer})
	}

	return AttemptResponse{
		ID:          attempt.ID,
		ExamID:      attempt.ExamID,
		PaperID:     attempt.PaperID,
		Student:     attempt.Student,
		Status:      attempt.Status,
		StartedAt:   attempt.StartedAt,
		SubmittedAt: attempt.SubmittedAt,
		Questions:   questions,
		Answers:     answers,
	}
}

// NewStartedAttemptResponse adds the effective deadline to an attempt DTO.
func NewStartedAttemptResponse(attempt models.Attempt, deadline time.Time, resumed bool) AttemptResponse {
	response := NewAttemptResponse(attempt)
	response.Deadline = &deadline
	response.Resumed = resumed
	return response
}
