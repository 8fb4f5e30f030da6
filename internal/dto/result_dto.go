package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ResultItemResponse is one graded question in a student result view.
type ResultItemResponse struct {
	QuestionID    uint                `json:"question_id"`
	Type          models.QuestionType `json:"type"`
	Stem          string              `json:"stem,omitempty"`
	Options       []string            `json:"options,omitempty"`
	Answer        string              `json:"answer"`
	CorrectAnswer *string             `json:"correct_answer,omitempty"`
	Correct       *bool               `json:"correct,omitempty"`
	MaxScore      *int                `json:"max_score,omitempty"`
	EarnedScore   *int                `json:"earned_score,omitempty"`
}

// StudentResultResponse is the result view returned to a student, filtered by exam settings.
type StudentResultResponse struct {
	ResultID     uint                 `json:"result_id"`
	ExamID       uint                 `json:"exam_id"`
	AttemptID    uint                 `json:"attempt_id"`
	TotalScore   *int                 `json:"total_score,omitempty"`
	MaxScore     *int                 `json:"max_score,omitempty"`
	ScoreHidden  bool                 `json:"score_hidden"`
	AnswerHidden bool                 `json:"answers_hidden"`
	ScoreOnly    bool                 `json:"score_only"`
	Items        []ResultItemResponse `json:"items,omitempty"`
	GradedAt     time.Time            `json:"graded_at"`
}

// NewStudentScoreOnlyResponse exposes only the totals of a result.
func NewStudentScoreOnlyResponse(result models.ExamResult) StudentResultResponse {
	total := result.TotalScore
	maxTotal := result.MaxScore
	return StudentResultResponse{
		ResultID:     result.ID,
		ExamID:       result.ExamID,
		AttemptID:    result.AttemptID,
		TotalScore:   &total,
		MaxScore:     &maxTotal,
		ScoreOnly:    true,
		AnswerHidden: true,
		GradedAt:     result.CreatedAt,
	}
}

// NewStudentResultResponse builds the full review of a result, joining the attempt snapshot.
func NewStudentResultResponse(result models.ExamResult, attempt models.Attempt) StudentResultResponse {
	snapshot := make(map[uint]models.AttemptQuestion, len(attempt.Questions))
	for _, question := range attempt.Questions {
		snapshot[question.QuestionID] = question
	}

	total := result.TotalScore
	maxTotal := result.MaxScore
	response := StudentResultResponse{
		ResultID:   result.ID,
		ExamID:     result.ExamID,
		AttemptID:  result.AttemptID,
		TotalScore: &total,
		MaxScore:   &maxTotal,
		Items:      make([]ResultItemResponse, 0, len(result.Items)),
		GradedAt:   result.CreatedAt,
	}

	for _, item := range result.Items {
		correctAnswer := item.CorrectAnswer
		correct := item.Correct
		maxScore := item.MaxScore
		earned := item.EarnedScore
		entry := ResultItemResponse{
			QuestionID:    item.QuestionID,
			Type:          item.Type,
			Answer:        item.Answer,
			CorrectAnswer: &correctAnswer,
			Correct:       &correct,
			MaxScore:      &maxScore,
			EarnedScore:   &earned,
		}
		if question, ok := snapshot[item.QuestionID]; ok {
			entry.Stem = question.Stem
			entry.Options = []string(question.Options)
		}
		response.Items = append(response.Items, entry)
	}
	return response
}

// HideScore strips every score field.
func (r *StudentResultResponse) HideScore() {
	r.ScoreHidden = true
	r.TotalScore = nil
	r.MaxScore = nil
	for i := range r.Items {
		r.Items[i].MaxScore = nil
		r.Items[i].EarnedScore = nil
	}
}

// HideAnswers strips the answer key and correctness flags.
func (r *StudentResultResponse) HideAnswers() {
	r.AnswerHidden = true
	for i := range r.Items {
		r.Items[i].CorrectAnswer = nil
		r.Items[i].Correct = nil
	}
}
