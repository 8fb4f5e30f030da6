package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// ResultViewService serves a student's own result filtered by the exam's review policy.
type ResultViewService interface {
	ForStudent(ctx context.Context, examID uint, student string) (dto.StudentResultResponse, error)
}

type resultViewService struct {
	catalog  repository.CatalogRepository
	attempts repository.AttemptRepository
	results  repository.ResultRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewResultViewService constructs the student result view service.
func NewResultViewService(catalog repository.CatalogRepository, attempts repository.AttemptRepository, results repository.ResultRepository, logger zerolog.Logger) ResultViewService {
	return &resultViewService{
		catalog:  catalog,
		attempts: attempts,
		results:  results,
		logger:   logger.With().Str("component", "result_view_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *resultViewService) ForStudent(ctx context.Context, examID uint, student string) (dto.StudentResultResponse, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentResultResponse{}, ErrExamNotFound
		}
		return dto.StudentResultResponse{}, err
	}

	result, err := s.results.FindLatestForStudent(ctx, examID, student)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentResultResponse{}, ErrResultNotFound
		}
		return dto.StudentResultResponse{}, err
	}

	settings, err := s.catalog.GetSettings(ctx, examID)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}

	if !settings.AllowReviewPaper {
		if !settings.ShowScore {
			return dto.StudentResultResponse{}, ErrReviewNotAllowed
		}
		return dto.NewStudentScoreOnlyResponse(result), nil
	}

	attempt, err := s.attempts.GetByID(ctx, result.AttemptID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.StudentResultResponse{}, err
	}

	response := dto.NewStudentResultResponse(result, attempt)
	if !settings.ShowScore {
		response.HideScore()
	}
	if !answersVisible(settings, exam, s.now()) {
		response.HideAnswers()
	}
	return response, nil
}

func answersVisible(settings models.ExamSettings, exam models.Exam, now time.Time) bool {
	switch settings.ShowAnswersStrategy {
	case models.ShowAnswersAfterSubmission:
		return true
	case models.ShowAnswersAfterDeadline:
		return !now.Before(exam.EndAt)
	default:
		return false
	}
}
