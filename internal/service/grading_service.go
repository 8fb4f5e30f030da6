package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/grading"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// GradingService grades finished attempts and stores at most one result per attempt.
type GradingService interface {
	EnsureResult(ctx context.Context, examID uint, attempt models.Attempt) (models.ExamResult, error)
}

type gradingService struct {
	results repository.ResultRepository
	catalog repository.CatalogRepository
	grader  grading.Grader
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewGradingService constructs the grading service.
func NewGradingService(results repository.ResultRepository, catalog repository.CatalogRepository, grader grading.Grader, logger zerolog.Logger) GradingService {
	if grader == nil {
		grader = grading.NewDefaultGrader()
	}
	return &gradingService{
		results: results,
		catalog: catalog,
		grader:  grader,
		logger:  logger.With().Str("component", "grading_service").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/grading"),
	}
}

// EnsureResult returns the stored result for the attempt, grading and inserting it first when absent.
// Concurrent callers converge on the single row guarded by the (exam, attempt) unique index.
func (s *gradingService) EnsureResult(ctx context.Context, examID uint, attempt models.Attempt) (models.ExamResult, error) {
	ctx, span := s.tracer.Start(ctx, "grading.ensure_result", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.Int64("attempt.id", int64(attempt.ID)),
	))
	defer span.End()

	existing, err := s.results.FindByExamAndAttempt(ctx, examID, attempt.ID)
	if err == nil {
		span.SetAttributes(attribute.Bool("result.reused", true))
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup result")
		return models.ExamResult{}, err
	}

	draft, err := s.grade(ctx, examID, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade attempt")
		return models.ExamResult{}, err
	}

	stored, created, err := s.results.CreateIfAbsent(ctx, &draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store result")
		return models.ExamResult{}, err
	}

	span.SetAttributes(attribute.Bool("result.created", created))
	if created {
		observability.ResultsCreated().Inc()
		s.logger.Info().
			Uint("exam_id", examID).
			Uint("attempt_id", attempt.ID).
			Int("total_score", stored.TotalScore).
			Int("max_score", stored.MaxScore).
			Msg("exam result created")
	}
	return stored, nil
}

func (s *gradingService) grade(ctx context.Context, examID uint, attempt models.Attempt) (models.ExamResult, error) {
	snapshot := make([]models.AttemptQuestion, len(attempt.Questions))
	copy(snapshot, attempt.Questions)
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].QuestionID < snapshot[j].QuestionID
	})

	ids := make([]uint, 0, len(snapshot))
	for _, question := range snapshot {
		ids = append(ids, question.QuestionID)
	}

	catalog, err := s.catalog.GetQuestions(ctx, ids)
	if err != nil {
		return models.ExamResult{}, err
	}

	answers := make(map[uint]string, len(attempt.Answers))
	for _, answer := range attempt.Answers {
		answers[answer.QuestionID] = answer.Answer
	}

	result := models.ExamResult{
		ExamID:    examID,
		AttemptID: attempt.ID,
		Student:   attempt.Student,
		Items:     make([]models.ExamResultItem, 0, len(snapshot)),
	}

	for i, question := range snapshot {
		live, ok := catalog[question.QuestionID]
		if !ok {
			return models.ExamResult{}, fmt.Errorf("%w: %d", ErrQuestionNotFound, question.QuestionID)
		}

		answer := answers[question.QuestionID]
		outcome := s.grader.Grade(grading.Question{
			Type:          live.Type,
			CorrectAnswer: live.CorrectAnswer,
			Score:         question.Score,
		}, answer)

		result.Items = append(result.Items, models.ExamResultItem{
			QuestionID:    question.QuestionID,
			Type:          question.Type,
			Answer:        answer,
			CorrectAnswer: live.CorrectAnswer,
			MaxScore:      outcome.MaxScore,
			EarnedScore:   outcome.EarnedScore,
			Correct:       outcome.Correct,
			OrderIndex:    i + 1,
		})
		result.TotalScore += outcome.EarnedScore
		result.MaxScore += outcome.MaxScore
	}

	return result, nil
}
