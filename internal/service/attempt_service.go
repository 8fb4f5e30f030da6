package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// ErrAttemptNotSubmitted is returned when a reopen loses the race or targets an open attempt.
var ErrAttemptNotSubmitted = newDomainError(ErrConflict, "attempt not submitted")

// StartedAttempt is an attempt together with the deadline shown to the student.
type StartedAttempt struct {
	Attempt  models.Attempt
	Deadline time.Time
	Resumed  bool
}

// AttemptService drives the attempt state machine.
type AttemptService interface {
	Start(ctx context.Context, examID uint, student string) (StartedAttempt, error)
	Submit(ctx context.Context, examID, attemptID uint, student string, answers []dto.AnswerPayload) (models.Attempt, error)
	AutoSubmit(ctx context.Context, attemptID uint, reason models.AutoSubmitReason) (models.Attempt, bool, error)
	Reopen(ctx context.Context, attemptID uint) (models.Attempt, error)
	Authorize(ctx context.Context, examID, attemptID uint, student string) (models.Attempt, error)
}

type attemptService struct {
	attempts repository.AttemptRepository
	catalog  repository.CatalogRepository
	grading  GradingService
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAttemptService constructs the attempt lifecycle service.
func NewAttemptService(attempts repository.AttemptRepository, catalog repository.CatalogRepository, grading GradingService, logger zerolog.Logger) AttemptService {
	return &attemptService{
		attempts: attempts,
		catalog:  catalog,
		grading:  grading,
		logger:   logger.With().Str("component", "attempt_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/attempt"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *attemptService) Start(ctx context.Context, examID uint, student string) (StartedAttempt, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.start", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.String("attempt.student", student),
	))
	defer span.End()

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return StartedAttempt{}, s.fail(span, err)
	}

	now := s.now()
	if !exam.IsOpen(now) {
		return StartedAttempt{}, s.fail(span, ErrExamNotInProgress)
	}

	settings, err := s.catalog.GetSettings(ctx, examID)
	if err != nil {
		return StartedAttempt{}, s.fail(span, err)
	}

	active, err := s.attempts.FindActive(ctx, examID, student)
	if err == nil {
		span.SetAttributes(attribute.Bool("attempt.resumed", true))
		return StartedAttempt{
			Attempt:  active,
			Deadline: settings.EffectiveDeadline(exam, active.StartedAt),
			Resumed:  true,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return StartedAttempt{}, s.fail(span, err)
	}

	snapshot, err := s.freezeQuestions(ctx, exam.PaperID)
	if err != nil {
		return StartedAttempt{}, s.fail(span, err)
	}

	attempt := models.Attempt{
		ExamID:    exam.ID,
		PaperID:   exam.PaperID,
		Student:   student,
		Status:    models.AttemptInProgress,
		StartedAt: now,
		Questions: snapshot,
	}
	if err := s.attempts.Create(ctx, &attempt); err != nil {
		// A concurrent start for the same student may have won the active-attempt index.
		if winner, findErr := s.attempts.FindActive(ctx, examID, student); findErr == nil {
			return StartedAttempt{
				Attempt:  winner,
				Deadline: settings.EffectiveDeadline(exam, winner.StartedAt),
				Resumed:  true,
			}, nil
		}
		return StartedAttempt{}, s.fail(span, err)
	}

	span.SetAttributes(attribute.Int64("attempt.id", int64(attempt.ID)))
	observability.AttemptTransitions().WithLabelValues(string(models.AttemptInProgress), "start").Inc()
	s.logger.Info().
		Uint("exam_id", examID).
		Uint("attempt_id", attempt.ID).
		Str("student", student).
		Int("questions", len(snapshot)).
		Msg("attempt started")

	return StartedAttempt{
		Attempt:  attempt,
		Deadline: settings.EffectiveDeadline(exam, attempt.StartedAt),
	}, nil
}

func (s *attemptService) freezeQuestions(ctx context.Context, paperID uint) ([]models.AttemptQuestion, error) {
	paper, err := s.catalog.GetPaper(ctx, paperID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaperNotFound
		}
		return nil, err
	}

	snapshot := make([]models.AttemptQuestion, 0, len(paper.Items))
	for _, item := range paper.Items {
		question, err := s.catalog.GetQuestion(ctx, item.QuestionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrQuestionNotFound, item.QuestionID)
			}
			return nil, err
		}

		var frozen models.AttemptQuestion
		if err := copier.CopyWithOption(&frozen, &question, copier.Option{DeepCopy: true}); err != nil {
			return nil, err
		}
		frozen.QuestionID = question.ID
		frozen.OrderIndex = item.OrderIndex
		snapshot = append(snapshot, frozen)
	}
	return snapshot, nil
}

func (s *attemptService) Submit(ctx context.Context, examID, attemptID uint, student string, answers []dto.AnswerPayload) (models.Attempt, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.submit", trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.Int("answers.count", len(answers)),
	))
	defer span.End()

	attempt, err := s.Authorize(ctx, examID, attemptID, student)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}
	if attempt.Status != models.AttemptInProgress {
		return models.Attempt{}, s.fail(span, ErrAttemptAlreadySubmitted)
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}
	now := s.now()
	if !exam.IsOpen(now) {
		return models.Attempt{}, s.fail(span, ErrExamNotInProgress)
	}

	records, err := validateAnswers(attempt, answers)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}

	applied, err := s.attempts.Submit(ctx, attempt.ID, records, now)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}
	if !applied {
		return models.Attempt{}, s.fail(span, ErrAttemptAlreadySubmitted)
	}
	observability.AttemptTransitions().WithLabelValues(string(models.AttemptSubmitted), "student").Inc()

	submitted, err := s.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}

	if _, err := s.grading.EnsureResult(ctx, examID, submitted); err != nil {
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to grade submitted attempt")
		return models.Attempt{}, s.fail(span, err)
	}

	s.logger.Info().Uint("exam_id", examID).Uint("attempt_id", attempt.ID).Str("student", student).Msg("attempt submitted")
	return submitted, nil
}

// validateAnswers rejects the whole batch on the first bad entry.
func validateAnswers(attempt models.Attempt, answers []dto.AnswerPayload) ([]models.AttemptAnswer, error) {
	allowed := attempt.QuestionIDs()
	seen := make(map[uint]struct{}, len(answers))
	records := make([]models.AttemptAnswer, 0, len(answers))

	for _, answer := range answers {
		if answer.QuestionID <= 0 {
			return nil, ErrInvalidQuestionID
		}
		id := uint(answer.QuestionID)
		if _, ok := allowed[id]; !ok {
			return nil, ErrQuestionNotInPaper
		}
		if _, dup := seen[id]; dup {
			return nil, ErrDuplicateQuestion
		}
		seen[id] = struct{}{}
		records = append(records, models.AttemptAnswer{QuestionID: id, Answer: answer.Answer})
	}
	return records, nil
}

// AutoSubmit finalises an attempt without the student. A lost race returns applied=false and no error.
func (s *attemptService) AutoSubmit(ctx context.Context, attemptID uint, reason models.AutoSubmitReason) (models.Attempt, bool, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.auto_submit", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.String("attempt.reason", string(reason)),
	))
	defer span.End()

	now := s.now()
	applied, err := s.attempts.Transition(ctx, attemptID, models.AttemptAutoSubmitted, &now)
	if err != nil {
		return models.Attempt{}, false, s.fail(span, err)
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, false, s.fail(span, ErrAttemptNotFound)
		}
		return models.Attempt{}, false, s.fail(span, err)
	}

	span.SetAttributes(attribute.Bool("attempt.applied", applied))
	if !applied {
		return attempt, false, nil
	}
	observability.AttemptTransitions().WithLabelValues(string(models.AttemptAutoSubmitted), triggerFor(reason)).Inc()

	if _, err := s.grading.EnsureResult(ctx, attempt.ExamID, attempt); err != nil {
		s.logger.Error().Err(err).Uint("attempt_id", attemptID).Str("reason", string(reason)).Msg("failed to grade auto-submitted attempt")
		return attempt, true, s.fail(span, err)
	}

	s.logger.Info().
		Uint("exam_id", attempt.ExamID).
		Uint("attempt_id", attemptID).
		Str("reason", string(reason)).
		Msg("attempt auto-submitted")
	return attempt, true, nil
}

// Reopen returns a finished attempt to IN_PROGRESS. The stored result is left untouched.
func (s *attemptService) Reopen(ctx context.Context, attemptID uint) (models.Attempt, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.reopen", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
	))
	defer span.End()

	attempt, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}

	exam, err := s.loadExam(ctx, attempt.ExamID)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}
	if !exam.IsOpen(s.now()) {
		return models.Attempt{}, s.fail(span, ErrExamNotInProgress)
	}

	if active, err := s.attempts.FindActive(ctx, attempt.ExamID, attempt.Student); err == nil && active.ID != attempt.ID {
		return models.Attempt{}, s.fail(span, ErrAttemptAlreadyActive)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Attempt{}, s.fail(span, err)
	}

	applied, err := s.attempts.Transition(ctx, attemptID, models.AttemptInProgress, nil)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}
	if !applied {
		return models.Attempt{}, s.fail(span, ErrAttemptNotSubmitted)
	}
	observability.AttemptTransitions().WithLabelValues(string(models.AttemptInProgress), "reopen").Inc()

	reopened, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, s.fail(span, err)
	}

	s.logger.Info().Uint("exam_id", reopened.ExamID).Uint("attempt_id", attemptID).Msg("attempt reopened")
	return reopened, nil
}

// Authorize loads the attempt and checks it belongs to the exam and the student.
func (s *attemptService) Authorize(ctx context.Context, examID, attemptID uint, student string) (models.Attempt, error) {
	return authorizeAttempt(ctx, s.attempts, examID, attemptID, student)
}

func authorizeAttempt(ctx context.Context, attempts repository.AttemptRepository, examID, attemptID uint, student string) (models.Attempt, error) {
	attempt, err := attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}
	if attempt.ExamID != examID || attempt.Student != student {
		return models.Attempt{}, ErrAttemptForbidden
	}
	return attempt, nil
}

func (s *attemptService) loadExam(ctx context.Context, examID uint) (models.Exam, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exam{}, ErrExamNotFound
		}
		return models.Exam{}, err
	}
	return exam, nil
}

func (s *attemptService) loadAttempt(ctx context.Context, attemptID uint) (models.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}
	return attempt, nil
}

func (s *attemptService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func triggerFor(reason models.AutoSubmitReason) string {
	switch reason {
	case models.AutoSubmitTeacher:
		return "teacher"
	case models.AutoSubmitTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
