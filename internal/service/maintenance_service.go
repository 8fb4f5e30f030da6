package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const defaultSweepInterval = time.Minute

// SweepReport summarises one maintenance sweep.
type SweepReport struct {
	Scanned       int `json:"scanned"`
	AutoSubmitted int `json:"auto_submitted"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// MaintenanceService periodically auto-submits attempts whose exam window has ended.
type MaintenanceService interface {
	RunOnce(ctx context.Context, now time.Time) (SweepReport, error)
	Start(ctx context.Context) error
	Stop()
}

type maintenanceService struct {
	attempts  repository.AttemptRepository
	catalog   repository.CatalogRepository
	lifecycle AttemptService
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewMaintenanceService constructs the sweeper. A non-positive interval falls back to one minute.
func NewMaintenanceService(attempts repository.AttemptRepository, catalog repository.CatalogRepository, lifecycle AttemptService, interval time.Duration, logger zerolog.Logger) MaintenanceService {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &maintenanceService{
		attempts:  attempts,
		catalog:   catalog,
		lifecycle: lifecycle,
		interval:  interval,
		logger:    logger.With().Str("component", "maintenance_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. Ticks never overlap within one process; other instances are tolerated
// because every auto-submit is a conditional update.
func (s *maintenanceService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(s.interval).SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx, s.now()); err != nil {
			s.logger.Error().Err(err).Msg("maintenance sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance sweep: %w", err)
	}

	scheduler.StartAsync()
	s.scheduler = scheduler
	s.logger.Info().Dur("interval", s.interval).Msg("maintenance sweeper started")
	return nil
}

func (s *maintenanceService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	s.scheduler = nil
	s.logger.Info().Msg("maintenance sweeper stopped")
}

func (s *maintenanceService) RunOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	started := time.Now()
	observability.SweepRuns().Inc()
	defer func() {
		observability.SweepDuration().Observe(time.Since(started).Seconds())
	}()

	attempts, err := s.attempts.ListInProgress(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list in-progress attempts: %w", err)
	}

	report := SweepReport{Scanned: len(attempts)}
	exams := make(map[uint]*models.Exam)

	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		outcome := s.sweepAttempt(ctx, attempt, now, exams)
		observability.SweepAttempts().WithLabelValues(outcome).Inc()
		switch outcome {
		case "auto_submitted":
			report.AutoSubmitted++
		case "failed":
			report.Failed++
		default:
			report.Skipped++
		}
	}

	if report.AutoSubmitted > 0 || report.Failed > 0 {
		s.logger.Info().
			Int("scanned", report.Scanned).
			Int("auto_submitted", report.AutoSubmitted).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("maintenance sweep completed")
	}
	return report, nil
}

// sweepAttempt handles a single attempt; failures are reported, never propagated.
func (s *maintenanceService) sweepAttempt(ctx context.Context, attempt models.Attempt, now time.Time, exams map[uint]*models.Exam) string {
	exam, cached := exams[attempt.ExamID]
	if !cached {
		loaded, err := s.catalog.GetExam(ctx, attempt.ExamID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			exam = nil
		case err != nil:
			s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Uint("exam_id", attempt.ExamID).Msg("failed to load exam during sweep")
			return "failed"
		default:
			exam = &loaded
		}
		exams[attempt.ExamID] = exam
	}

	if exam == nil {
		return "exam_missing"
	}
	if exam.StatusAt(now) != models.ExamEnded {
		return "not_due"
	}

	_, applied, err := s.lifecycle.AutoSubmit(ctx, attempt.ID, models.AutoSubmitTimeout)
	if err != nil {
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Uint("exam_id", attempt.ExamID).Msg("failed to auto-submit attempt")
		return "failed"
	}
	if !applied {
		return "lost_race"
	}
	return "auto_submitted"
}
