package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

func newTestMaintenance(f *examFixture) *maintenanceService {
	return NewMaintenanceService(f.attempts, f.catalog, f.lifecycle, time.Hour, testLogger()).(*maintenanceService)
}

func TestMaintenanceRunOnceSkipsOpenExams(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)

	report, err := newTestMaintenance(f).RunOnce(ctx, f.now)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Scanned: 1, Skipped: 1}, report)
	require.Equal(t, models.AttemptInProgress, f.attemptStatus(t, started.Attempt.ID))
}

func TestMaintenanceRunOnceAutoSubmitsEndedExams(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	alice, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	bob, err := f.lifecycle.Start(ctx, f.exam.ID, "bob")
	require.NoError(t, err)

	orphan := models.Attempt{ExamID: 9999, PaperID: f.exam.PaperID, Student: "carol", Status: models.AttemptInProgress, StartedAt: f.now}
	require.NoError(t, f.attempts.Create(ctx, &orphan))

	sweeper := newTestMaintenance(f)
	after := f.exam.EndAt.Add(time.Second)
	f.setNow(after)

	report, err := sweeper.RunOnce(ctx, after)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Scanned: 3, AutoSubmitted: 2, Skipped: 1}, report)

	for _, id := range []uint{alice.Attempt.ID, bob.Attempt.ID} {
		require.Equal(t, models.AttemptAutoSubmitted, f.attemptStatus(t, id))
		require.Equal(t, int64(1), f.countResults(t, id))
	}
	require.Equal(t, models.AttemptInProgress, f.attemptStatus(t, orphan.ID))

	again, err := sweeper.RunOnce(ctx, after)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Scanned: 1, Skipped: 1}, again)
}

func TestMaintenanceRunOnceIsolatesFailingAttempts(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	doomed := models.Question{Type: models.QuestionTrueFalse, Stem: "Removed later", CorrectAnswer: "false", Score: 1, Enabled: true}
	require.NoError(t, f.db.Create(&doomed).Error)
	paper := models.Paper{Name: "Retake", Items: []models.PaperItem{{QuestionID: doomed.ID, OrderIndex: 1}}}
	require.NoError(t, f.db.Create(&paper).Error)
	retake := models.Exam{Name: "Retake sitting", PaperID: paper.ID, StartAt: f.exam.StartAt, EndAt: f.exam.EndAt}
	require.NoError(t, f.db.Create(&retake).Error)

	alice, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	bob, err := f.lifecycle.Start(ctx, retake.ID, "bob")
	require.NoError(t, err)

	// Grading bob's attempt now fails: the answer key is gone.
	require.NoError(t, f.db.Delete(&models.Question{}, doomed.ID).Error)

	after := f.exam.EndAt.Add(time.Second)
	f.setNow(after)

	report, err := newTestMaintenance(f).RunOnce(ctx, after)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Scanned: 2, AutoSubmitted: 1, Failed: 1}, report)

	require.Equal(t, models.AttemptAutoSubmitted, f.attemptStatus(t, alice.Attempt.ID))
	require.Equal(t, int64(1), f.countResults(t, alice.Attempt.ID))
	require.Zero(t, f.countResults(t, bob.Attempt.ID))
}

func TestMaintenanceOverlappingSweepsSubmitOnce(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)

	after := f.exam.EndAt.Add(time.Minute)
	f.setNow(after)

	reports := make([]SweepReport, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = newTestMaintenance(f).RunOnce(ctx, after)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, 1, reports[0].AutoSubmitted+reports[1].AutoSubmitted)
	require.Zero(t, reports[0].Failed+reports[1].Failed)
	require.Equal(t, models.AttemptAutoSubmitted, f.attemptStatus(t, started.Attempt.ID))
	require.Equal(t, int64(1), f.countResults(t, started.Attempt.ID))
}

func TestMaintenanceStartStop(t *testing.T) {
	f := newExamFixture(t)
	sweeper := newTestMaintenance(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Start(ctx))
	sweeper.Stop()
	sweeper.Stop()
}
