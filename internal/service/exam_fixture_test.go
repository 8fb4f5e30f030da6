package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type examFixture struct {
	db        *gorm.DB
	catalog   repository.CatalogRepository
	attempts  repository.AttemptRepository
	results   repository.ResultRepository
	proctor   repository.ProctorRepository
	grading   GradingService
	lifecycle *attemptService
	exam      models.Exam
	questions []models.Question
	now       time.Time
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Exam{}, &models.ExamSettings{}, &models.Paper{}, &models.PaperItem{}, &models.Question{},
		&models.Attempt{}, &models.AttemptQuestion{}, &models.AttemptAnswer{},
		&models.ExamResult{}, &models.ExamResultItem{},
		&models.ProctorEvent{}, &models.AttemptHeartbeat{}, &models.ActivityLog{},
	))
	return db
}

// newExamFixture seeds a three question paper worth five points and an exam open for an hour either side of now.
// The paper order deliberately differs from question id order.
func newExamFixture(t *testing.T) *examFixture {
	t.Helper()
	db := setupServiceTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	questions := []models.Question{
		{Type: models.QuestionTrueFalse, Stem: "The sky is blue", CorrectAnswer: "true", Score: 1, Enabled: true},
		{Type: models.QuestionSingleChoice, Stem: "Pick B", Options: []string{"A", "B", "C"}, CorrectAnswer: "B", Score: 2, Enabled: true},
		{Type: models.QuestionMultipleChoice, Stem: "Pick A and C", Options: []string{"A", "B", "C", "D"}, CorrectAnswer: "A,C", Score: 2, Enabled: true},
	}
	require.NoError(t, db.Create(&questions).Error)

	paper := models.Paper{
		Name: "Midterm",
		Items: []models.PaperItem{
			{QuestionID: questions[2].ID, OrderIndex: 1},
			{QuestionID: questions[0].ID, OrderIndex: 2},
			{QuestionID: questions[1].ID, OrderIndex: 3},
		},
	}
	require.NoError(t, db.Create(&paper).Error)

	exam := models.Exam{
		Name:    "Midterm sitting",
		PaperID: paper.ID,
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
	}
	require.NoError(t, db.Create(&exam).Error)

	catalog := repository.NewCatalogRepository(db)
	attempts := repository.NewAttemptRepository(db)
	results := repository.NewResultRepository(db)
	grading := NewGradingService(results, catalog, nil, testLogger())

	lifecycle := NewAttemptService(attempts, catalog, grading, testLogger()).(*attemptService)
	lifecycle.now = func() time.Time { return now }

	return &examFixture{
		db:        db,
		catalog:   catalog,
		attempts:  attempts,
		results:   results,
		proctor:   repository.NewProctorRepository(db),
		grading:   grading,
		lifecycle: lifecycle,
		exam:      exam,
		questions: questions,
		now:       now,
	}
}

func (f *examFixture) setNow(now time.Time) {
	f.now = now
	f.lifecycle.now = func() time.Time { return now }
}

func (f *examFixture) setSettings(t *testing.T, settings models.ExamSettings) {
	t.Helper()
	settings.ID = 0
	settings.ExamID = f.exam.ID
	require.NoError(t, f.db.Where("exam_id = ?", f.exam.ID).Delete(&models.ExamSettings{}).Error)
	require.NoError(t, f.db.Create(&settings).Error)
}

func (f *examFixture) createExam(t *testing.T, start, end time.Time) models.Exam {
	t.Helper()
	exam := models.Exam{Name: "Extra sitting", PaperID: f.exam.PaperID, StartAt: start, EndAt: end}
	require.NoError(t, f.db.Create(&exam).Error)
	return exam
}

func (f *examFixture) attemptStatus(t *testing.T, attemptID uint) models.AttemptStatus {
	t.Helper()
	var attempt models.Attempt
	require.NoError(t, f.db.First(&attempt, attemptID).Error)
	return attempt.Status
}

func (f *examFixture) countResults(t *testing.T, attemptID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.ExamResult{}).Where("attempt_id = ?", attemptID).Count(&count).Error)
	return count
}
