package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// AttemptRepository persists attempts and exposes conditional status updates.
// Every status change is a single UPDATE guarded by the expected current status;
// a false result means another caller won the transition.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (models.Attempt, error)
	FindActive(ctx context.Context, examID uint, student string) (models.Attempt, error)
	FindLatest(ctx context.Context, examID uint, student string, statuses ...models.AttemptStatus) (models.Attempt, error)
	Submit(ctx context.Context, id uint, answers []models.AttemptAnswer, submittedAt time.Time) (bool, error)
	Transition(ctx context.Context, id uint, to models.AttemptStatus, submittedAt *time.Time) (bool, error)
	ListInProgress(ctx context.Context) ([]models.Attempt, error)
	ListByExam(ctx context.Context, examID uint) ([]models.Attempt, error)
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository constructs an attempt repository backed by gorm.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.withChildren(ctx).First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

func (r *attemptRepository) FindActive(ctx context.Context, examID uint, student string) (models.Attempt, error) {
	var attempt models.Attempt
	err := r.withChildren(ctx).
		Where("exam_id = ? AND student = ? AND status = ?", examID, student, models.AttemptInProgress).
		Order("id DESC").
		First(&attempt).Error
	if err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

// FindLatest returns the student's attempt with the highest id whose status is one of statuses.
func (r *attemptRepository) FindLatest(ctx context.Context, examID uint, student string, statuses ...models.AttemptStatus) (models.Attempt, error) {
	query := r.db.WithContext(ctx).Where("exam_id = ? AND student = ?", examID, student)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var attempt models.Attempt
	if err := query.Order("id DESC").First(&attempt).Error; err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

// Submit moves an IN_PROGRESS attempt to SUBMITTED and replaces its answer set in one transaction.
func (r *attemptRepository) Submit(ctx context.Context, id uint, answers []models.AttemptAnswer, submittedAt time.Time) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Attempt{}).
			Where("id = ? AND status = ?", id, models.AttemptInProgress).
			Updates(map[string]interface{}{
				"status":       models.AttemptSubmitted,
				"submitted_at": submittedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Where("attempt_id = ?", id).Delete(&models.AttemptAnswer{}).Error; err != nil {
			return err
		}

		if len(answers) > 0 {
			rows := make([]models.AttemptAnswer, 0, len(answers))
			for _, answer := range answers {
				rows = append(rows, models.AttemptAnswer{
					AttemptID:  id,
					QuestionID: answer.QuestionID,
					Answer:     answer.Answer,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Transition applies to only when the current status is a legal source for it.
func (r *attemptRepository) Transition(ctx context.Context, id uint, to models.AttemptStatus, submittedAt *time.Time) (bool, error) {
	sources := models.SourcesFor(to)
	if len(sources) == 0 {
		return false, nil
	}

	result := r.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(map[string]interface{}{
			"status":       to,
			"submitted_at": submittedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *attemptRepository) ListInProgress(ctx context.Context) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AttemptInProgress).
		Order("id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *attemptRepository) ListByExam(ctx context.Context, examID uint) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := r.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *attemptRepository) withChildren(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_id ASC")
		})
}
