package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ResultRepository stores graded exam results. Results are write-once.
type ResultRepository interface {
	FindByExamAndAttempt(ctx context.Context, examID, attemptID uint) (models.ExamResult, error)
	CreateIfAbsent(ctx context.Context, result *models.ExamResult) (models.ExamResult, bool, error)
	FindLatestForStudent(ctx context.Context, examID uint, student string) (models.ExamResult, error)
	ListByExam(ctx context.Context, examID uint) ([]models.ExamResult, error)
	ListByStudent(ctx context.Context, student string) ([]models.ExamResult, error)
	CountByExam(ctx context.Context, examID uint) (int64, error)
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository constructs the exam result repository.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) FindByExamAndAttempt(ctx context.Context, examID, attemptID uint) (models.ExamResult, error) {
	var result models.ExamResult
	err := r.withItems(ctx).
		Where("exam_id = ? AND attempt_id = ?", examID, attemptID).
		First(&result).Error
	if err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

// CreateIfAbsent inserts the result unless one already exists for its (exam, attempt) pair,
// in which case the stored row is returned and created is false.
func (r *resultRepository) CreateIfAbsent(ctx context.Context, result *models.ExamResult) (models.ExamResult, bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header := *result
		header.Items = nil

		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exam_id"}, {Name: "attempt_id"}},
			DoNothing: true,
		}).Create(&header)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			return nil
		}

		if len(result.Items) > 0 {
			items := make([]models.ExamResultItem, len(result.Items))
			copy(items, result.Items)
			for i := range items {
				items[i].ResultID = header.ID
			}
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		created = true
		return nil
	})
	if err != nil {
		return models.ExamResult{}, false, err
	}

	stored, err := r.FindByExamAndAttempt(ctx, result.ExamID, result.AttemptID)
	if err != nil {
		return models.ExamResult{}, false, err
	}
	return stored, created, nil
}

func (r *resultRepository) FindLatestForStudent(ctx context.Context, examID uint, student string) (models.ExamResult, error) {
	var result models.ExamResult
	err := r.withItems(ctx).
		Where("exam_id = ? AND student = ?", examID, student).
		Order("id DESC").
		First(&result).Error
	if err != nil {
		return models.ExamResult{}, err
	}
	return result, nil
}

func (r *resultRepository) ListByExam(ctx context.Context, examID uint) ([]models.ExamResult, error) {
	var results []models.ExamResult
	if err := r.db.WithContext(ctx).Where("exam_id = ?", examID).Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *resultRepository) ListByStudent(ctx context.Context, student string) ([]models.ExamResult, error) {
	var results []models.ExamResult
	if err := r.db.WithContext(ctx).Where("student = ?", student).Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *resultRepository) CountByExam(ctx context.Context, examID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ExamResult{}).Where("exam_id = ?", examID).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *resultRepository) withItems(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("order_index ASC")
	})
}
