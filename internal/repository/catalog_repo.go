package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// CatalogRepository reads exams, papers and questions owned by the catalog.
type CatalogRepository interface {
	GetExam(ctx context.Context, id uint) (models.Exam, error)
	GetSettings(ctx context.Context, examID uint) (models.ExamSettings, error)
	GetPaper(ctx context.Context, id uint) (models.Paper, error)
	GetQuestion(ctx context.Context, id uint) (models.Question, error)
	GetQuestions(ctx context.Context, ids []uint) (map[uint]models.Question, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository constructs a read-only catalog repository.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetExam(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := r.db.WithContext(ctx).First(&exam, id).Error; err != nil {
		return models.Exam{}, err
	}
	return exam, nil
}

// GetSettings falls back to the default policy when the exam has no settings row.
func (r *catalogRepository) GetSettings(ctx context.Context, examID uint) (models.ExamSettings, error) {
	var settings models.ExamSettings
	err := r.db.WithContext(ctx).Where("exam_id = ?", examID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultExamSettings(examID), nil
	}
	if err != nil {
		return models.ExamSettings{}, err
	}
	return settings, nil
}

func (r *catalogRepository) GetPaper(ctx context.Context, id uint) (models.Paper, error) {
	var paper models.Paper
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC").Order("id ASC")
		}).
		First(&paper, id).Error
	if err != nil {
		return models.Paper{}, err
	}
	return paper, nil
}

func (r *catalogRepository) GetQuestion(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

func (r *catalogRepository) GetQuestions(ctx context.Context, ids []uint) (map[uint]models.Question, error) {
	result := make(map[uint]models.Question, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var questions []models.Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	for _, question := range questions {
		result[question.ID] = question
	}
	return result, nil
}
