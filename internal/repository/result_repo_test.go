package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

func sampleResult(examID, attemptID uint, total int) models.ExamResult {
	return models.ExamResult{
		ExamID:     examID,
		AttemptID:  attemptID,
		Student:    "alice",
		TotalScore: total,
		MaxScore:   5,
		Items: []models.ExamResultItem{
			{QuestionID: 7, Type: models.QuestionSingleChoice, Answer: "B", CorrectAnswer: "B", MaxScore: 5, EarnedScore: total, Correct: total == 5},
		},
	}
}

func TestResultRepositoryCreateIfAbsentKeepsFirstRow(t *testing.T) {
	db := setupExamTestDB(t)
	repo := NewResultRepository(db)

	first := sampleResult(1, 9, 5)
	stored, created, err := repo.CreateIfAbsent(context.Background(), &first)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 5, stored.TotalScore)
	require.Len(t, stored.Items, 1)

	second := sampleResult(1, 9, 0)
	stored, created, err = repo.CreateIfAbsent(context.Background(), &second)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 5, stored.TotalScore)
	require.Len(t, stored.Items, 1)

	count, err := repo.CountByExam(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var items int64
	require.NoError(t, db.Model(&models.ExamResultItem{}).Count(&items).Error)
	require.Equal(t, int64(1), items)
}

func TestResultRepositoryConcurrentCreateYieldsOneRow(t *testing.T) {
	db := setupExamTestDB(t)
	repo := NewResultRepository(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	ids := make(map[uint]struct{})
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := sampleResult(3, 4, 5)
			stored, created, err := repo.CreateIfAbsent(context.Background(), &result)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[stored.ID] = struct{}{}
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, createdCount)
	require.Len(t, ids, 1)

	results, err := repo.ListByExam(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	latest, err := repo.FindLatestForStudent(context.Background(), 3, "alice")
	require.NoError(t, err)
	require.Equal(t, results[0].ID, latest.ID)

	byStudent, err := repo.ListByStudent(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
}
