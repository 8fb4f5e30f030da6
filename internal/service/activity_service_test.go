package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
	filters []repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.filters = append(m.filters, filter)
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSensitiveMetadata(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    1,
		ActorRole:  "Teacher",
		Action:     " Proctor.Remind ",
		EntityType: "Attempt",
		EntityID:   ptrUint(5),
		Metadata: map[string]interface{}{
			"student_email": "student@example.com",
			"message":       "five minutes left",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["student_email"])
	require.Equal(t, "five minutes left", entry.Metadata["message"])
	require.Equal(t, ActivityActionRemind, entry.Action)
	require.Equal(t, ActivityEntityAttempt, entry.EntityType)
	require.Equal(t, "teacher", entry.ActorRole)

	_, err = svc.Record(context.Background(), ActivityEntry{EntityType: "attempt"})
	require.Error(t, err)
}

func TestActivityServiceListFiltersByAttempt(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	_, err := svc.Record(context.Background(), ActivityEntry{ActorID: 2, Action: ActivityActionReopen, EntityType: ActivityEntityAttempt, EntityID: ptrUint(9)})
	require.NoError(t, err)

	list, err := svc.List(context.Background(), dto.ActivityListRequest{Page: 1, PageSize: 10, AttemptID: 9})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, "system", list.Items[0].ActorRole)
	require.Equal(t, 1, list.Pagination.TotalPages)

	require.Len(t, repo.filters, 1)
	require.Equal(t, ActivityEntityAttempt, repo.filters[0].EntityType)
	require.Equal(t, uint(9), *repo.filters[0].EntityID)
}

func ptrUint(v uint) *uint {
	return &v
}
