package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

func TestMonitorServiceSummary(t *testing.T) {
	f := newExamFixture(t)
	proctor := newTestProctor(t, f, nil)
	ctx := context.Background()

	alice, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	bob, err := f.lifecycle.Start(ctx, f.exam.ID, "bob")
	require.NoError(t, err)
	carol, err := f.lifecycle.Start(ctx, f.exam.ID, "carol")
	require.NoError(t, err)

	_, err = f.lifecycle.Submit(ctx, f.exam.ID, bob.Attempt.ID, "bob", correctAnswers(f))
	require.NoError(t, err)
	_, _, err = f.lifecycle.AutoSubmit(ctx, carol.Attempt.ID, models.AutoSubmitTeacher)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = proctor.RecordEvent(ctx, f.exam.ID, alice.Attempt.ID, "alice", models.ProctorEventTabSwitch, nil)
		require.NoError(t, err)
	}
	_, err = proctor.RecordEvent(ctx, f.exam.ID, alice.Attempt.ID, "alice", models.ProctorEventFocusLost, nil)
	require.NoError(t, err)
	_, err = proctor.RecordHeartbeat(ctx, f.exam.ID, alice.Attempt.ID, "alice", nil)
	require.NoError(t, err)

	svc := NewMonitorService(f.catalog, f.attempts, f.results, proctor, f.proctor, testLogger()).(*monitorService)
	svc.now = func() time.Time { return f.now }

	summary, err := svc.Summary(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Equal(t, f.exam.Name, summary.ExamName)
	require.Equal(t, models.ExamInProgress, summary.Status)
	require.Equal(t, 3, summary.Counts.Started)
	require.Equal(t, 1, summary.Counts.InProgress)
	require.Equal(t, 2, summary.Counts.Submitted)
	require.Equal(t, int64(2), summary.Counts.Results)
	require.Equal(t, []string{"alice"}, summary.InProgress)
	require.Equal(t, []string{"bob", "carol"}, summary.Submitted)
	require.Len(t, summary.RecentEvents, 3)
	require.Equal(t, models.ProctorEventFocusLost, summary.RecentEvents[0].Type)
	require.Len(t, summary.LatestHeartbeats, 1)
	require.Equal(t, map[string]int64{"alice": 2}, summary.TabSwitchCounts)

	_, err = svc.Summary(ctx, 9999)
	require.ErrorIs(t, err, ErrExamNotFound)
}
