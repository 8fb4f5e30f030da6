package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

func newTestProctor(t *testing.T, f *examFixture, client *redis.Client) *proctorService {
	t.Helper()
	svc := NewProctorService(f.proctor, f.attempts, client, time.Minute, testLogger()).(*proctorService)
	svc.now = func() time.Time { return f.now }
	return svc
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestProctorServiceRecordEventValidation(t *testing.T) {
	f := newExamFixture(t)
	svc := newTestProctor(t, f, nil)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	attemptID := started.Attempt.ID

	event, err := svc.RecordEvent(ctx, f.exam.ID, attemptID, "alice", " tab_switch ", json.RawMessage(`{"count": 2, "hidden_ms": 1500}`))
	require.NoError(t, err)
	require.Equal(t, models.ProctorEventTabSwitch, event.Type)
	require.JSONEq(t, `{"count": 2, "hidden_ms": 1500}`, string(event.Payload))

	bare, err := svc.RecordEvent(ctx, f.exam.ID, attemptID, "alice", "FULLSCREEN_EXIT", nil)
	require.NoError(t, err)
	require.Empty(t, bare.Payload)

	cases := []struct {
		name      string
		eventType string
		payload   string
		want      error
	}{
		{name: "teacher type", eventType: "TEACHER_REMIND", payload: `{"message":"hi"}`, want: ErrInvalidEventType},
		{name: "bad characters", eventType: "tab switch", payload: `{}`, want: ErrInvalidEventType},
		{name: "negative count", eventType: "TAB_SWITCH", payload: `{"count": -1}`, want: ErrInvalidPayload},
		{name: "fractional duration", eventType: "FOCUS_LOST", payload: `{"duration_ms": 1.5}`, want: ErrInvalidPayload},
		{name: "array payload", eventType: "COPY_PASTE", payload: `[1, 2]`, want: ErrInvalidPayload},
		{name: "malformed json", eventType: "COPY_PASTE", payload: `{"a":`, want: ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordEvent(ctx, f.exam.ID, attemptID, "alice", tc.eventType, json.RawMessage(tc.payload))
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err = svc.RecordEvent(ctx, f.exam.ID, attemptID, "mallory", "TAB_SWITCH", nil)
	require.ErrorIs(t, err, ErrAttemptForbidden)

	events, err := svc.ListRecentEvents(ctx, f.exam.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, bare.ID, events[0].ID)
}

func TestProctorServiceRecordHeartbeatDefaultsToServerClock(t *testing.T) {
	f := newExamFixture(t)
	svc := newTestProctor(t, f, nil)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)

	heartbeat, err := svc.RecordHeartbeat(ctx, f.exam.ID, started.Attempt.ID, "alice", nil)
	require.NoError(t, err)
	require.True(t, heartbeat.ClientTS.Equal(f.now))

	clientTS := f.now.Add(30 * time.Second)
	heartbeat, err = svc.RecordHeartbeat(ctx, f.exam.ID, started.Attempt.ID, "alice", &clientTS)
	require.NoError(t, err)
	require.True(t, heartbeat.ClientTS.Equal(clientTS))

	latest, err := svc.ListLatestHeartbeats(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.True(t, latest[0].ClientTS.Equal(clientTS))

	_, err = svc.RecordHeartbeat(ctx, f.exam.ID, 9999, "alice", nil)
	require.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestProctorServicePollDeliversOnlyInterventions(t *testing.T) {
	f := newExamFixture(t)
	server, client := newTestRedis(t)
	svc := newTestProctor(t, f, client)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	attempt := started.Attempt
	key := fmt.Sprintf("proctor:poll:%d", attempt.ID)

	empty, err := svc.PollMessages(ctx, f.exam.ID, attempt.ID, "alice", 0)
	require.NoError(t, err)
	require.Empty(t, empty.Messages)
	require.Zero(t, empty.NextEventID)
	primed, err := server.Get(key)
	require.NoError(t, err)
	require.Equal(t, "0", primed)

	_, err = svc.RecordEvent(ctx, f.exam.ID, attempt.ID, "alice", "TAB_SWITCH", nil)
	require.NoError(t, err)

	remind, err := svc.AppendIntervention(ctx, attempt, models.ProctorEventTeacherRemind, map[string]interface{}{"message": "Ten minutes left"})
	require.NoError(t, err)
	raised, err := server.Get(key)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprint(remind.ID), raised)
	require.Greater(t, server.TTL(key), time.Duration(0))

	polled, err := svc.PollMessages(ctx, f.exam.ID, attempt.ID, "alice", 0)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1)
	require.Equal(t, models.ProctorEventTeacherRemind, polled.Messages[0].Type)
	require.Equal(t, "Ten minutes left", polled.Messages[0].Message)
	require.Equal(t, remind.ID, polled.NextEventID)

	idle, err := svc.PollMessages(ctx, f.exam.ID, attempt.ID, "alice", polled.NextEventID)
	require.NoError(t, err)
	require.Empty(t, idle.Messages)
	require.Equal(t, remind.ID, idle.NextEventID)

	_, err = svc.PollMessages(ctx, f.exam.ID, attempt.ID, "bob", 0)
	require.ErrorIs(t, err, ErrAttemptForbidden)

	_, err = svc.AppendIntervention(ctx, attempt, models.ProctorEventTeacherRemind, map[string]interface{}{"message": ""})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestProctorServicePollAnswersIdleRequestsFromCache(t *testing.T) {
	f := newExamFixture(t)
	server, client := newTestRedis(t)
	svc := newTestProctor(t, f, client)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)
	key := fmt.Sprintf("proctor:poll:%d", started.Attempt.ID)
	require.NoError(t, server.Set(key, "0"))

	// Written behind the cache's back, so only a miss can see it.
	hidden := models.ProctorEvent{
		ExamID:    f.exam.ID,
		AttemptID: started.Attempt.ID,
		Username:  "alice",
		Type:      models.ProctorEventTeacherRemind,
		CreatedAt: f.now,
	}
	require.NoError(t, f.proctor.CreateEvent(ctx, &hidden))

	cached, err := svc.PollMessages(ctx, f.exam.ID, started.Attempt.ID, "alice", 0)
	require.NoError(t, err)
	require.Empty(t, cached.Messages)

	server.Del(key)
	fresh, err := svc.PollMessages(ctx, f.exam.ID, started.Attempt.ID, "alice", 0)
	require.NoError(t, err)
	require.Len(t, fresh.Messages, 1)
	require.Equal(t, hidden.ID, fresh.NextEventID)
}

func TestProctorServiceCacheNeverMovesBackwards(t *testing.T) {
	f := newExamFixture(t)
	server, client := newTestRedis(t)
	svc := newTestProctor(t, f, client)
	ctx := context.Background()

	svc.RefreshInterventionCache(ctx, 42, 9)
	svc.RefreshInterventionCache(ctx, 42, 4)

	value, err := server.Get("proctor:poll:42")
	require.NoError(t, err)
	require.Equal(t, "9", value)
}

func TestProctorServiceWithoutRedisFallsBackToDatabase(t *testing.T) {
	f := newExamFixture(t)
	svc := newTestProctor(t, f, nil)
	ctx := context.Background()

	started, err := f.lifecycle.Start(ctx, f.exam.ID, "alice")
	require.NoError(t, err)

	event, err := svc.AppendIntervention(ctx, started.Attempt, models.ProctorEventTeacherForceSubmit, map[string]interface{}{"reason": "teacher"})
	require.NoError(t, err)

	polled, err := svc.PollMessages(ctx, f.exam.ID, started.Attempt.ID, "alice", 0)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1)
	require.Equal(t, event.ID, polled.NextEventID)
	require.Empty(t, polled.Messages[0].Message)
}

func TestInterventionCacheLocalTier(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := newInterventionCache(nil, time.Minute)
	cache.now = func() time.Time { return now }

	_, ok, err := cache.latest(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.raise(ctx, 3, 12))
	require.NoError(t, cache.prime(ctx, 3, 4))
	id, ok, err := cache.latest(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(12), id)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.latest(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)

	// An expired id no longer holds back a lower fresh one.
	require.NoError(t, cache.prime(ctx, 3, 5))
	id, ok, err = cache.latest(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(5), id)
}

func TestInterventionCacheReadsRedisUntilNoticesFollowed(t *testing.T) {
	server, client := newTestRedis(t)
	ctx := context.Background()
	cache := newInterventionCache(client, time.Minute)

	require.NoError(t, cache.raise(ctx, 8, 3))
	require.NoError(t, server.Set("proctor:poll:8", "6"))

	id, ok, err := cache.latest(ctx, 8)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(6), id)

	cache.followNotices(true)
	require.NoError(t, server.Set("proctor:poll:8", "9"))
	id, _, err = cache.latest(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, uint(6), id)

	require.NoError(t, cache.raise(ctx, 8, 11))
	id, _, err = cache.latest(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, uint(11), id)
}
