package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const (
	defaultRecentEventLimit = 50
	maxRecentEventLimit     = 200
)

var eventTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

const genericPayloadSchema = `{"type": ["object", "null"]}`

var payloadSchemas = map[string]string{
	models.ProctorEventTabSwitch: `{
		"type": ["object", "null"],
		"properties": {
			"count": {"type": "integer", "minimum": 0},
			"hidden_ms": {"type": "integer", "minimum": 0}
		}
	}`,
	models.ProctorEventFocusLost: `{
		"type": ["object", "null"],
		"properties": {"duration_ms": {"type": "integer", "minimum": 0}}
	}`,
	models.ProctorEventTeacherRemind: `{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string", "maxLength": 500}}
	}`,
	models.ProctorEventTeacherForceSubmit: `{
		"type": "object",
		"properties": {"reason": {"type": "string"}}
	}`,
}

// ProctorService records proctoring observations and serves the poll channel for interventions.
type ProctorService interface {
	RecordEvent(ctx context.Context, examID, attemptID uint, student, eventType string, payload json.RawMessage) (dto.ProctorEventResponse, error)
	RecordHeartbeat(ctx context.Context, examID, attemptID uint, student string, clientTS *time.Time) (dto.HeartbeatResponse, error)
	ListRecentEvents(ctx context.Context, examID uint, limit int) ([]dto.ProctorEventResponse, error)
	ListLatestHeartbeats(ctx context.Context, examID uint) ([]dto.HeartbeatResponse, error)
	PollMessages(ctx context.Context, examID, attemptID uint, student string, afterEventID uint) (dto.PollMessagesResponse, error)
	AppendIntervention(ctx context.Context, attempt models.Attempt, eventType string, payload map[string]interface{}) (models.ProctorEvent, error)
	RefreshInterventionCache(ctx context.Context, attemptID, eventID uint)
	FollowInterventionNotices(enabled bool)
}

type proctorService struct {
	repo     repository.ProctorRepository
	attempts repository.AttemptRepository
	cache    *interventionCache
	schemas  map[string]*jsonschema.Schema
	generic  *jsonschema.Schema
	logger   zerolog.Logger
	now      func() time.Time
}

// NewProctorService constructs the proctor service. With a nil redisClient the poll cache stays node-local.
func NewProctorService(repo repository.ProctorRepository, attempts repository.AttemptRepository, redisClient *redis.Client, pollCacheTTL time.Duration, logger zerolog.Logger) ProctorService {
	schemas := make(map[string]*jsonschema.Schema, len(payloadSchemas))
	for eventType, source := range payloadSchemas {
		schemas[eventType] = jsonschema.MustCompileString(strings.ToLower(eventType)+".json", source)
	}

	return &proctorService{
		repo:     repo,
		attempts: attempts,
		cache:    newInterventionCache(redisClient, pollCacheTTL),
		schemas:  schemas,
		generic:  jsonschema.MustCompileString("generic.json", genericPayloadSchema),
		logger:   logger.With().Str("component", "proctor_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordEvent appends a student-originated event. Teacher event types cannot be recorded by students.
func (s *proctorService) RecordEvent(ctx context.Context, examID, attemptID uint, student, eventType string, payload json.RawMessage) (dto.ProctorEventResponse, error) {
	attempt, err := authorizeAttempt(ctx, s.attempts, examID, attemptID, student)
	if err != nil {
		return dto.ProctorEventResponse{}, err
	}

	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	if !eventTypePattern.MatchString(eventType) || strings.HasPrefix(eventType, "TEACHER_") {
		return dto.ProctorEventResponse{}, ErrInvalidEventType
	}

	normalized, err := s.validatePayload(eventType, payload)
	if err != nil {
		return dto.ProctorEventResponse{}, err
	}

	event := models.ProctorEvent{
		ExamID:    examID,
		AttemptID: attempt.ID,
		Username:  student,
		Type:      eventType,
		Payload:   normalized,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateEvent(ctx, &event); err != nil {
		return dto.ProctorEventResponse{}, err
	}

	observability.ProctorEvents().WithLabelValues(eventType).Inc()
	return dto.NewProctorEventResponse(event), nil
}

// RecordHeartbeat stores a liveness ping; a missing client timestamp defaults to the server clock.
func (s *proctorService) RecordHeartbeat(ctx context.Context, examID, attemptID uint, student string, clientTS *time.Time) (dto.HeartbeatResponse, error) {
	attempt, err := authorizeAttempt(ctx, s.attempts, examID, attemptID, student)
	if err != nil {
		return dto.HeartbeatResponse{}, err
	}

	now := s.now()
	ts := now
	if clientTS != nil && !clientTS.IsZero() {
		ts = clientTS.UTC()
	}

	heartbeat := models.AttemptHeartbeat{
		AttemptID: attempt.ID,
		Username:  student,
		ClientTS:  ts,
		CreatedAt: now,
	}
	if err := s.repo.CreateHeartbeat(ctx, &heartbeat); err != nil {
		return dto.HeartbeatResponse{}, err
	}
	return dto.NewHeartbeatResponse(heartbeat), nil
}

// ListRecentEvents returns the newest events first. Non-positive limits use the default; large ones are capped.
func (s *proctorService) ListRecentEvents(ctx context.Context, examID uint, limit int) ([]dto.ProctorEventResponse, error) {
	if limit <= 0 {
		limit = defaultRecentEventLimit
	}
	if limit > maxRecentEventLimit {
		limit = maxRecentEventLimit
	}

	events, err := s.repo.ListRecentEvents(ctx, examID, limit)
	if err != nil {
		return nil, err
	}
	return dto.NewProctorEventResponseSlice(events), nil
}

func (s *proctorService) ListLatestHeartbeats(ctx context.Context, examID uint) ([]dto.HeartbeatResponse, error) {
	heartbeats, err := s.repo.ListLatestHeartbeats(ctx, examID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.HeartbeatResponse, 0, len(heartbeats))
	for _, heartbeat := range heartbeats {
		out = append(out, dto.NewHeartbeatResponse(heartbeat))
	}
	return out, nil
}

// PollMessages returns teacher interventions for the attempt newer than the cursor, oldest first.
func (s *proctorService) PollMessages(ctx context.Context, examID, attemptID uint, student string, afterEventID uint) (dto.PollMessagesResponse, error) {
	attempt, err := authorizeAttempt(ctx, s.attempts, examID, attemptID, student)
	if err != nil {
		return dto.PollMessagesResponse{}, err
	}

	response := dto.PollMessagesResponse{Messages: []dto.ProctorMessageResponse{}, NextEventID: afterEventID}

	latest, hit, err := s.cache.latest(ctx, attempt.ID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("attempt_id", attempt.ID).Msg("poll cache lookup failed")
	}
	if hit {
		observability.PollCache().WithLabelValues("hit").Inc()
		if latest <= afterEventID {
			return response, nil
		}
	} else {
		observability.PollCache().WithLabelValues("miss").Inc()
		latest, err = s.repo.LatestAttemptEventID(ctx, attempt.ID, models.InterventionEventTypes)
		if err != nil {
			return dto.PollMessagesResponse{}, err
		}
		if err := s.cache.prime(ctx, attempt.ID, latest); err != nil {
			s.logger.Warn().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to prime poll cache")
		}
		if latest <= afterEventID {
			return response, nil
		}
	}

	events, err := s.repo.ListAttemptEventsAfter(ctx, attempt.ID, models.InterventionEventTypes, afterEventID)
	if err != nil {
		return dto.PollMessagesResponse{}, err
	}

	for _, event := range events {
		response.Messages = append(response.Messages, newProctorMessage(event))
		response.NextEventID = event.ID
	}
	return response, nil
}

// AppendIntervention records a teacher-originated event against the attempt. Poll-visible types also raise the poll cache.
func (s *proctorService) AppendIntervention(ctx context.Context, attempt models.Attempt, eventType string, payload map[string]interface{}) (models.ProctorEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.ProctorEvent{}, err
	}
	normalized, err := s.validatePayload(eventType, raw)
	if err != nil {
		return models.ProctorEvent{}, err
	}

	event := models.ProctorEvent{
		ExamID:    attempt.ExamID,
		AttemptID: attempt.ID,
		Username:  attempt.Student,
		Type:      eventType,
		Payload:   normalized,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateEvent(ctx, &event); err != nil {
		return models.ProctorEvent{}, err
	}

	observability.ProctorEvents().WithLabelValues(eventType).Inc()
	if models.IsInterventionEvent(eventType) {
		s.RefreshInterventionCache(ctx, attempt.ID, event.ID)
	}
	return event, nil
}

func (s *proctorService) RefreshInterventionCache(ctx context.Context, attemptID, eventID uint) {
	if err := s.cache.raise(ctx, attemptID, eventID); err != nil {
		s.logger.Warn().Err(err).Uint("attempt_id", attemptID).Msg("failed to refresh poll cache")
	}
}

// FollowInterventionNotices lets polls trust the node-local cache while remote notices feed it.
func (s *proctorService) FollowInterventionNotices(enabled bool) {
	s.cache.followNotices(enabled)
}

func (s *proctorService) validatePayload(eventType string, payload json.RawMessage) (datatypes.JSON, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}

	var decoded interface{}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	schema, ok := s.schemas[eventType]
	if !ok {
		schema = s.generic
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if decoded == nil {
		return nil, nil
	}
	return datatypes.JSON(trimmed), nil
}

func newProctorMessage(event models.ProctorEvent) dto.ProctorMessageResponse {
	message := dto.ProctorMessageResponse{
		ID:        event.ID,
		Type:      event.Type,
		CreatedAt: event.CreatedAt,
	}
	if len(event.Payload) > 0 {
		message.Payload = json.RawMessage(event.Payload)
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(event.Payload, &body); err == nil {
			message.Message = body.Message
		}
	}
	return message
}
