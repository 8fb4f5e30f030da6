package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// InterventionService carries out teacher commands against a student's attempt.
type InterventionService interface {
	Remind(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherRemindRequest) (dto.InterventionResponse, error)
	ForceSubmit(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherCommandRequest) (dto.InterventionResponse, error)
	Reopen(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherCommandRequest) (dto.InterventionResponse, error)
	Start(ctx context.Context)
}

// InterventionBus describes where intervention notices are fanned out to other instances.
type InterventionBus struct {
	Redis       *redis.Client
	NATS        *nats.Conn
	ChannelBase string
}

type interventionService struct {
	catalog      repository.CatalogRepository
	attempts     repository.AttemptRepository
	lifecycle    AttemptService
	proctor      ProctorService
	activity     ActivityRecorder
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	nodeID       string
	now          func() time.Time
}

type interventionNotice struct {
	Source    string    `json:"source"`
	ExamID    uint      `json:"exam_id"`
	AttemptID uint      `json:"attempt_id"`
	EventID   uint      `json:"event_id"`
	Type      string    `json:"type"`
	SentAt    time.Time `json:"sent_at"`
}

// NewInterventionService constructs the teacher command service. activity may be nil to skip auditing.
func NewInterventionService(
	catalog repository.CatalogRepository,
	attempts repository.AttemptRepository,
	lifecycle AttemptService,
	proctor ProctorService,
	activity ActivityRecorder,
	bus InterventionBus,
	validate *validator.Validate,
	logger zerolog.Logger,
) InterventionService {
	channel := ""
	subject := ""
	if bus.ChannelBase != "" {
		channel = bus.ChannelBase + ":interventions"
		subject = strings.ReplaceAll(bus.ChannelBase, ":", ".") + ".interventions"
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &interventionService{
		catalog:      catalog,
		attempts:     attempts,
		lifecycle:    lifecycle,
		proctor:      proctor,
		activity:     activity,
		redis:        bus.Redis,
		redisChannel: channel,
		nats:         bus.NATS,
		natsSubject:  subject,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "intervention_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/intervention"),
		nodeID:       uuid.NewString(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start subscribes to notices from other instances. Notices raise this node's poll cache.
func (s *interventionService) Start(ctx context.Context) {
	if s.nats != nil && s.natsSubject != "" {
		if s.consumeNATS(ctx) {
			s.proctor.FollowInterventionNotices(true)
		}
		return
	}
	if s.redis != nil && s.redisChannel != "" {
		pubsub := s.redis.Subscribe(ctx, s.redisChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to subscribe to redis interventions channel")
			_ = pubsub.Close()
			return
		}
		s.proctor.FollowInterventionNotices(true)
		go s.consumeRedis(ctx, pubsub)
	}
}

// Remind delivers a message to the student's latest in-progress attempt through the poll channel.
// Markup is stripped; an empty message is delivered as a bare reminder.
func (s *interventionService) Remind(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherRemindRequest) (dto.InterventionResponse, error) {
	ctx, span := s.startSpan(ctx, "interventions.remind", examID, req.Username)
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.InterventionResponse{}, s.fail(span, "remind", err)
	}
	message := strings.TrimSpace(s.sanitizer.Sanitize(req.Message))

	if _, err := s.loadExam(ctx, examID); err != nil {
		return dto.InterventionResponse{}, s.fail(span, "remind", err)
	}
	attempt, err := s.latestAttempt(ctx, examID, req.Username, ErrNoInProgressAttempt, models.AttemptInProgress)
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "remind", err)
	}

	event, err := s.proctor.AppendIntervention(ctx, attempt, models.ProctorEventTeacherRemind, map[string]interface{}{
		"message": message,
		"from":    actor.Username,
	})
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "remind", err)
	}

	s.announce(ctx, event)
	s.audit(ctx, actor, ActivityActionRemind, attempt, map[string]interface{}{
		"exam_id":  examID,
		"event_id": event.ID,
		"message":  message,
	})
	observability.Interventions().WithLabelValues("remind", "applied").Inc()

	return dto.InterventionResponse{
		AttemptID: attempt.ID,
		Username:  attempt.Student,
		Status:    attempt.Status,
		EventID:   event.ID,
		Applied:   true,
	}, nil
}

// ForceSubmit auto-submits the student's latest in-progress attempt on the teacher's behalf.
func (s *interventionService) ForceSubmit(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherCommandRequest) (dto.InterventionResponse, error) {
	ctx, span := s.startSpan(ctx, "interventions.force_submit", examID, req.Username)
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.InterventionResponse{}, s.fail(span, "force_submit", err)
	}
	if _, err := s.loadExam(ctx, examID); err != nil {
		return dto.InterventionResponse{}, s.fail(span, "force_submit", err)
	}
	attempt, err := s.latestAttempt(ctx, examID, req.Username, ErrNoInProgressAttempt, models.AttemptInProgress)
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "force_submit", err)
	}

	submitted, applied, err := s.lifecycle.AutoSubmit(ctx, attempt.ID, models.AutoSubmitTeacher)
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "force_submit", err)
	}
	if !applied {
		observability.Interventions().WithLabelValues("force_submit", "lost_race").Inc()
		span.SetStatus(codes.Error, ErrCannotForceSubmit.Error())
		return dto.InterventionResponse{}, ErrCannotForceSubmit
	}

	event, err := s.proctor.AppendIntervention(ctx, submitted, models.ProctorEventTeacherForceSubmit, map[string]interface{}{
		"reason": "teacher",
		"by":     actor.Username,
	})
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "force_submit", err)
	}

	s.announce(ctx, event)
	s.audit(ctx, actor, ActivityActionForceSubmit, submitted, map[string]interface{}{
		"exam_id":  examID,
		"event_id": event.ID,
	})
	observability.Interventions().WithLabelValues("force_submit", "applied").Inc()

	return dto.InterventionResponse{
		AttemptID:   submitted.ID,
		Username:    submitted.Student,
		Status:      submitted.Status,
		EventID:     event.ID,
		SubmittedAt: submitted.SubmittedAt,
		Applied:     true,
	}, nil
}

// Reopen returns the student's latest finished attempt to IN_PROGRESS while the exam window is open.
func (s *interventionService) Reopen(ctx context.Context, actor ActivityActor, examID uint, req dto.TeacherCommandRequest) (dto.InterventionResponse, error) {
	ctx, span := s.startSpan(ctx, "interventions.reopen", examID, req.Username)
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.InterventionResponse{}, s.fail(span, "reopen", err)
	}
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "reopen", err)
	}
	if !exam.IsOpen(s.now()) {
		return dto.InterventionResponse{}, s.fail(span, "reopen", ErrExamNotInProgress)
	}

	attempt, err := s.latestAttempt(ctx, examID, req.Username, ErrNoSubmittedAttempt, models.AttemptSubmitted, models.AttemptAutoSubmitted)
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "reopen", err)
	}

	reopened, err := s.lifecycle.Reopen(ctx, attempt.ID)
	if errors.Is(err, ErrAttemptNotSubmitted) {
		err = ErrCannotReopen
	}
	if err != nil {
		return dto.InterventionResponse{}, s.fail(span, "reopen", err)
	}

	event, err := s.proctor.AppendIntervention(ctx, reopened, models.ProctorEventTeacherReopen, map[string]interface{}{
		"previous_status": string(attempt.Status),
		"by":              actor.Username,
	})
	if err != nil {
		// The attempt is already reopened; the event only feeds the monitor history.
		s.logger.Warn().Err(err).Uint("attempt_id", reopened.ID).Msg("failed to record reopen event")
	}

	s.audit(ctx, actor, ActivityActionReopen, reopened, map[string]interface{}{
		"exam_id":         examID,
		"previous_status": string(attempt.Status),
	})
	observability.Interventions().WithLabelValues("reopen", "applied").Inc()

	return dto.InterventionResponse{
		AttemptID: reopened.ID,
		Username:  reopened.Student,
		Status:    reopened.Status,
		EventID:   event.ID,
		Applied:   true,
	}, nil
}

func (s *interventionService) startSpan(ctx context.Context, name string, examID uint, username string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("exam.id", int64(examID)),
		attribute.String("attempt.student", username),
	))
}

func (s *interventionService) fail(span trace.Span, command string, err error) error {
	outcome := "error"
	if errors.Is(err, ErrNoEligibleAttempt) {
		outcome = "no_attempt"
	}
	observability.Interventions().WithLabelValues(command, outcome).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *interventionService) loadExam(ctx context.Context, examID uint) (models.Exam, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Exam{}, ErrExamNotFound
	}
	return exam, err
}

func (s *interventionService) latestAttempt(ctx context.Context, examID uint, username string, missing error, statuses ...models.AttemptStatus) (models.Attempt, error) {
	attempt, err := s.attempts.FindLatest(ctx, examID, strings.TrimSpace(username), statuses...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Attempt{}, missing
	}
	return attempt, err
}

func (s *interventionService) audit(ctx context.Context, actor ActivityActor, action string, attempt models.Attempt, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	attemptID := attempt.ID
	metadata["student"] = attempt.Student
	_, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: ActivityEntityAttempt,
		EntityID:   &attemptID,
		Metadata:   metadata,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Uint("attempt_id", attemptID).Msg("failed to record intervention audit entry")
	}
}

func (s *interventionService) announce(ctx context.Context, event models.ProctorEvent) {
	notice := interventionNotice{
		Source:    s.nodeID,
		ExamID:    event.ExamID,
		AttemptID: event.AttemptID,
		EventID:   event.ID,
		Type:      event.Type,
		SentAt:    s.now(),
	}
	if err := s.publish(ctx, notice); err != nil {
		s.logger.Warn().Err(err).Uint("event_id", event.ID).Msg("failed to publish intervention notice")
	}
}

func (s *interventionService) publish(ctx context.Context, notice interventionNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	var errs []error
	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}
	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *interventionService) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.proctor.FollowInterventionNotices(false)
			s.logger.Error().Err(err).Msg("intervention redis subscription closed")
			return
		}
		s.handleNotice(ctx, []byte(msg.Payload))
	}
}

func (s *interventionService) consumeNATS(ctx context.Context) bool {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleNotice(ctx, msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats interventions subject")
		return false
	}
	if err := s.nats.Flush(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to flush nats interventions subscription")
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain intervention nats subscription")
		}
	}()
	return true
}

// handleNotice raises the poll cache for interventions written by other instances.
func (s *interventionService) handleNotice(ctx context.Context, payload []byte) {
	var notice interventionNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		s.logger.Warn().Err(err).Msg("invalid intervention notice payload")
		return
	}
	if notice.Source == s.nodeID || notice.AttemptID == 0 || notice.EventID == 0 {
		return
	}
	s.proctor.RefreshInterventionCache(ctx, notice.AttemptID, notice.EventID)
}
