package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// StudentExamHandler exposes the attempt lifecycle and proctoring endpoints to students.
type StudentExamHandler struct {
	attempts  service.AttemptService
	proctor   service.ProctorService
	results   service.ResultViewService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewStudentExamHandler constructs the handler.
func NewStudentExamHandler(attempts service.AttemptService, proctor service.ProctorService, results service.ResultViewService, validate *validator.Validate, logger zerolog.Logger) *StudentExamHandler {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &StudentExamHandler{
		attempts:  attempts,
		proctor:   proctor,
		results:   results,
		validator: validate,
		logger:    logger.With().Str("component", "student_exam_handler").Logger(),
	}
}

// Register attaches student exam routes. telemetry guards the high frequency
// heartbeat and event endpoints and may be nil.
func (h *StudentExamHandler) Register(router fiber.Router, telemetry fiber.Handler) {
	if telemetry == nil {
		telemetry = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Post("/:examId/start", h.start)
	router.Post("/:examId/submit", h.submit)
	router.Post("/:examId/heartbeat", telemetry, h.heartbeat)
	router.Post("/:examId/events", telemetry, h.recordEvent)
	router.Get("/:examId/proctor/messages", h.pollMessages)
	router.Get("/:examId/result", h.result)
}

func (h *StudentExamHandler) start(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	started, err := h.attempts.Start(withRequestContext(c), examID, usernameFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "start attempt")
	}

	response := dto.NewStartedAttemptResponse(started.Attempt, started.Deadline, started.Resumed)
	if started.Resumed {
		return utils.SendSuccess(c, "attempt resumed", response)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attempt started", response)
}

func (h *StudentExamHandler) submit(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.SubmitAttemptRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "submit attempt")
	}

	attempt, err := h.attempts.Submit(withRequestContext(c), examID, payload.AttemptID, usernameFromContext(c), payload.Answers)
	if err != nil {
		return respondError(c, h.logger, err, "submit attempt")
	}

	return utils.SendSuccess(c, "attempt submitted", dto.NewAttemptResponse(attempt))
}

func (h *StudentExamHandler) heartbeat(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.HeartbeatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "record heartbeat")
	}

	heartbeat, err := h.proctor.RecordHeartbeat(withRequestContext(c), examID, payload.AttemptID, usernameFromContext(c), payload.TS)
	if err != nil {
		return respondError(c, h.logger, err, "record heartbeat")
	}

	return utils.SendSuccess(c, "heartbeat recorded", heartbeat)
}

func (h *StudentExamHandler) recordEvent(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.ProctorEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "record proctor event")
	}

	event, err := h.proctor.RecordEvent(withRequestContext(c), examID, payload.AttemptID, usernameFromContext(c), payload.Type, payload.Payload)
	if err != nil {
		return respondError(c, h.logger, err, "record proctor event")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "event recorded", event)
}

func (h *StudentExamHandler) pollMessages(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var query dto.PollMessagesQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	if err := h.validator.Struct(query); err != nil {
		return respondError(c, h.logger, err, "poll proctor messages")
	}

	messages, err := h.proctor.PollMessages(withRequestContext(c), examID, query.AttemptID, usernameFromContext(c), query.AfterEventID)
	if err != nil {
		return respondError(c, h.logger, err, "poll proctor messages")
	}

	return utils.SendSuccess(c, "proctor messages", messages)
}

func (h *StudentExamHandler) result(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	view, err := h.results.ForStudent(withRequestContext(c), examID, usernameFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "load result")
	}

	return utils.SendSuccess(c, "exam result", view)
}
