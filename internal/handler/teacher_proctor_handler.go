package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// TeacherProctorHandler exposes the live monitor and teacher interventions.
type TeacherProctorHandler struct {
	interventions service.InterventionService
	monitor       service.MonitorService
	logger        zerolog.Logger
}

// NewTeacherProctorHandler constructs the handler.
func NewTeacherProctorHandler(interventions service.InterventionService, monitor service.MonitorService, logger zerolog.Logger) *TeacherProctorHandler {
	return &TeacherProctorHandler{
		interventions: interventions,
		monitor:       monitor,
		logger:        logger.With().Str("component", "teacher_proctor_handler").Logger(),
	}
}

// Register attaches teacher exam routes to the router group.
func (h *TeacherProctorHandler) Register(router fiber.Router) {
	router.Get("/:examId/monitor", h.summary)
	router.Post("/:examId/proctor/remind", h.remind)
	router.Post("/:examId/proctor/force-submit", h.forceSubmit)
	router.Post("/:examId/proctor/reopen", h.reopen)
}

func (h *TeacherProctorHandler) summary(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	summary, err := h.monitor.Summary(withRequestContext(c), examID)
	if err != nil {
		return respondError(c, h.logger, err, "load exam monitor")
	}

	return utils.SendSuccess(c, "exam monitor", summary)
}

func (h *TeacherProctorHandler) remind(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.TeacherRemindRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.interventions.Remind(withRequestContext(c), activityActorFromContext(c), examID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "send reminder")
	}

	return utils.SendSuccess(c, "reminder sent", response)
}

func (h *TeacherProctorHandler) forceSubmit(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.TeacherCommandRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.interventions.ForceSubmit(withRequestContext(c), activityActorFromContext(c), examID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "force submit attempt")
	}

	return utils.SendSuccess(c, "attempt force submitted", response)
}

func (h *TeacherProctorHandler) reopen(c *fiber.Ctx) error {
	examID, err := parseUintParam(c, "examId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid exam id")
	}

	var payload dto.TeacherCommandRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.interventions.Reopen(withRequestContext(c), activityActorFromContext(c), examID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "reopen attempt")
	}

	return utils.SendSuccess(c, "attempt reopened", response)
}
