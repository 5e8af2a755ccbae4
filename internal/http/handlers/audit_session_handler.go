package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/export"
	"github.com/retail-backoffice/inventory-audit/internal/http/dto"
	"github.com/retail-backoffice/inventory-audit/internal/middleware"
	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"github.com/retail-backoffice/inventory-audit/internal/services"
	"go.uber.org/zap"
)

type AuditSessionHandler struct {
	sessions *services.AuditSessionService
	enricher *services.Enricher
	log      *zap.Logger
}

func NewAuditSessionHandler(sessions *services.AuditSessionService, enricher *services.Enricher, log *zap.Logger) *AuditSessionHandler {
	return &AuditSessionHandler{sessions: sessions, enricher: enricher, log: log}
}

func (h *AuditSessionHandler) ListSessions(c *fiber.Ctx) error {
	filter := repositories.SessionFilter{
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", repositories.DefaultPageLimit),
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("type"); v != "" {
		filter.Type = &v
	}
	if v := c.Query("store_id"); v != "" {
		filter.StoreID = &v
	}
	if v := c.Query("search"); v != "" {
		filter.Search = &v
	}

	tenantID := middleware.GetTenantID(c)
	page, err := h.sessions.ListSessions(c.UserContext(), tenantID, filter)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.ListResponse{
		OK:         true,
		Data:       h.enricher.Views(c.UserContext(), tenantID, page.Records),
		Pagination: page.Pagination,
	})
}

func (h *AuditSessionHandler) GetSession(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	tenantID := middleware.GetTenantID(c)
	session, err := h.sessions.GetSession(c.UserContext(), tenantID, id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func (h *AuditSessionHandler) CreateSession(c *fiber.Ctx) error {
	var req dto.CreateAuditSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if fields := dto.Validate(req); fields != nil {
		return validationFailed(c, fields)
	}

	tenantID := middleware.GetTenantID(c)
	session, err := h.sessions.CreateSession(c.UserContext(), tenantID, req.ToModel(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func (h *AuditSessionHandler) UpdateSession(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	var req dto.UpdateAuditSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if fields := dto.Validate(req); fields != nil {
		return validationFailed(c, fields)
	}

	tenantID := middleware.GetTenantID(c)
	session, err := h.sessions.UpdateSession(c.UserContext(), tenantID, id, req.ToModel(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func (h *AuditSessionHandler) StartCounting(c *fiber.Ctx) error {
	return h.runTransition(c, h.sessions.StartCounting)
}

func (h *AuditSessionHandler) MoveToReview(c *fiber.Ctx) error {
	return h.runTransition(c, h.sessions.MoveToReview)
}

func (h *AuditSessionHandler) CompleteSession(c *fiber.Ctx) error {
	return h.runTransition(c, h.sessions.CompleteSession)
}

func (h *AuditSessionHandler) CancelSession(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	// Body is optional.
	var req dto.CancelAuditSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}

	tenantID := middleware.GetTenantID(c)
	session, err := h.sessions.CancelSession(c.UserContext(), tenantID, id, req.Reason, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func (h *AuditSessionHandler) RecordCounts(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	var req dto.RecordCountsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if fields := dto.Validate(req); fields != nil {
		return validationFailed(c, fields)
	}

	tenantID := middleware.GetTenantID(c)
	result, err := h.sessions.RecordCounts(c.UserContext(), tenantID, id, req.ToModel(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RecordCountsResponse{
		Session:   h.enricher.View(c.UserContext(), tenantID, result.Session),
		Unmatched: result.Unmatched,
	}})
}

func (h *AuditSessionHandler) AddAttachment(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	var req dto.AttachmentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if fields := dto.Validate(req); fields != nil {
		return validationFailed(c, fields)
	}

	tenantID := middleware.GetTenantID(c)
	in := models.AttachmentInput{Name: req.Name, URL: req.URL}
	session, err := h.sessions.AddAttachment(c.UserContext(), tenantID, id, in, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func (h *AuditSessionHandler) ListActivity(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	logs, err := h.sessions.ListActivity(c.UserContext(), middleware.GetTenantID(c), id,
		queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *AuditSessionHandler) ExportVariance(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	data, filename, err := h.sessions.ExportVariance(c.UserContext(), middleware.GetTenantID(c), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, export.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}

type transitionFunc func(ctx context.Context, tenantID string, id uuid.UUID, userID string) (*models.AuditSession, error)

func (h *AuditSessionHandler) runTransition(c *fiber.Ctx, fn transitionFunc) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid audit session id")
	}

	tenantID := middleware.GetTenantID(c)
	session, err := fn(c.UserContext(), tenantID, id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: h.enricher.View(c.UserContext(), tenantID, session)})
}

func sessionID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
