package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/retail-backoffice/inventory-audit/internal/http/dto"
	"github.com/retail-backoffice/inventory-audit/internal/models"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaStatus struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Terminal bool     `json:"terminal"`
	Allowed  []string `json:"allowed_operations"`
}

type MetaType struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var statusLabels = map[string]string{
	models.AuditSessionStatusDraft:     "Draft",
	models.AuditSessionStatusScheduled: "Scheduled",
	models.AuditSessionStatusCounting:  "Counting",
	models.AuditSessionStatusReview:    "In Review",
	models.AuditSessionStatusCompleted: "Completed",
	models.AuditSessionStatusCancelled: "Cancelled",
}

var predefinedTypes = []MetaType{
	{ID: models.AuditSessionTypeCycle, Label: "Cycle Count"},
	{ID: models.AuditSessionTypeBlind, Label: "Blind Count"},
	{ID: models.AuditSessionTypeFull, Label: "Full Stocktake"},
}

var sessionOperations = []string{
	models.SessionOpUpdate,
	models.SessionOpStartCounting,
	models.SessionOpRecordCounts,
	models.SessionOpMoveToReview,
	models.SessionOpComplete,
	models.SessionOpCancel,
}

// GetStatuses lists every status with the operations it accepts, so clients
// can enable actions without duplicating the lifecycle table.
func (h *MetaHandler) GetStatuses(c *fiber.Ctx) error {
	statuses := make([]MetaStatus, 0, len(models.AllAuditSessionStatuses))
	for _, st := range models.AllAuditSessionStatuses {
		allowed := []string{}
		for _, op := range sessionOperations {
			if models.CanApply(op, st) {
				allowed = append(allowed, op)
			}
		}
		statuses = append(statuses, MetaStatus{
			ID:       st,
			Label:    statusLabels[st],
			Terminal: models.IsTerminalStatus(st),
			Allowed:  allowed,
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: statuses})
}

func (h *MetaHandler) GetTypes(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: predefinedTypes})
}
