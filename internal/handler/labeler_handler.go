package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
	appmw "github.com/arc-self/apps/labeler-bridge-service/internal/middleware"
	"github.com/arc-self/apps/labeler-bridge-service/internal/ozone"
	"github.com/arc-self/apps/labeler-bridge-service/internal/repository"
	"github.com/arc-self/apps/labeler-bridge-service/internal/service"
)

// TenantPoller runs one routed poll cycle for a tenant: fetch, classify,
// enqueue. Satisfied by *scheduler.Poller.
type TenantPoller interface {
	PollTenant(ctx context.Context, tenantID string) (int, error)
}

// LabelerHandler exposes the bridge over the platform's internal HTTP
// surface.
type LabelerHandler struct {
	svc    service.BridgeService
	poller TenantPoller
}

func NewLabelerHandler(svc service.BridgeService, poller TenantPoller) *LabelerHandler {
	return &LabelerHandler{svc: svc, poller: poller}
}

func (h *LabelerHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api/v1/labeler", InternalContextMiddleware())
	g.GET("/health", h.LabelerHealth)
	g.GET("/status", h.GetStatus)
	g.PUT("/sync", h.SetSync)
	g.GET("/mappings", h.ListMappings)
	g.PUT("/mappings", h.UpsertMapping)
	g.DELETE("/mappings", h.DeleteMapping)
	g.POST("/events", h.EmitEvent)
	g.POST("/poll", h.Poll)
	g.GET("/emissions", h.ListEmissions)
}

func errResp(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func tenantID(c echo.Context) (string, bool) {
	return appmw.GetTenantID(c.Request().Context())
}

// --- Request DTOs ---

type setSyncRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type upsertMappingRequest struct {
	PolicyType string `json:"policy_type" validate:"required"`
	LabelValue string `json:"label_value" validate:"required"`
	Direction  string `json:"direction" validate:"required"`
}

type deleteMappingRequest struct {
	PolicyType string `json:"policy_type" validate:"required"`
	LabelValue string `json:"label_value" validate:"required"`
}

type emitEventRequest struct {
	EventType             string              `json:"event_type" validate:"required"`
	Labels                []string            `json:"labels"`
	NegateLabels          []string            `json:"negate_labels"`
	Comment               *string             `json:"comment"`
	SubjectDID            string              `json:"subject_did"`
	SubjectURI            *string             `json:"subject_uri"`
	PlatformActionID      string              `json:"platform_action_id"`
	PlatformCorrelationID string              `json:"platform_correlation_id"`
	Policies              []service.PolicyRef `json:"policies"`
	DurationInHours       *int64              `json:"duration_in_hours"`
}

// --- Handlers ---

// Healthz godoc
// @Summary      Service liveness
// @ID           healthz
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func (h *LabelerHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// LabelerHealth godoc
// @Summary      Probe the tenant's external labeler
// @Description  Proxies the labeler's _health endpoint for the calling tenant.
// @ID           labeler-health
// @Produce      json
// @Param        X-Internal-Org-Id  header  string  true  "Organization ID"
// @Success      200  {object}  object
// @Failure      404  {object}  map[string]string  "Tenant Not Configured"
// @Failure      502  {object}  map[string]string  "Labeler Unreachable"
// @Router       /api/v1/labeler/health [get]
func (h *LabelerHandler) LabelerHealth(c echo.Context) error {
	tenant, _ := tenantID(c)
	health, err := h.svc.LabelerHealth(c.Request().Context(), tenant)
	if err != nil {
		if errors.Is(err, service.ErrNotConfigured) {
			return errResp(c, http.StatusNotFound, "no labeler configured for tenant")
		}
		return errResp(c, http.StatusBadGateway, "labeler unreachable")
	}
	return c.JSON(http.StatusOK, health)
}

// GetStatus godoc
// @Summary      Read the tenant's sync state
// @ID           get-labeler-status
// @Produce      json
// @Param        X-Internal-Org-Id  header  string  true  "Organization ID"
// @Success      200  {object}  object
// @Failure      500  {object}  map[string]string  "Internal Error"
// @Router       /api/v1/labeler/status [get]
func (h *LabelerHandler) GetStatus(c echo.Context) error {
	tenant, _ := tenantID(c)
	ctx := c.Request().Context()

	state, err := h.svc.GetSyncState(ctx, tenant)
	if err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to read sync state")
	}
	configured, err := h.svc.IsConfigured(ctx, tenant)
	if err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to resolve credential")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured": configured,
		"sync_state": state,
	})
}

// SetSync godoc
// @Summary      Enable or disable event sync
// @ID           set-labeler-sync
// @Accept       json
// @Produce      json
// @Param        X-Internal-Org-Id  header  string          true  "Organization ID"
// @Param        request            body    setSyncRequest  true  "Sync Toggle"
// @Success      200  {object}  map[string]bool
// @Failure      400  {object}  map[string]string  "Validation Error"
// @Router       /api/v1/labeler/sync [put]
func (h *LabelerHandler) SetSync(c echo.Context) error {
	tenant, _ := tenantID(c)

	var req setSyncRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return errResp(c, http.StatusBadRequest, "enabled is required")
	}

	if err := h.svc.SetSyncEnabled(c.Request().Context(), tenant, *req.Enabled); err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to update sync state")
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// ListMappings godoc
// @Summary      List the tenant's label mappings
// @Description  Returns custom rows plus the effective set (defaults when no custom rows exist).
// @ID           list-label-mappings
// @Produce      json
// @Param        X-Internal-Org-Id  header  string  true  "Organization ID"
// @Success      200  {object}  object
// @Failure      500  {object}  map[string]string  "Internal Error"
// @Router       /api/v1/labeler/mappings [get]
func (h *LabelerHandler) ListMappings(c echo.Context) error {
	tenant, _ := tenantID(c)

	custom, err := h.svc.ListMappings(c.Request().Context(), tenant)
	if err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to list mappings")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"custom":    custom,
		"effective": mapper.Effective(custom),
	})
}

// UpsertMapping godoc
// @Summary      Create or update a label mapping
// @ID           upsert-label-mapping
// @Accept       json
// @Produce      json
// @Param        X-Internal-Org-Id  header  string                true  "Organization ID"
// @Param        request            body    upsertMappingRequest  true  "Mapping"
// @Success      200  {object}  object
// @Failure      400  {object}  map[string]string  "Validation Error"
// @Router       /api/v1/labeler/mappings [put]
func (h *LabelerHandler) UpsertMapping(c echo.Context) error {
	tenant, _ := tenantID(c)

	var req upsertMappingRequest
	if err := c.Bind(&req); err != nil {
		return errResp(c, http.StatusBadRequest, "invalid request body")
	}

	m := mapper.Mapping{
		PolicyType: req.PolicyType,
		LabelValue: req.LabelValue,
		Direction:  mapper.Direction(req.Direction),
	}
	if err := h.svc.UpsertMapping(c.Request().Context(), tenant, m); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return errResp(c, http.StatusBadRequest, err.Error())
		}
		return errResp(c, http.StatusInternalServerError, "failed to save mapping")
	}
	return c.JSON(http.StatusOK, m)
}

// DeleteMapping godoc
// @Summary      Delete a label mapping
// @ID           delete-label-mapping
// @Accept       json
// @Produce      json
// @Param        X-Internal-Org-Id  header  string                true  "Organization ID"
// @Param        request            body    deleteMappingRequest  true  "Mapping Key"
// @Success      204  "Deleted"
// @Failure      400  {object}  map[string]string  "Validation Error"
// @Router       /api/v1/labeler/mappings [delete]
func (h *LabelerHandler) DeleteMapping(c echo.Context) error {
	tenant, _ := tenantID(c)

	var req deleteMappingRequest
	if err := c.Bind(&req); err != nil || req.PolicyType == "" || req.LabelValue == "" {
		return errResp(c, http.StatusBadRequest, "policy_type and label_value are required")
	}

	if err := h.svc.DeleteMapping(c.Request().Context(), tenant, req.PolicyType, req.LabelValue); err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to delete mapping")
	}
	return c.NoContent(http.StatusNoContent)
}

// EmitEvent godoc
// @Summary      Emit a moderation event to the tenant's labeler
// @Description  Writes the audit row, pushes the event, returns the audit outcome.
// @ID           emit-labeler-event
// @Accept       json
// @Produce      json
// @Param        X-Internal-Org-Id  header  string            true  "Organization ID"
// @Param        request            body    emitEventRequest  true  "Event"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string  "Validation Error"
// @Failure      404  {object}  map[string]string  "Tenant Not Configured"
// @Failure      502  {object}  map[string]string  "Emission Failed"
// @Router       /api/v1/labeler/events [post]
func (h *LabelerHandler) EmitEvent(c echo.Context) error {
	tenant, _ := tenantID(c)

	var req emitEventRequest
	if err := c.Bind(&req); err != nil {
		return errResp(c, http.StatusBadRequest, "invalid request body")
	}
	if req.EventType == "" {
		return errResp(c, http.StatusBadRequest, "event_type is required")
	}
	if req.SubjectDID == "" && (req.SubjectURI == nil || *req.SubjectURI == "") {
		return errResp(c, http.StatusBadRequest, "subject_did or subject_uri is required")
	}

	err := h.svc.EmitEvent(c.Request().Context(), service.EmitEventInput{
		TenantID:              tenant,
		EventType:             req.EventType,
		Labels:                req.Labels,
		NegateLabels:          req.NegateLabels,
		Comment:               req.Comment,
		SubjectDID:            req.SubjectDID,
		SubjectURI:            req.SubjectURI,
		PlatformActionID:      req.PlatformActionID,
		PlatformCorrelationID: req.PlatformCorrelationID,
		Policies:              req.Policies,
		DurationInHours:       req.DurationInHours,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotConfigured):
			return errResp(c, http.StatusNotFound, "no labeler configured for tenant")
		case errors.Is(err, service.ErrInvalidInput):
			return errResp(c, http.StatusBadRequest, err.Error())
		default:
			var httpErr *ozone.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
				return errResp(c, http.StatusUnprocessableEntity, "labeler rejected event")
			}
			return errResp(c, http.StatusBadGateway, "failed to emit event")
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "emitted"})
}

// Poll godoc
// @Summary      Trigger one poll cycle for the calling tenant
// @Description  Fetched events go through the same classify-and-enqueue routing as the background poller.
// @ID           poll-labeler-events
// @Produce      json
// @Param        X-Internal-Org-Id  header  string  true  "Organization ID"
// @Success      200  {object}  map[string]int
// @Failure      502  {object}  map[string]string  "Labeler Unreachable"
// @Router       /api/v1/labeler/poll [post]
func (h *LabelerHandler) Poll(c echo.Context) error {
	tenant, _ := tenantID(c)

	count, err := h.poller.PollTenant(c.Request().Context(), tenant)
	if err != nil {
		return errResp(c, http.StatusBadGateway, "poll failed")
	}
	return c.JSON(http.StatusOK, map[string]int{"events": count})
}

// ListEmissions godoc
// @Summary      List the tenant's outbound emission audit trail
// @ID           list-labeler-emissions
// @Produce      json
// @Param        X-Internal-Org-Id  header  string  true   "Organization ID"
// @Param        status             query   string  false  "PENDING | SUCCESS | RETRYABLE_ERROR"
// @Success      200  {array}   object
// @Failure      500  {object}  map[string]string  "Internal Error"
// @Router       /api/v1/labeler/emissions [get]
func (h *LabelerHandler) ListEmissions(c echo.Context) error {
	tenant, _ := tenantID(c)

	emissions, err := h.svc.ListEmissions(c.Request().Context(), tenant, c.QueryParam("status"), 0)
	if err != nil {
		return errResp(c, http.StatusInternalServerError, "failed to list emissions")
	}
	if emissions == nil {
		emissions = []repository.EmittedEvent{}
	}
	return c.JSON(http.StatusOK, emissions)
}
