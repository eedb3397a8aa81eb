package engine

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrsync/internal/domain/conflict"
	"github.com/ehr/ehrsync/internal/domain/syncjob"
)

// Handler exposes the sync engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new sync handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers sync endpoints on the provided route group.
//
//	POST   /sync/jobs                  - Submit a sync job
//	GET    /sync/jobs                  - List an organization's jobs
//	GET    /sync/jobs/:id              - Get one job
//	DELETE /sync/jobs/:id              - Cancel a job
//	POST   /sync/scan                  - Trigger an immediate scheduler scan
//	GET    /sync/status                - Scheduler and performance snapshot
//	GET    /sync/conflicts             - List pending conflicts
//	GET    /sync/conflicts/:id         - Get one conflict
//	POST   /sync/conflicts/:id/resolve - Resolve a conflict
//	POST   /sync/conflicts/auto-resolve - Auto-resolve eligible pending conflicts
//	GET    /sync/resolutions           - Resolution history
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sync/jobs", h.SubmitJob)
	g.GET("/sync/jobs", h.ListJobs)
	g.GET("/sync/jobs/:id", h.GetJob)
	g.DELETE("/sync/jobs/:id", h.CancelJob)
	g.POST("/sync/scan", h.TriggerScan)
	g.GET("/sync/status", h.GetStatus)
	g.GET("/sync/conflicts", h.ListConflicts)
	g.GET("/sync/conflicts/:id", h.GetConflict)
	g.POST("/sync/conflicts/:id/resolve", h.ResolveConflict)
	g.POST("/sync/conflicts/auto-resolve", h.AutoResolveConflicts)
	g.GET("/sync/resolutions", h.ListResolutions)
}

type submitJobRequest struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	ConnectionID   uuid.UUID       `json:"connection_id"`
	JobType        syncjob.JobType `json:"job_type"`
	ResourceTypes  []string        `json:"resource_types"`
	Filters        syncjob.Filters `json:"filters"`
	BatchSize      int             `json:"batch_size"`
	MaxRetries     int             `json:"max_retries"`
}

// SubmitJob handles POST /sync/jobs.
func (h *Handler) SubmitJob(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	jobID, err := h.engine.Submit(c.Request().Context(), SubmitConfig{
		OrganizationID: req.OrganizationID,
		ConnectionID:   req.ConnectionID,
		Type:           req.JobType,
		ResourceTypes:  req.ResourceTypes,
		Filters:        req.Filters,
		BatchSize:      req.BatchSize,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to submit job: " + err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, map[string]string{"job_id": jobID.String()})
}

// ListJobs handles GET /sync/jobs.
func (h *Handler) ListJobs(c echo.Context) error {
	orgID, err := uuid.Parse(c.QueryParam("organization_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "organization_id query parameter is required",
		})
	}

	jobs, err := h.engine.GetOrganizationJobs(c.Request().Context(), orgID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list jobs: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetJob handles GET /sync/jobs/:id.
func (h *Handler) GetJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	job, err := h.engine.GetJobStatus(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, syncjob.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load job: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, job)
}

// CancelJob handles DELETE /sync/jobs/:id.
func (h *Handler) CancelJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	cancelled, err := h.engine.Cancel(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, syncjob.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to cancel job: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// TriggerScan handles POST /sync/scan.
func (h *Handler) TriggerScan(c echo.Context) error {
	if err := h.engine.TriggerScan(c.Request().Context()); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "scan triggered"})
}

// GetStatus handles GET /sync/status.
func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scheduler":   h.engine.Status(),
		"performance": h.engine.PerfStats(),
	})
}

// ListConflicts handles GET /sync/conflicts. The organization_id query
// parameter is optional; without it all pending conflicts are returned.
func (h *Handler) ListConflicts(c echo.Context) error {
	orgID := uuid.Nil
	if raw := c.QueryParam("organization_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
		}
		orgID = parsed
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conflicts": h.engine.Resolver().PendingConflicts(orgID),
	})
}

// GetConflict handles GET /sync/conflicts/:id.
func (h *Handler) GetConflict(c echo.Context) error {
	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conflict id"})
	}

	pending, err := h.engine.Resolver().Get(conflictID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conflict not found"})
	}
	return c.JSON(http.StatusOK, pending)
}

type resolveConflictRequest struct {
	Strategy  conflict.Strategy      `json:"strategy"`
	Overrides map[string]interface{} `json:"overrides"`
}

// ResolveConflict handles POST /sync/conflicts/:id/resolve.
func (h *Handler) ResolveConflict(c echo.Context) error {
	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conflict id"})
	}

	var req resolveConflictRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	res, err := h.engine.ResolveConflict(c.Request().Context(), conflictID, req.Strategy, req.Overrides)
	if err != nil {
		switch {
		case errors.Is(err, conflict.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conflict not found"})
		case errors.Is(err, conflict.ErrUnsupportedStrategy):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, conflict.ErrCriticalField):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to resolve conflict: " + err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, res)
}

// AutoResolveConflicts handles POST /sync/conflicts/auto-resolve.
func (h *Handler) AutoResolveConflicts(c echo.Context) error {
	resolved := h.engine.AutoResolvePendingConflicts(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resolved":    len(resolved),
		"resolutions": resolved,
	})
}

// ListResolutions handles GET /sync/resolutions.
func (h *Handler) ListResolutions(c echo.Context) error {
	orgID := uuid.Nil
	if raw := c.QueryParam("organization_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
		}
		orgID = parsed
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resolutions": h.engine.Resolver().ResolutionHistory(orgID),
	})
}
