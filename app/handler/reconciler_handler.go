package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/reconciler"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	readinessTimeout  = 2 * time.Second
)

// EventHistory reads persisted reconcile events
type EventHistory interface {
	ListByStream(ctx context.Context, stream string, limit int) ([]*interfaces.ReconcileEvent, error)
}

// Pinger a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type readinessCheck struct {
	name   string
	pinger Pinger
}

// ReconcilerHandler operator endpoints for the reconciler
type ReconcilerHandler struct {
	manager *reconciler.Manager
	store   interfaces.AssignmentStore
	history EventHistory // nil when MySQL is not configured
	checks  []readinessCheck
}

// NewReconcilerHandler creates reconciler handler
func NewReconcilerHandler(manager *reconciler.Manager, store interfaces.AssignmentStore, history EventHistory) *ReconcilerHandler {
	return &ReconcilerHandler{manager: manager, store: store, history: history}
}

// Reconcile runs one cycle now
// @Summary Run a reconcile cycle
// @Tags Reconciler
// @Produce json
// @Success 200 {object} reconciler.Report
// @Router /api/v1/reconcile [post]
func (h *ReconcilerHandler) Reconcile(c *gin.Context) {
	report, err := h.manager.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, reconciler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, interfaces.ErrRegistryUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
	case err != nil:
		logger.ErrorCtx(c.Request.Context(), "manual reconcile failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}

// Sweep runs one orphan sweep now
// @Summary Run an orphan sweep
// @Tags Reconciler
// @Produce json
// @Success 200 {object} reconciler.SweepReport
// @Router /api/v1/sweep [post]
func (h *ReconcilerHandler) Sweep(c *gin.Context) {
	report, err := h.manager.Sweep(c.Request.Context())
	switch {
	case errors.Is(err, reconciler.ErrSweeperDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.Is(err, reconciler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		logger.ErrorCtx(c.Request.Context(), "manual sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}

// GetStatus returns the enable switch and the latest results
// @Summary Get reconciler status
// @Tags Reconciler
// @Produce json
// @Success 200 {object} reconciler.Status
// @Router /api/v1/status [get]
func (h *ReconcilerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetStatus())
}

// Enable turns scheduled cycles on
// @Summary Enable reconciler
// @Tags Reconciler
// @Router /api/v1/enable [post]
func (h *ReconcilerHandler) Enable(c *gin.Context) {
	h.manager.Enable(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "enabled"})
}

// Disable turns scheduled cycles off
// @Summary Disable reconciler
// @Tags Reconciler
// @Router /api/v1/disable [post]
func (h *ReconcilerHandler) Disable(c *gin.Context) {
	h.manager.Disable(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

// ListAssignments lists every stored assignment
// @Summary List assignments
// @Tags Assignments
// @Produce json
// @Router /api/v1/assignments [get]
func (h *ReconcilerHandler) ListAssignments(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list assignments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": list, "total": len(list)})
}

// GetAssignment returns one stream's assignment (NoWorker when absent)
// @Summary Get assignment
// @Tags Assignments
// @Param stream path string true "Stream id"
// @Produce json
// @Router /api/v1/assignments/{stream} [get]
func (h *ReconcilerHandler) GetAssignment(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("stream"))
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to get assignment: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

// ListEvents returns the audit history, newest first
// @Summary List reconcile events
// @Tags Events
// @Param stream query string false "Stream id"
// @Param limit query int false "Event limit (default 50)"
// @Produce json
// @Router /api/v1/events [get]
func (h *ReconcilerHandler) ListEvents(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event history requires mysql"})
		return
	}

	limit := defaultEventLimit
	if s := c.Query("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = min(l, maxEventLimit)
		}
	}

	events, err := h.history.ListByStream(c.Request.Context(), c.Query("stream"), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// AddReadinessCheck registers a dependency for /readyz
func (h *ReconcilerHandler) AddReadinessCheck(name string, p Pinger) {
	h.checks = append(h.checks, readinessCheck{name: name, pinger: p})
}

// Ready readiness probe: 503 while any registered dependency fails its ping
// @Summary Readiness probe
// @Tags Health
// @Router /readyz [get]
func (h *ReconcilerHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	code := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.pinger.Ping(ctx); err != nil {
			logger.WarnCtx(ctx, "readiness check %s failed: %v", check.name, err)
			results[check.name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[check.name] = "ok"
	}

	status := "ok"
	if code != http.StatusOK {
		status = "unavailable"
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

// Health liveness probe
func (h *ReconcilerHandler) Health(c *gin.Context) {
	status := h.manager.GetStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"enabled":     status.Enabled,
		"lastRunTime": status.LastRunTime,
		"time":        time.Now().UTC(),
	})
}
