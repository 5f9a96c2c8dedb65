// Package api exposes the workflow engine over HTTP: submitting a goal,
// streaming its progress as server-sent events, listing a trace's
// escalations, and reporting how many snapshots a trace currently holds.
// The agent directory routes are registered separately by the registry
// package.
package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weavecore/orchestrator/internal/engine"
	"github.com/weavecore/orchestrator/internal/review"
	"github.com/weavecore/orchestrator/internal/snapshot"
)

// Handler provides HTTP handlers for the workflow engine.
type Handler struct {
	scheduler *engine.Scheduler
	ledger    *review.Ledger
	snapshots *snapshot.Manager
}

// NewHandler creates a new workflow API handler.
func NewHandler(scheduler *engine.Scheduler, ledger *review.Ledger, snapshots *snapshot.Manager) *Handler {
	return &Handler{
		scheduler: scheduler,
		ledger:    ledger,
		snapshots: snapshots,
	}
}

// RegisterRoutes registers all workflow routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	traces := router.Group("/traces")
	{
		traces.POST("", h.Submit)
		traces.GET("/:id/escalations", h.ListEscalations)
		traces.GET("/:id/snapshots", h.SnapshotCount)
	}
}

type submitRequest struct {
	Goal string `json:"goal" binding:"required"`
}

// Submit starts a run for a goal and streams its progress as
// server-sent events until the run completes or the client disconnects.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events := h.scheduler.Stream(c.Request.Context(), req.Goal)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(event.Phase), event)
		return true
	})
}

// ListEscalations returns every escalation recorded for a trace.
func (h *Handler) ListEscalations(c *gin.Context) {
	traceID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"trace_id":    traceID,
		"escalations": h.ledger.ListByTrace(traceID),
	})
}

// SnapshotCount reports how many snapshots are currently retained for a
// trace, useful for diagnosing in-flight rollback state.
func (h *Handler) SnapshotCount(c *gin.Context) {
	traceID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"trace_id": traceID,
		"count":    fmt.Sprintf("%d", h.snapshots.Stats(traceID)),
	})
}
