package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigilstack/incident-correlator/internal/metrics"
	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

// SignalSink is the ingestion behaviour the API depends on.
type SignalSink interface {
	Ingest(sig models.Signal) error
}

// IncidentPipeline is the trigger/incident behaviour the API depends on.
type IncidentPipeline interface {
	HandleTrigger(trigger models.TriggerAlert) (incidentID string, opened bool)
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	ListIncidents(ctx context.Context, service string, limit int) ([]models.Incident, error)
	Transition(ctx context.Context, id string, next models.IncidentState) (models.Incident, error)
}

// Handlers holds the route implementations.
type Handlers struct {
	logger    *slog.Logger
	signals   SignalSink
	incidents IncidentPipeline
	ready     func() bool
}

// NewHandlers constructs the API handlers. ready gates the readiness
// probe (typically: topology loaded).
func NewHandlers(logger *slog.Logger, signals SignalSink, incidents IncidentPipeline, ready func() bool) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handlers{logger: logger, signals: signals, incidents: incidents, ready: ready}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/readyz", h.readiness)

	v1 := router.Group("/api/v1")
	v1.POST("/signals", h.ingestSignals)
	v1.POST("/triggers", h.handleTrigger)
	v1.GET("/incidents", h.listIncidents)
	v1.GET("/incidents/:id", h.getIncident)
	v1.POST("/incidents/:id/transition", h.transitionIncident)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) readiness(c *gin.Context) {
	if !h.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ingestSignals accepts one signal object or a batch array. Invalid
// signals are rejected individually; a batch with any accepted signal
// returns 202 with per-signal errors listed.
func (h *Handlers) ingestSignals(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	var batch []models.Signal
	if err := json.Unmarshal(raw, &batch); err != nil {
		var single models.Signal
		if err := json.Unmarshal(raw, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a signal object or array of signals"})
			return
		}
		batch = []models.Signal{single}
	}
	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty signal batch"})
		return
	}

	accepted := 0
	var rejections []gin.H
	for _, sig := range batch {
		if err := h.signals.Ingest(sig); err != nil {
			metrics.ObserveRejected()
			rejections = append(rejections, gin.H{"id": sig.ID, "error": err.Error()})
			continue
		}
		metrics.ObserveIngest(string(sig.Kind))
		accepted++
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"accepted": accepted, "rejected": rejections})
}

func (h *Handlers) handleTrigger(c *gin.Context) {
	var trigger models.TriggerAlert
	if err := c.ShouldBindJSON(&trigger); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trigger: " + err.Error()})
		return
	}
	if trigger.Service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service is required"})
		return
	}
	if trigger.Timestamp.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp is required"})
		return
	}
	if trigger.Severity.Rank() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be low, medium, high, or critical"})
		return
	}

	incidentID, opened := h.incidents.HandleTrigger(trigger)
	status := "accepted"
	if !opened {
		status = "debounced"
	}
	c.JSON(http.StatusAccepted, gin.H{"incident_id": incidentID, "status": status})
}

func (h *Handlers) getIncident(c *gin.Context) {
	incident, err := h.incidents.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("incident fetch failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident fetch failed"})
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handlers) listIncidents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	incidents, err := h.incidents.ListIncidents(c.Request.Context(), c.Query("service"), limit)
	if err != nil {
		h.logger.Error("incident list failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "incident list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

// transitionIncident applies responder-driven lifecycle changes.
func (h *Handlers) transitionIncident(c *gin.Context) {
	var body struct {
		State models.IncidentState `json:"state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transition: " + err.Error()})
		return
	}

	incident, err := h.incidents.Transition(c.Request.Context(), c.Param("id"), body.State)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, incident)
}
