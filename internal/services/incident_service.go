// Package services wires the correlation pipeline together: trigger
// intake with debounce, a worker per incident, diagnosis, persistence,
// and outbound notification.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/incident-correlator/internal/engine"
	"github.com/vigilstack/incident-correlator/internal/history"
	"github.com/vigilstack/incident-correlator/internal/metrics"
	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/notify"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

// errSuperseded is the cancellation cause when a newer, more severe
// trigger replaces an in-flight correlation.
var errSuperseded = errors.New("superseded by newer trigger")

// persistTimeout bounds the history write after the correlation budget has
// already been spent.
const persistTimeout = 2 * time.Second

// IncidentService owns the trigger-to-report pipeline. Each accepted
// trigger runs as an independent worker; the incident record is owned by
// that worker until it is persisted and handed to the notifier.
type IncidentService struct {
	logger     *slog.Logger
	correlator *engine.Correlator
	ranker     *engine.Ranker
	history    history.Store
	notifier   notify.Notifier

	budget   time.Duration
	debounce time.Duration

	latencies *utils.LatencyTracker

	mu       sync.Mutex
	inflight map[string]*run

	wg sync.WaitGroup
}

// run tracks the latest correlation per service. Entries outlive the
// worker so debounce holds for the full window; the next trigger past the
// window simply replaces the stale entry.
type run struct {
	incidentID string
	severity   models.Severity
	started    time.Time
	cancel     context.CancelCauseFunc
}

// NewIncidentService constructs the pipeline service.
func NewIncidentService(
	logger *slog.Logger,
	correlator *engine.Correlator,
	ranker *engine.Ranker,
	historyStore history.Store,
	notifier notify.Notifier,
	budget, debounce time.Duration,
) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if budget <= 0 {
		budget = 5 * time.Second
	}
	if debounce <= 0 {
		debounce = time.Minute
	}
	return &IncidentService{
		logger:     logger,
		correlator: correlator,
		ranker:     ranker,
		history:    historyStore,
		notifier:   notifier,
		budget:     budget,
		debounce:   debounce,
		latencies:  utils.NewLatencyTracker(1024),
		inflight:   make(map[string]*run),
	}
}

// HandleTrigger accepts a trigger alert. Within the debounce window, a
// less-or-equally severe trigger for a service with an in-flight
// correlation is folded into the existing incident; a more severe one
// supersedes it (the superseded run's partial work is discarded, not
// merged). Returns the incident id and whether a new incident was opened.
func (s *IncidentService) HandleTrigger(trigger models.TriggerAlert) (string, bool) {
	now := time.Now()

	s.mu.Lock()
	if existing, ok := s.inflight[trigger.Service]; ok && now.Sub(existing.started) < s.debounce {
		if trigger.Severity.Rank() <= existing.severity.Rank() {
			id := existing.incidentID
			s.mu.Unlock()
			metrics.ObserveTrigger("debounced")
			s.logger.Debug("trigger debounced",
				slog.String("service", trigger.Service),
				slog.String("incident_id", id))
			return id, false
		}
		existing.cancel(errSuperseded)
		delete(s.inflight, trigger.Service)
	}

	incidentID := uuid.NewString()
	baseCtx, cancel := context.WithCancelCause(context.Background())
	s.inflight[trigger.Service] = &run{
		incidentID: incidentID,
		severity:   trigger.Severity,
		started:    now,
		cancel:     cancel,
	}
	s.mu.Unlock()

	metrics.ObserveTrigger("accepted")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(baseCtx, incidentID, trigger, now)
	}()
	return incidentID, true
}

// process runs one correlation end to end under the diagnosis budget.
func (s *IncidentService) process(baseCtx context.Context, incidentID string, trigger models.TriggerAlert, started time.Time) {
	ctx, cancel := context.WithTimeout(baseCtx, s.budget)
	defer cancel()

	incident := s.correlator.Correlate(ctx, incidentID, trigger)

	if context.Cause(baseCtx) == errSuperseded {
		// Partial work is discarded; the record survives so the trigger
		// never vanishes silently.
		incident.CandidateSignals = nil
		incident.RankedCauses = nil
		incident.AddNote("superseded by a newer, more severe trigger for the same service")
		s.persist(incident)
		metrics.ObserveCorrelation(time.Since(started), metrics.OutcomeSuperseded, 0)
		return
	}

	s.ranker.Diagnose(&incident)
	s.persist(incident)

	report := engine.BuildReport(incident)
	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelNotify()
	if err := s.notifier.PublishReport(notifyCtx, report); err != nil {
		s.logger.Error("report publish failed",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
	if hint, ok := engine.DeploymentHint(incident); ok {
		if err := s.notifier.PublishDeploymentHint(notifyCtx, hint); err != nil {
			s.logger.Warn("deployment hint publish failed",
				slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
	}

	duration := time.Since(started)
	outcome := metrics.OutcomeComplete
	if !incident.DiagnosisComplete {
		outcome = metrics.OutcomeDegraded
	}
	metrics.ObserveCorrelation(duration, outcome, len(incident.CandidateSignals))
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("correlation latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// persist writes the incident on a fresh context so an exhausted budget
// never drops the record.
func (s *IncidentService) persist(incident models.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.history.Save(ctx, incident); err != nil {
		s.logger.Error("incident persist failed",
			slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}

// GetIncident returns one persisted incident.
func (s *IncidentService) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	return s.history.Get(ctx, id)
}

// ListIncidents returns persisted incidents, newest first.
func (s *IncidentService) ListIncidents(ctx context.Context, service string, limit int) ([]models.Incident, error) {
	return s.history.List(ctx, service, limit)
}

// Transition applies a responder-driven state change (MITIGATING,
// RESOLVED, ESCALATED) and persists the result.
func (s *IncidentService) Transition(ctx context.Context, id string, next models.IncidentState) (models.Incident, error) {
	incident, err := s.history.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if err := incident.Transition(next); err != nil {
		return models.Incident{}, err
	}
	if err := s.history.Save(ctx, incident); err != nil {
		return models.Incident{}, fmt.Errorf("persist transition: %w", err)
	}
	return incident, nil
}

// LatencyP95 returns the current p95 trigger-to-report latency.
func (s *IncidentService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

// Drain waits for in-flight correlations to finish, up to the context
// deadline.
func (s *IncidentService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
