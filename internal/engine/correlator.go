// Package engine implements the correlation and diagnosis pipeline: a
// trigger alert is expanded into a bounded candidate signal set along
// topology edges, then mapped to ranked root-cause hypotheses by a fixed
// rule base.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/topology"
)

// SignalSource is the signal store behaviour the correlator depends on.
type SignalSource interface {
	Query(ctx context.Context, service string, kinds []models.SignalKind, from, to time.Time) ([]models.Signal, error)
}

// TopologySource is the topology model behaviour the correlator depends on.
// Each correlation pins exactly one snapshot, so neighbor expansion and cap
// ranking read the same graph even when a reload lands mid-flight.
type TopologySource interface {
	Snapshot() (*topology.Graph, error)
}

// CorrelatorConfig bounds the correlation search.
type CorrelatorConfig struct {
	// Window is how far back from the trigger candidate signals are pulled.
	Window time.Duration
	// DeploymentWindow is the (typically larger) lookback for deployment
	// signals, which are always retained.
	DeploymentWindow time.Duration
	// HopLimit bounds the topology neighborhood.
	HopLimit int
	// CandidateCap bounds the candidate set under signal storms.
	CandidateCap int
}

func (c *CorrelatorConfig) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 30 * time.Minute
	}
	if c.DeploymentWindow <= 0 {
		c.DeploymentWindow = time.Hour
	}
	if c.HopLimit < 0 {
		c.HopLimit = 2
	}
	if c.CandidateCap <= 0 {
		c.CandidateCap = 500
	}
}

// Correlator assembles the candidate signal set for a trigger alert.
type Correlator struct {
	logger  *slog.Logger
	signals SignalSource
	topo    TopologySource
	cfg     CorrelatorConfig
}

// NewCorrelator constructs a Correlator.
func NewCorrelator(logger *slog.Logger, signals SignalSource, topo TopologySource, cfg CorrelatorConfig) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Correlator{logger: logger, signals: signals, topo: topo, cfg: cfg}
}

// Correlate opens the Incident identified by incidentID for the trigger
// and populates its candidate signal set. It never fails outright: when
// the signal store or topology model is unavailable, or the budget context
// expires mid-flight, the incident is still opened with whatever was
// gathered plus an explicit degraded note.
func (c *Correlator) Correlate(ctx context.Context, incidentID string, trigger models.TriggerAlert) models.Incident {
	incident := models.Incident{
		ID:       incidentID,
		Trigger:  trigger.Signal(),
		OpenedAt: time.Now().UTC(),
		State:    models.StateOpen,
	}

	graph := c.snapshot(&incident)
	services := c.searchSet(&incident, graph, trigger.Service)
	candidates, deployments, degraded := c.gather(ctx, &incident, services, trigger.Timestamp)
	if degraded && len(candidates) == 0 && len(deployments) == 0 {
		return incident
	}

	incident.CandidateSignals = c.assemble(graph, candidates, deployments, trigger)
	return incident
}

// snapshot pins the topology graph for the whole correlation. An unavailable
// model degrades to a nil graph; lookups against it rank everything lowest.
func (c *Correlator) snapshot(incident *models.Incident) *topology.Graph {
	g, err := c.topo.Snapshot()
	if err != nil {
		incident.AddNote(fmt.Sprintf("topology unavailable (%v); correlation limited to the trigger service", err))
		return nil
	}
	return g
}

// searchSet resolves {trigger service} ∪ neighbors(H). Topology misses
// degrade to the trigger service alone.
func (c *Correlator) searchSet(incident *models.Incident, g *topology.Graph, service string) []string {
	services := []string{service}
	if g == nil {
		return services
	}
	if _, ok := g.Node(service); !ok {
		incident.AddNote(fmt.Sprintf("service %s not in topology; correlation limited to the trigger service", service))
		return services
	}
	return append(services, g.Neighbors(service, c.cfg.HopLimit)...)
}

// gather pulls the correlation window and the deployment window for every
// service in the search set.
func (c *Correlator) gather(ctx context.Context, incident *models.Incident, services []string, at time.Time) (candidates, deployments []models.Signal, degraded bool) {
	windowStart := at.Add(-c.cfg.Window)
	deployStart := at.Add(-c.cfg.DeploymentWindow)

	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			incident.AddNote("correlation budget exceeded; candidate set is partial")
			return candidates, deployments, true
		}

		sigs, err := c.signals.Query(ctx, svc, nil, windowStart, at)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				incident.AddNote("correlation budget exceeded; candidate set is partial")
			} else {
				incident.AddNote(fmt.Sprintf("signal store unavailable (%v); candidate set is empty or partial", err))
			}
			return candidates, deployments, true
		}
		for _, sig := range sigs {
			if sig.Kind == models.KindDeployment {
				continue // picked up by the deployment query below
			}
			candidates = append(candidates, sig)
		}

		deps, err := c.signals.Query(ctx, svc, []models.SignalKind{models.KindDeployment}, deployStart, at)
		if err != nil {
			incident.AddNote(fmt.Sprintf("deployment lookup failed for %s (%v)", svc, err))
			degraded = true
			continue
		}
		deployments = append(deployments, deps...)
	}
	return candidates, deployments, degraded
}

// assemble merges, caps, and time-orders the candidate set. Deployment
// signals are always retained; the rest are dropped lowest-severity,
// furthest-from-trigger first once the cap is hit.
func (c *Correlator) assemble(g *topology.Graph, candidates, deployments []models.Signal, trigger models.TriggerAlert) []models.Signal {
	candidates = dedupeByID(candidates, trigger.Signal().ID)
	deployments = dedupeByID(deployments, "")

	budget := c.cfg.CandidateCap - len(deployments)
	if budget < 0 {
		budget = 0
	}
	if len(candidates) > budget {
		sort.SliceStable(candidates, func(i, j int) bool {
			return keepPriority(g, candidates[i], candidates[j], trigger.Timestamp)
		})
		candidates = candidates[:budget]
	}

	merged := append(candidates, deployments...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// keepPriority orders signals most-worth-keeping first: higher severity,
// then higher service criticality, then closer to the trigger time. It
// reads the graph pinned at correlation start, never the live model.
func keepPriority(g *topology.Graph, a, b models.Signal, at time.Time) bool {
	if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
		return ar > br
	}
	if ac, bc := criticalityRank(g, a.Service), criticalityRank(g, b.Service); ac != bc {
		return ac > bc
	}
	return at.Sub(a.Timestamp) < at.Sub(b.Timestamp)
}

// criticalityRank degrades unknown services to lowest priority, per the
// topology contract.
func criticalityRank(g *topology.Graph, service string) int {
	if g == nil {
		return 0
	}
	crit, err := g.Criticality(service)
	if err != nil {
		return 0
	}
	return crit.Rank()
}

func dedupeByID(signals []models.Signal, excludeID string) []models.Signal {
	seen := make(map[string]struct{}, len(signals))
	out := signals[:0]
	for _, sig := range signals {
		if sig.ID == excludeID && excludeID != "" {
			continue
		}
		if _, dup := seen[sig.ID]; dup {
			continue
		}
		seen[sig.ID] = struct{}{}
		out = append(out, sig)
	}
	return out
}
