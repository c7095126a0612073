package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/topology"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

// fakeSignals serves canned signals per service and can fail on demand.
type fakeSignals struct {
	byService map[string][]models.Signal
	err       error
}

func (f *fakeSignals) Query(ctx context.Context, service string, kinds []models.SignalKind, from, to time.Time) ([]models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Signal
	for _, sig := range f.byService[service] {
		if sig.Timestamp.Before(from) || sig.Timestamp.After(to) {
			continue
		}
		if len(kinds) > 0 {
			match := false
			for _, k := range kinds {
				if sig.Kind == k {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, sig)
	}
	return out, nil
}

// gatedSignals parks the first query until release is closed; later queries
// serve the canned signals.
type gatedSignals struct {
	fakeSignals
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedSignals(byService map[string][]models.Signal) *gatedSignals {
	return &gatedSignals{
		fakeSignals: fakeSignals{byService: byService},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedSignals) Query(ctx context.Context, service string, kinds []models.SignalKind, from, to time.Time) ([]models.Signal, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeSignals.Query(ctx, service, kinds, from, to)
}

func node(name string, crit topology.Criticality, deps ...string) topology.ServiceNode {
	return topology.ServiceNode{Name: name, Criticality: crit, Dependencies: deps}
}

// modelOf builds a loaded topology model over the given nodes.
func modelOf(t *testing.T, nodes ...topology.ServiceNode) *topology.Model {
	t.Helper()
	g, err := topology.NewGraph(nodes)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	m := topology.NewModel(nil)
	m.Swap(g)
	return m
}

func sigAt(id, service string, kind models.SignalKind, ts time.Time, sev models.Severity) models.Signal {
	return models.Signal{ID: id, Service: service, Kind: kind, Timestamp: ts, Severity: sev}
}

func TestCorrelateGathersAcrossNeighborhood(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signals := &fakeSignals{byService: map[string][]models.Signal{
		"paymentservice": {
			sigAt("dep-1", "paymentservice", models.KindDeployment, at.Add(-8*time.Minute), models.SeverityMedium),
			sigAt("log-1", "paymentservice", models.KindLog, at.Add(-4*time.Minute), models.SeverityHigh),
		},
		"checkoutservice": {
			sigAt("met-1", "checkoutservice", models.KindMetric, at.Add(-2*time.Minute), models.SeverityLow),
		},
		"frontend": {
			// Outside the correlation window.
			sigAt("met-old", "frontend", models.KindMetric, at.Add(-45*time.Minute), models.SeverityLow),
		},
	}}
	topo := modelOf(t,
		node("paymentservice", topology.CriticalityCritical, "checkoutservice", "frontend"),
		node("checkoutservice", topology.CriticalityMedium),
		node("frontend", topology.CriticalityLow),
	)

	c := NewCorrelator(nil, signals, topo, CorrelatorConfig{Window: 30 * time.Minute, DeploymentWindow: time.Hour, HopLimit: 2, CandidateCap: 500})
	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{
		Service: "paymentservice", Timestamp: at, Severity: models.SeverityHigh, MetricName: "error_rate",
	})

	if incident.State != models.StateOpen {
		t.Fatalf("expected open incident, got %s", incident.State)
	}
	if len(incident.Notes) != 0 {
		t.Fatalf("unexpected degraded notes: %v", incident.Notes)
	}
	want := map[string]bool{"dep-1": true, "log-1": true, "met-1": true}
	if len(incident.CandidateSignals) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(incident.CandidateSignals), incident.CandidateSignals)
	}
	for _, sig := range incident.CandidateSignals {
		if !want[sig.ID] {
			t.Fatalf("unexpected candidate %s", sig.ID)
		}
	}
	for i := 1; i < len(incident.CandidateSignals); i++ {
		if incident.CandidateSignals[i].Timestamp.Before(incident.CandidateSignals[i-1].Timestamp) {
			t.Fatalf("candidates not time-ordered at %d", i)
		}
	}
}

func TestCorrelateExcludesTriggerSignalItself(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trigger := models.TriggerAlert{Service: "checkout", Timestamp: at, Severity: models.SeverityHigh, AlarmID: "alarm-7"}
	signals := &fakeSignals{byService: map[string][]models.Signal{
		"checkout": {
			trigger.Signal(),
			sigAt("log-1", "checkout", models.KindLog, at.Add(-time.Minute), models.SeverityHigh),
		},
	}}
	c := NewCorrelator(nil, signals, modelOf(t, node("checkout", topology.CriticalityMedium)), CorrelatorConfig{})

	incident := c.Correlate(context.Background(), "inc-1", trigger)
	for _, sig := range incident.CandidateSignals {
		if sig.ID == "alarm-7" {
			t.Fatalf("trigger signal leaked into its own candidate set")
		}
	}
	if len(incident.CandidateSignals) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(incident.CandidateSignals))
	}
}

func TestCorrelateStoreUnavailableStillOpensIncident(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signals := &fakeSignals{err: utils.ErrUpstreamUnavailable}
	c := NewCorrelator(nil, signals, modelOf(t, node("cartservice", topology.CriticalityMedium)), CorrelatorConfig{})

	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "cartservice", Timestamp: at, Severity: models.SeverityHigh})
	if incident.ID != "inc-1" || incident.State != models.StateOpen {
		t.Fatalf("incident must still open on store failure: %+v", incident)
	}
	if len(incident.CandidateSignals) != 0 {
		t.Fatalf("expected empty candidate set, got %d", len(incident.CandidateSignals))
	}
	if len(incident.Notes) == 0 || !strings.Contains(incident.Notes[len(incident.Notes)-1], "signal store unavailable") {
		t.Fatalf("expected store-unavailable note, got %v", incident.Notes)
	}
}

func TestCorrelateBudgetExceededIsPartial(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCorrelator(nil, &fakeSignals{}, modelOf(t, node("checkout", topology.CriticalityMedium)), CorrelatorConfig{})
	incident := c.Correlate(ctx, "inc-1", models.TriggerAlert{Service: "checkout", Timestamp: at, Severity: models.SeverityHigh})

	if len(incident.Notes) == 0 || !strings.Contains(incident.Notes[0], "budget exceeded") {
		t.Fatalf("expected budget-exceeded note, got %v", incident.Notes)
	}
}

func TestCorrelateUnknownServiceLimitsToTrigger(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signals := &fakeSignals{byService: map[string][]models.Signal{
		"ghost": {sigAt("log-1", "ghost", models.KindLog, at.Add(-time.Minute), models.SeverityHigh)},
	}}
	topo := modelOf(t, node("frontend", topology.CriticalityLow))
	c := NewCorrelator(nil, signals, topo, CorrelatorConfig{})

	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "ghost", Timestamp: at, Severity: models.SeverityHigh})
	if len(incident.Notes) != 1 || !strings.Contains(incident.Notes[0], "not in topology") {
		t.Fatalf("expected unknown-service note, got %v", incident.Notes)
	}
	if len(incident.CandidateSignals) != 1 {
		t.Fatalf("expected trigger-service signals only, got %d", len(incident.CandidateSignals))
	}
}

func TestCorrelateCapRetainsDeployments(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sigs []models.Signal
	for i := 0; i < 20; i++ {
		sev := models.SeverityLow
		if i < 5 {
			sev = models.SeverityCritical
		}
		sigs = append(sigs, sigAt(fmt.Sprintf("met-%d", i), "checkout", models.KindMetric, at.Add(-time.Duration(i)*time.Minute), sev))
	}
	sigs = append(sigs,
		sigAt("dep-1", "checkout", models.KindDeployment, at.Add(-50*time.Minute), models.SeverityMedium),
		sigAt("dep-2", "checkout", models.KindDeployment, at.Add(-10*time.Minute), models.SeverityMedium),
	)
	signals := &fakeSignals{byService: map[string][]models.Signal{"checkout": sigs}}
	c := NewCorrelator(nil, signals, modelOf(t, node("checkout", topology.CriticalityMedium)), CorrelatorConfig{CandidateCap: 10})

	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "checkout", Timestamp: at, Severity: models.SeverityHigh})
	if len(incident.CandidateSignals) != 10 {
		t.Fatalf("cap not enforced: got %d candidates", len(incident.CandidateSignals))
	}

	deployments := 0
	criticals := 0
	for _, sig := range incident.CandidateSignals {
		if sig.Kind == models.KindDeployment {
			deployments++
		}
		if sig.Severity == models.SeverityCritical {
			criticals++
		}
	}
	if deployments != 2 {
		t.Fatalf("deployments must survive the cap, kept %d of 2", deployments)
	}
	if criticals != 5 {
		t.Fatalf("high-severity signals must be kept first, kept %d of 5", criticals)
	}
}

func TestCorrelateCapSmallerThanDeployments(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sigs []models.Signal
	for i := 0; i < 5; i++ {
		sigs = append(sigs, sigAt(fmt.Sprintf("dep-%d", i), "checkout", models.KindDeployment, at.Add(-time.Duration(i+1)*time.Minute), models.SeverityMedium))
	}
	sigs = append(sigs, sigAt("met-1", "checkout", models.KindMetric, at.Add(-time.Minute), models.SeverityCritical))
	signals := &fakeSignals{byService: map[string][]models.Signal{"checkout": sigs}}
	c := NewCorrelator(nil, signals, modelOf(t, node("checkout", topology.CriticalityMedium)), CorrelatorConfig{CandidateCap: 3})

	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "checkout", Timestamp: at, Severity: models.SeverityHigh})
	for _, sig := range incident.CandidateSignals {
		if sig.Kind != models.KindDeployment {
			t.Fatalf("non-deployment signal %s kept with zero budget", sig.ID)
		}
	}
	if len(incident.CandidateSignals) != 5 {
		t.Fatalf("expected all 5 deployments retained, got %d", len(incident.CandidateSignals))
	}
}

func TestCorrelateTopologyUnloadedStillOpensIncident(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signals := &fakeSignals{byService: map[string][]models.Signal{
		"checkout": {sigAt("log-1", "checkout", models.KindLog, at.Add(-time.Minute), models.SeverityHigh)},
	}}
	c := NewCorrelator(nil, signals, topology.NewModel(nil), CorrelatorConfig{})

	incident := c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "checkout", Timestamp: at, Severity: models.SeverityHigh})
	if len(incident.Notes) != 1 || !strings.Contains(incident.Notes[0], "topology unavailable") {
		t.Fatalf("expected topology-unavailable note, got %v", incident.Notes)
	}
	if len(incident.CandidateSignals) != 1 {
		t.Fatalf("expected trigger-service signals only, got %d", len(incident.CandidateSignals))
	}
}

func TestCorrelatePinsTopologySnapshotAcrossReload(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	topo := modelOf(t,
		node("front", topology.CriticalityLow, "dep"),
		node("dep", topology.CriticalityCritical),
	)
	signals := newGatedSignals(map[string][]models.Signal{
		"front": {sigAt("front-1", "front", models.KindMetric, at.Add(-time.Minute), models.SeverityLow)},
		"dep": {
			sigAt("dep-1", "dep", models.KindMetric, at.Add(-5*time.Minute), models.SeverityLow),
			sigAt("dep-2", "dep", models.KindMetric, at.Add(-6*time.Minute), models.SeverityLow),
		},
	})
	c := NewCorrelator(nil, signals, topo, CorrelatorConfig{HopLimit: 1, CandidateCap: 2})

	done := make(chan models.Incident, 1)
	go func() {
		done <- c.Correlate(context.Background(), "inc-1", models.TriggerAlert{Service: "front", Timestamp: at, Severity: models.SeverityHigh})
	}()

	// A reload that drops dep lands while the correlation is gathering.
	<-signals.entered
	newGraph, err := topology.NewGraph([]topology.ServiceNode{node("front", topology.CriticalityLow)})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	topo.Swap(newGraph)
	close(signals.release)

	incident := <-done
	if len(incident.Notes) != 0 {
		t.Fatalf("unexpected degraded notes: %v", incident.Notes)
	}
	kept := map[string]bool{}
	for _, sig := range incident.CandidateSignals {
		kept[sig.ID] = true
	}
	// Under the graph pinned at correlation start, dep is a critical
	// neighbor and its signals outrank front-1 under the cap.
	if len(kept) != 2 || !kept["dep-1"] || !kept["dep-2"] {
		t.Fatalf("cap ranking must use the graph pinned at correlation start, kept %v", kept)
	}
}
