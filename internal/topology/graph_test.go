package topology

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vigilstack/incident-correlator/internal/utils"
)

func demoNodes() []ServiceNode {
	return []ServiceNode{
		{Name: "frontend", Criticality: CriticalityHigh, Dependencies: []string{"checkout", "cart"}},
		{Name: "checkout", Criticality: CriticalityCritical, Dependencies: []string{"payments", "cart"}},
		{Name: "payments", Criticality: CriticalityCritical},
		{Name: "cart", Criticality: CriticalityHigh, Dependencies: []string{"cart-redis"}},
		{Name: "cart-redis", Criticality: CriticalityMedium},
	}
}

func TestNewGraphRejectsBadNodes(t *testing.T) {
	if _, err := NewGraph([]ServiceNode{{Name: ""}}); err == nil {
		t.Fatalf("expected error for empty node name")
	}
	if _, err := NewGraph([]ServiceNode{{Name: "a"}, {Name: "a"}}); err == nil {
		t.Fatalf("expected error for duplicate node name")
	}
}

func TestNeighborsRespectsHopLimit(t *testing.T) {
	g, err := NewGraph(demoNodes())
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	cases := []struct {
		origin string
		hops   int
		want   []string
	}{
		{"payments", 0, nil},
		{"payments", 1, []string{"checkout"}},
		{"payments", 2, []string{"cart", "checkout", "frontend"}},
		{"cart-redis", 2, []string{"cart", "checkout", "frontend"}},
		{"frontend", 1, []string{"cart", "checkout"}},
	}
	for _, tc := range cases {
		got := g.Neighbors(tc.origin, tc.hops)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Neighbors(%s, %d) = %v, want %v", tc.origin, tc.hops, got, tc.want)
		}
	}
}

func TestNeighborsTerminatesOnCycles(t *testing.T) {
	g, err := NewGraph([]ServiceNode{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"c"}},
		{Name: "c", Dependencies: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	got := g.Neighbors("a", 10)
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighbors on cycle = %v, want %v", got, want)
	}
}

func TestNeighborsReachesUnregisteredServices(t *testing.T) {
	g, err := NewGraph([]ServiceNode{
		{Name: "checkout", Dependencies: []string{"legacy-ledger"}},
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	got := g.Neighbors("checkout", 1)
	if !reflect.DeepEqual(got, []string{"legacy-ledger"}) {
		t.Fatalf("expected edge to unregistered service, got %v", got)
	}
	if got := g.Neighbors("legacy-ledger", 1); !reflect.DeepEqual(got, []string{"checkout"}) {
		t.Fatalf("expected reverse edge from unregistered service, got %v", got)
	}
}

func TestModelUnloadedDegrades(t *testing.T) {
	m := NewModel(nil)
	if _, err := m.Snapshot(); !errors.Is(err, utils.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := m.Neighbors("checkout", 2); err == nil {
		t.Fatalf("expected error from unloaded model")
	}
}

func TestModelCriticalityUnknownService(t *testing.T) {
	m := NewModel(nil)
	g, err := NewGraph(demoNodes())
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	m.Swap(g)

	crit, err := m.Criticality("ghost")
	if !errors.Is(err, utils.ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	if crit != CriticalityLow {
		t.Fatalf("unknown service must rank lowest, got %s", crit)
	}

	crit, err = m.Criticality("checkout")
	if err != nil || crit != CriticalityCritical {
		t.Fatalf("Criticality(checkout) = %s, %v", crit, err)
	}
}

func TestReloadFileSwapsWholeGraph(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")

	write := func(doc string) {
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write topology: %v", err)
		}
	}

	write("services:\n  - name: checkout\n    criticality: high\n    dependencies: [payments]\n  - name: payments\n    criticality: critical\n")
	m := NewModel(nil)
	if err := m.ReloadFile(path); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	before, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	write("services:\n  - name: checkout\n    criticality: high\n")
	if err := m.ReloadFile(path); err != nil {
		t.Fatalf("second reload: %v", err)
	}

	// The old snapshot is untouched; the new one reflects the reload.
	if got := before.Neighbors("checkout", 1); !reflect.DeepEqual(got, []string{"payments"}) {
		t.Fatalf("old snapshot mutated: %v", got)
	}
	after, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := after.Neighbors("checkout", 1); len(got) != 0 {
		t.Fatalf("new snapshot still has removed edge: %v", got)
	}
}

func TestLoadFileRejectsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(path, []byte("services: []\n"), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for topology with no services")
	}
}
