package topology

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/incident-correlator/internal/utils"
)

// Model holds the current topology graph behind an atomic pointer. Readers
// always see a fully-built graph; Swap replaces it wholesale on reload.
type Model struct {
	current atomic.Pointer[Graph]
	logger  *slog.Logger
}

// NewModel constructs an empty Model. Callers load a graph with Swap or
// ReloadFile before correlation starts; lookups against an unloaded model
// degrade rather than fail hard.
func NewModel(logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{logger: logger}
}

// Swap atomically replaces the current graph.
func (m *Model) Swap(g *Graph) {
	m.current.Store(g)
}

// Snapshot returns the current graph, or an error when no topology has been
// loaded yet.
func (m *Model) Snapshot() (*Graph, error) {
	g := m.current.Load()
	if g == nil {
		return nil, fmt.Errorf("%w: topology not loaded", utils.ErrUpstreamUnavailable)
	}
	return g, nil
}

// Neighbors returns the services within hops edges of service, in either
// direction. An unknown origin still traverses whatever edges reference it.
func (m *Model) Neighbors(service string, hops int) ([]string, error) {
	g, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	return g.Neighbors(service, hops), nil
}

// Criticality looks up the configured level in the current graph.
func (m *Model) Criticality(service string) (Criticality, error) {
	g, err := m.Snapshot()
	if err != nil {
		return CriticalityLow, err
	}
	return g.Criticality(service)
}

// ReloadFile loads the topology document at path and swaps it in.
func (m *Model) ReloadFile(path string) error {
	g, err := LoadFile(path)
	if err != nil {
		return err
	}
	m.Swap(g)
	m.logger.Info("topology loaded", slog.String("path", path), slog.Int("services", len(g.nodes)))
	return nil
}

// topologyFile is the YAML root of the declarative dependency document.
type topologyFile struct {
	Services []ServiceNode `yaml:"services"`
}

// LoadFile parses a topology document into an immutable Graph.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var doc topologyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if len(doc.Services) == 0 {
		return nil, fmt.Errorf("topology %s defines no services", path)
	}
	return NewGraph(doc.Services)
}
