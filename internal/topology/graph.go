// Package topology maintains the service dependency graph and per-service
// metadata. The graph is immutable once built; reloads swap in a whole new
// graph so in-flight correlations always see a consistent view.
package topology

import (
	"fmt"
	"sort"

	"github.com/vigilstack/incident-correlator/internal/utils"
)

// Criticality is the configured business impact level of a service.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank orders criticalities; unknown values rank lowest.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 0
	}
}

// ServiceNode describes one service. Dependency edges are name references,
// never embedded nodes, so cyclic configurations cannot create cyclic
// ownership.
type ServiceNode struct {
	Name                 string      `yaml:"name"`
	Criticality          Criticality `yaml:"criticality"`
	Owner                string      `yaml:"owner"`
	SLA                  string      `yaml:"sla"`
	Dependencies         []string    `yaml:"dependencies"`
	ExternalDependencies []string    `yaml:"external_dependencies"`
}

// Graph is an immutable snapshot of the dependency graph with adjacency in
// both directions precomputed.
type Graph struct {
	nodes map[string]ServiceNode
	out   map[string][]string // service -> its dependencies
	in    map[string][]string // service -> its dependents
}

// NewGraph builds a Graph from the given nodes. Dependencies naming
// unregistered services are kept as edges so traversal can still reach
// them; they simply have no metadata.
func NewGraph(nodes []ServiceNode) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]ServiceNode, len(nodes)),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
	for _, node := range nodes {
		if node.Name == "" {
			return nil, fmt.Errorf("topology node with empty name")
		}
		if _, dup := g.nodes[node.Name]; dup {
			return nil, fmt.Errorf("duplicate topology node %q", node.Name)
		}
		g.nodes[node.Name] = node
	}
	for _, node := range nodes {
		for _, dep := range node.Dependencies {
			if dep == "" || dep == node.Name {
				continue
			}
			g.out[node.Name] = append(g.out[node.Name], dep)
			g.in[dep] = append(g.in[dep], node.Name)
		}
	}
	return g, nil
}

// Node returns the metadata for a service name.
func (g *Graph) Node(name string) (ServiceNode, bool) {
	node, ok := g.nodes[name]
	return node, ok
}

// Criticality returns the configured level for a service. Unknown services
// yield ErrUnknownService; callers treat them as lowest priority and
// continue.
func (g *Graph) Criticality(service string) (Criticality, error) {
	node, ok := g.nodes[service]
	if !ok {
		return CriticalityLow, fmt.Errorf("%w: %s", utils.ErrUnknownService, service)
	}
	return node.Criticality, nil
}

// Services lists all registered service names, sorted.
func (g *Graph) Services() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Neighbors returns every service reachable from origin within hops edges,
// traversing both dependency and dependent directions. A visited set bounds
// the walk, so cyclic or malformed graphs still terminate. The origin
// itself is not included.
func (g *Graph) Neighbors(origin string, hops int) []string {
	if hops <= 0 {
		return nil
	}

	visited := map[string]struct{}{origin: {}}
	frontier := []string{origin}

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []string
		for _, svc := range frontier {
			for _, adj := range g.adjacent(svc) {
				if _, seen := visited[adj]; seen {
					continue
				}
				visited[adj] = struct{}{}
				next = append(next, adj)
			}
		}
		frontier = next
	}

	delete(visited, origin)
	neighbors := make([]string, 0, len(visited))
	for svc := range visited {
		neighbors = append(neighbors, svc)
	}
	sort.Strings(neighbors)
	return neighbors
}

func (g *Graph) adjacent(service string) []string {
	adj := make([]string, 0, len(g.out[service])+len(g.in[service]))
	adj = append(adj, g.out[service]...)
	adj = append(adj, g.in[service]...)
	return adj
}
