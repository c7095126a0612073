// Package history persists incident records so responders can fetch,
// list, and transition them after the pipeline hands off.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

// Store abstracts incident persistence. Implementations must treat the
// incident value as read-only after Save.
type Store interface {
	Save(ctx context.Context, incident models.Incident) error
	Get(ctx context.Context, id string) (models.Incident, error)
	List(ctx context.Context, service string, limit int) ([]models.Incident, error)
	Close() error
}

// MemoryStore is the default in-process Store with TTL-based expiry.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	clock func() time.Time
}

type memoryItem struct {
	incident  models.Incident
	expiresAt time.Time
}

// NewMemoryStore constructs a MemoryStore; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		clock: time.Now,
	}
}

// Save stores or replaces the incident record.
func (m *MemoryStore) Save(_ context.Context, incident models.Incident) error {
	if incident.ID == "" {
		return fmt.Errorf("incident id is required")
	}

	var expires time.Time
	if m.ttl > 0 {
		expires = m.clock().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[incident.ID] = memoryItem{incident: incident, expiresAt: expires}
	return nil
}

// Get returns the incident by id, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (models.Incident, error) {
	m.mu.RLock()
	item, ok := m.items[id]
	m.mu.RUnlock()

	if !ok || m.expired(item) {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, utils.ErrNotFound)
	}
	return item.incident, nil
}

// List returns incidents newest-first, optionally filtered by trigger
// service, up to limit.
func (m *MemoryStore) List(_ context.Context, service string, limit int) ([]models.Incident, error) {
	m.mu.RLock()
	incidents := make([]models.Incident, 0, len(m.items))
	for _, item := range m.items {
		if m.expired(item) {
			continue
		}
		if service != "" && item.incident.Trigger.Service != service {
			continue
		}
		incidents = append(incidents, item.incident)
	}
	m.mu.RUnlock()

	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].OpenedAt.After(incidents[j].OpenedAt)
	})
	if limit > 0 && len(incidents) > limit {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && m.clock().After(item.expiresAt)
}
