package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

const (
	incidentKeyPrefix = "incident:"
	indexKeyPrefix    = "incidents:" // per-service and global id lists
	globalIndex       = "_all"
	// indexDepth bounds the per-service listing index; records past this
	// depth are still readable by id until their TTL lapses.
	indexDepth = 1000
)

// ValkeyConfig holds connection parameters for the Valkey/Redis-compatible
// history backend.
type ValkeyConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

// ValkeyStore persists incidents as JSON values with TTL, with per-service
// id lists for listing.
type ValkeyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewValkeyStore connects to the configured backend and pings it to fail
// fast on bad credentials or connectivity.
func NewValkeyStore(ctx context.Context, cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("history valkey addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("history valkey ping: %w", err)
	}
	return &ValkeyStore{client: client, ttl: cfg.TTL}, nil
}

// NewValkeyStoreWithClient wraps an existing client, for tests.
func NewValkeyStoreWithClient(client *redis.Client, ttl time.Duration) *ValkeyStore {
	return &ValkeyStore{client: client, ttl: ttl}
}

// Save stores the incident JSON and pushes its id onto the service and
// global indexes.
func (v *ValkeyStore) Save(ctx context.Context, incident models.Incident) error {
	if incident.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	key := incidentKeyPrefix + incident.ID
	existed, err := v.client.Exists(ctx, key).Result()
	if err != nil {
		return utils.NewAppError("history.save", "check incident key", err)
	}

	pipe := v.client.TxPipeline()
	pipe.Set(ctx, key, payload, v.ttl)
	// Re-saving (state transitions) must not duplicate index entries.
	if existed == 0 {
		for _, index := range []string{globalIndex, incident.Trigger.Service} {
			indexKey := indexKeyPrefix + index
			pipe.LPush(ctx, indexKey, incident.ID)
			pipe.LTrim(ctx, indexKey, 0, indexDepth-1)
			if v.ttl > 0 {
				pipe.Expire(ctx, indexKey, v.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return utils.NewAppError("history.save", "write incident and indexes", err)
	}
	return nil
}

// Get returns the incident by id, or ErrNotFound.
func (v *ValkeyStore) Get(ctx context.Context, id string) (models.Incident, error) {
	payload, err := v.client.Get(ctx, incidentKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, utils.ErrNotFound)
	}
	if err != nil {
		return models.Incident{}, utils.NewAppError("history.get", "read incident", err)
	}

	var incident models.Incident
	if err := json.Unmarshal(payload, &incident); err != nil {
		return models.Incident{}, fmt.Errorf("unmarshal incident %s: %w", id, err)
	}
	return incident, nil
}

// List returns incidents newest-first from the service index (or the
// global index when service is empty), up to limit.
func (v *ValkeyStore) List(ctx context.Context, service string, limit int) ([]models.Incident, error) {
	index := service
	if index == "" {
		index = globalIndex
	}
	if limit <= 0 || limit > indexDepth {
		limit = indexDepth
	}

	ids, err := v.client.LRange(ctx, indexKeyPrefix+index, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, utils.NewAppError("history.list", "read index", err)
	}

	incidents := make([]models.Incident, 0, len(ids))
	for _, id := range ids {
		incident, err := v.Get(ctx, id)
		if errors.Is(err, utils.ErrNotFound) {
			continue // expired record still referenced by the index
		}
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

// Close releases the client connection.
func (v *ValkeyStore) Close() error {
	return v.client.Close()
}
