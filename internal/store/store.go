// Package store holds the in-process signal buffer: a concurrent,
// time-indexed window of recent observability signals keyed by service.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigilstack/incident-correlator/internal/models"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

// SignalStore buffers recent signals per service in timestamp order.
// Readers copy the matching range under a read lock, so queries never
// observe a half-applied ingest or a concurrent eviction sweep.
type SignalStore struct {
	mu        sync.RWMutex
	byService map[string][]models.Signal
	byID      map[string]string // signal id -> service, for dedup

	retention time.Duration
	skewTol   time.Duration
	clock     func() time.Time
}

// Option customises store construction.
type Option func(*SignalStore)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *SignalStore) { s.clock = clock }
}

// New constructs a SignalStore with the given retention window and
// ingestion clock-skew tolerance.
func New(retention, skewTolerance time.Duration, opts ...Option) *SignalStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if skewTolerance < 0 {
		skewTolerance = 0
	}
	s := &SignalStore{
		byService: make(map[string][]models.Signal),
		byID:      make(map[string]string),
		retention: retention,
		skewTol:   skewTolerance,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates and inserts one signal in timestamp order. Duplicate ids
// are deduplicated with last-write-wins semantics on attributes.
func (s *SignalStore) Ingest(sig models.Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("%w: missing id", utils.ErrInvalidSignal)
	}
	if sig.Service == "" {
		return fmt.Errorf("%w: missing service", utils.ErrInvalidSignal)
	}
	if !sig.Kind.Valid() {
		return fmt.Errorf("%w: unrecognised kind %q", utils.ErrInvalidSignal, sig.Kind)
	}
	if sig.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", utils.ErrInvalidSignal)
	}
	if sig.Timestamp.After(s.clock().Add(s.skewTol)) {
		return fmt.Errorf("%w: timestamp %s beyond clock-skew tolerance", utils.ErrInvalidSignal, sig.Timestamp.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byID[sig.ID]; ok {
		s.removeLocked(prev, sig.ID)
	}
	s.insertLocked(sig)
	return nil
}

// Query returns the time-ordered signals for service matching the kind
// filter within [from, to], inclusive. The result is a snapshot: it is not
// affected by later ingests or sweeps, and re-running the same query with
// no intervening ingestion yields identical results. A nil or empty kind
// filter matches all kinds.
func (s *SignalStore) Query(ctx context.Context, service string, kinds []models.SignalKind, from, to time.Time) ([]models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	signals := s.byService[service]
	lo := sort.Search(len(signals), func(i int) bool { return !signals[i].Timestamp.Before(from) })
	hi := sort.Search(len(signals), func(i int) bool { return signals[i].Timestamp.After(to) })

	var out []models.Signal
	for _, sig := range signals[lo:hi] {
		if !kindMatches(sig.Kind, kinds) {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// Len reports the total number of buffered signals.
func (s *SignalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Sweep evicts signals older than the retention window and returns the
// number removed.
func (s *SignalStore) Sweep() int {
	cutoff := s.clock().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for service, signals := range s.byService {
		keep := sort.Search(len(signals), func(i int) bool { return !signals[i].Timestamp.Before(cutoff) })
		if keep == 0 {
			continue
		}
		for _, sig := range signals[:keep] {
			delete(s.byID, sig.ID)
		}
		evicted += keep
		remaining := signals[keep:]
		if len(remaining) == 0 {
			delete(s.byService, service)
			continue
		}
		s.byService[service] = append([]models.Signal(nil), remaining...)
	}
	return evicted
}

// StartSweeper runs the eviction sweep at the given interval until the
// context is cancelled. onEvict (optional) observes each sweep's count.
func (s *SignalStore) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger, onEvict func(int)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					logger.Debug("signal store sweep", slog.Int("evicted", n))
					if onEvict != nil {
						onEvict(n)
					}
				}
			}
		}
	}()
}

// insertLocked places sig at its timestamp-ordered position.
func (s *SignalStore) insertLocked(sig models.Signal) {
	signals := s.byService[sig.Service]
	pos := sort.Search(len(signals), func(i int) bool { return signals[i].Timestamp.After(sig.Timestamp) })
	signals = append(signals, models.Signal{})
	copy(signals[pos+1:], signals[pos:])
	signals[pos] = sig
	s.byService[sig.Service] = signals
	s.byID[sig.ID] = sig.Service
}

func (s *SignalStore) removeLocked(service, id string) {
	signals := s.byService[service]
	for i, sig := range signals {
		if sig.ID == id {
			s.byService[service] = append(signals[:i:i], signals[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
}

func kindMatches(kind models.SignalKind, filter []models.SignalKind) bool {
	if len(filter) == 0 {
		return true
	}
	for _, k := range filter {
		if k == kind {
			return true
		}
	}
	return false
}
