package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"parley/pkg/batch"

	"github.com/redis/go-redis/v9"
)

const statsHashKey = "parley:stats:events"

// StatsService counts relayed events per event name. Counts accumulate
// locally; with a Redis client configured they also flush to a shared hash
// in batches, so the stats endpoint can report cluster-wide totals without
// a Redis round trip per event.
type StatsService struct {
	mu     sync.RWMutex
	counts map[string]int64

	client  *redis.Client
	batcher *batch.Batcher
}

// statIncrement is one batched counter bump.
type statIncrement struct {
	client *redis.Client
	event  string
	delta  int64
}

// Execute applies a single increment.
func (op *statIncrement) Execute(ctx context.Context) error {
	return op.client.HIncrBy(ctx, statsHashKey, op.event, op.delta).Err()
}

// statsBatchProcessor collapses a batch into one HINCRBY per event.
type statsBatchProcessor struct {
	client *redis.Client
}

// ProcessBatch processes a batch of operations
func (p *statsBatchProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	deltas := make(map[string]int64)
	for _, op := range operations {
		if inc, ok := op.(*statIncrement); ok {
			deltas[inc.event] += inc.delta
		}
	}

	for event, delta := range deltas {
		if err := p.client.HIncrBy(ctx, statsHashKey, event, delta).Err(); err != nil {
			return err
		}
	}
	return nil
}

// NewStatsService creates a stats service. client may be nil for
// single-instance deployments; counts then stay local.
func NewStatsService(client *redis.Client, batchSize int, batchInterval time.Duration) *StatsService {
	s := &StatsService{
		counts: make(map[string]int64),
		client: client,
	}
	if client != nil {
		s.batcher = batch.NewBatcher(batchSize, batchInterval, &statsBatchProcessor{client: client})
	}
	return s
}

// Record counts one handled event.
func (s *StatsService) Record(event string) {
	s.mu.Lock()
	s.counts[event]++
	s.mu.Unlock()

	if s.batcher != nil {
		_ = s.batcher.Add(&statIncrement{client: s.client, event: event, delta: 1})
	}
}

// Local returns this instance's counters.
func (s *StatsService) Local() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.counts))
	for event, count := range s.counts {
		out[event] = count
	}
	return out
}

// Cluster returns the shared counters, falling back to local ones when no
// Redis client is configured.
func (s *StatsService) Cluster(ctx context.Context) (map[string]int64, error) {
	if s.client == nil {
		return s.Local(), nil
	}

	raw, err := s.client.HGetAll(ctx, statsHashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for event, v := range raw {
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[event] = count
	}
	return out, nil
}

// Flush pushes all pending increments to Redis.
func (s *StatsService) Flush(ctx context.Context) error {
	if s.batcher == nil {
		return nil
	}
	return s.batcher.Flush(ctx)
}

// Stop stops the batcher
func (s *StatsService) Stop() {
	if s.batcher != nil {
		s.batcher.Stop()
	}
}
