// Package archive persists finished run traces to Redis so recent runs can be
// inspected after the fact and degraded runs can be picked up for review.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dermalens/conductor/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// TTLHours bounds how long individual traces are kept. 0 means 72h.
	TTLHours int `yaml:"ttl_hours"`
}

// Store is a Redis-backed trace archive.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Key helpers
func traceKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

const (
	completedIndex = "runs:completed"
	degradedIndex  = "runs:degraded"
)

// Save archives a finished trace: the full record under a TTL'd key plus
// sorted-set indexes by completion time. Degraded runs (skipped steps, unmet
// goal) are additionally indexed for review.
func (s *Store) Save(ctx context.Context, t *domain.Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	if err := s.rdb.Set(ctx, traceKey(t.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store trace: %w", err)
	}

	score := float64(t.FinishedAt.Unix())
	if err := s.rdb.ZAdd(ctx, completedIndex, redis.Z{Score: score, Member: t.RunID}).Err(); err != nil {
		return fmt.Errorf("failed to index trace: %w", err)
	}

	if t.Degraded() {
		if err := s.rdb.ZAdd(ctx, degradedIndex, redis.Z{Score: score, Member: t.RunID}).Err(); err != nil {
			return fmt.Errorf("failed to index degraded trace: %w", err)
		}
	}
	return nil
}

// Get retrieves an archived trace by run id. Returns nil when the trace has
// expired or never existed.
func (s *Store) Get(ctx context.Context, runID string) (*domain.Trace, error) {
	data, err := s.rdb.Get(ctx, traceKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}

	var t domain.Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	return &t, nil
}

// Recent returns the newest n archived run ids, most recent first.
func (s *Store) Recent(ctx context.Context, n int) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, completedIndex, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent runs: %w", err)
	}
	return ids, nil
}

// Degraded returns the newest n degraded run ids, most recent first.
func (s *Store) Degraded(ctx context.Context, n int) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, degradedIndex, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list degraded runs: %w", err)
	}
	return ids, nil
}
