package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/embedbench/embed-bench/internal/config"
	"github.com/embedbench/embed-bench/internal/pkg/errors"
)

const defaultMaxRuns = 100

// HistoryStore persists finished reports to a Redis sorted set, scored
// by finish time so recent runs are cheap to read back.
type HistoryStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	max    int64
}

// NewHistoryStore connects to Redis and verifies the connection.
func NewHistoryStore(cfg config.HistoryConfig) (*HistoryStore, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfig, "invalid Redis URL", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to connect to Redis", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "embench:"
	}

	return &HistoryStore{
		client: client,
		prefix: prefix,
		ttl:    time.Duration(cfg.TTL) * time.Second,
		max:    defaultMaxRuns,
	}, nil
}

// Save appends a report to the history set and trims entries that have
// aged out or overflowed the run cap.
func (s *HistoryStore) Save(ctx context.Context, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal report", err)
	}

	key := s.runsKey()
	pipe := s.client.Pipeline()

	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(report.FinishedAt.Unix()),
		Member: data,
	})

	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).Unix()
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	}

	// Keep the newest max entries.
	pipe.ZRemRangeByRank(ctx, key, 0, -(s.max + 1))

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to save run history", err)
	}

	return nil
}

// Recent returns up to limit reports, newest first. Entries that fail to
// decode are skipped rather than failing the whole read.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit < 1 {
		return nil, errors.ConfigError(fmt.Sprintf("history limit must be >= 1, got %d", limit))
	}

	members, err := s.client.ZRevRange(ctx, s.runsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to read run history", err)
	}

	reports := make([]Report, 0, len(members))

	for _, m := range members {
		var r Report
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}

	return reports, nil
}

// Close releases the Redis connection.
func (s *HistoryStore) Close() error {
	return s.client.Close()
}

func (s *HistoryStore) runsKey() string {
	return s.prefix + "runs"
}
