package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dairylab/lactra/pkg/analysis"
)

// RedisStore implements Store on Redis, letting multiple lactra instances
// share analysis reports. Reports expire after a configurable TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore connects to Redis and verifies the connection.
//
// addr is the server address ("localhost:6379"), password may be empty, db
// is the database number and ttl the report expiry (0 selects 24 hours —
// herd records are typically re-synced daily).
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("storage: redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("storage: redis database number must be >= 0")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// validAnimalName restricts animal identifiers to characters safe inside a
// Redis key.
func validAnimalName(animal string) error {
	if animal == "" {
		return errors.New("storage: animal name required")
	}
	for _, c := range animal {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("storage: invalid animal name %q: only alphanumeric, hyphens, and underscores allowed", animal)
		}
	}
	return nil
}

func reportKey(animal string) string {
	return "lactra:report:" + animal
}

// Put stores a report under "lactra:report:<animal>" with the configured TTL.
func (r *RedisStore) Put(ctx context.Context, report analysis.Report) error {
	if err := validAnimalName(report.Animal); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("storage: marshal report: %w", err)
	}

	if err := r.client.Set(ctx, reportKey(report.Animal), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storage: store report in redis: %w", err)
	}
	return nil
}

// GetLatest retrieves the stored report for an animal. A missing key is
// reported as found=false, not as an error.
func (r *RedisStore) GetLatest(ctx context.Context, animal string) (analysis.Report, bool, error) {
	if err := validAnimalName(animal); err != nil {
		return analysis.Report{}, false, err
	}

	data, err := r.client.Get(ctx, reportKey(animal)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return analysis.Report{}, false, nil
		}
		return analysis.Report{}, false, fmt.Errorf("storage: get report from redis: %w", err)
	}

	var report analysis.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return analysis.Report{}, false, fmt.Errorf("storage: unmarshal report: %w", err)
	}
	return report, true, nil
}

// Close closes the Redis client. Safe to call multiple times.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
