package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dairylab/lactra/pkg/analysis"
)

// MemoryStore keeps the latest report per animal in a map.
// It is safe for concurrent use by multiple goroutines.
//
// When a TTL is configured, a background goroutine removes reports older
// than the TTL. Use RedisStore instead when reports must survive restarts
// or be shared between instances.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]analysis.Report

	ttl         time.Duration
	ticker      *time.Ticker
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates an in-memory report store without expiry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]analysis.Report)}
}

// NewMemoryStoreWithTTL creates an in-memory store whose reports expire
// after ttl. cleanupInterval controls how often expired reports are swept;
// values <= 0 default to one minute. Stop must be called to release the
// sweep goroutine.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("storage: TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		reports:     make(map[string]analysis.Report),
		ttl:         ttl,
		ticker:      time.NewTicker(cleanupInterval),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.runCleanup()
	return s
}

// Stop shuts down the sweep goroutine. Safe to call more than once, and a
// no-op for stores without TTL.
func (s *MemoryStore) Stop() {
	if s.ticker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.ticker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for animal, report := range s.reports {
		if now.Sub(report.GeneratedAt) > s.ttl {
			delete(s.reports, animal)
		}
	}
}

// Put stores a report keyed by its Animal field.
func (s *MemoryStore) Put(ctx context.Context, report analysis.Report) error {
	if report.Animal == "" {
		return errors.New("storage: report animal cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Animal] = report
	return nil
}

// GetLatest returns the stored report for an animal, if any.
func (s *MemoryStore) GetLatest(ctx context.Context, animal string) (analysis.Report, bool, error) {
	select {
	case <-ctx.Done():
		return analysis.Report{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report, found := s.reports[animal]
	return report, found, nil
}

// Len reports how many animals currently have a stored report.
// Mostly useful in tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Delete removes an animal's report, returning whether one existed.
func (s *MemoryStore) Delete(animal string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.reports[animal]
	delete(s.reports, animal)
	return existed
}
