package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-etl/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// It backs memory:// connections and tests.
type MemoryStore struct {
	mu sync.RWMutex

	records []weather.Record // ordered by insertion
	nextID  int64

	// retention configuration
	maxHistory int // max number of records kept (0 = unlimited)
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{maxHistory: maxHistory}
}

// Load appends a record, assigns it an ID and enforces retention.
func (s *MemoryStore) Load(ctx context.Context, rec weather.Record) (weather.Record, error) {
	if err := ctx.Err(); err != nil {
		return weather.Record{}, &weather.LoadError{Op: "insert", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	rec.Timestamp = rec.Timestamp.UTC()
	s.records = append(s.records, rec)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.records) > s.maxHistory {
		over := len(s.records) - s.maxHistory
		s.records = s.records[over:]
	}
	return rec, nil
}

// Latest returns the record with the newest timestamp.
func (s *MemoryStore) Latest(ctx context.Context) (weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return weather.Record{}, weather.ErrNoRecords
	}

	latest := s.records[0]
	for _, r := range s.records[1:] {
		if !r.Timestamp.Before(latest.Timestamp) {
			latest = r
		}
	}
	return latest, nil
}

// Range returns up to limit records between from and to (inclusive), oldest first.
func (s *MemoryStore) Range(ctx context.Context, from, to time.Time, limit int) ([]weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Record
	for _, r := range s.records {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			result = append(result, r)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of retained records.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}
