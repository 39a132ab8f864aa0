package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/i474232898/weather-etl/internal/weather"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	if _, err := s.Latest(ctx); !errors.Is(err, weather.ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}

	now := time.Now().UTC()
	first, _ := s.Load(ctx, makeRecord(1, now))
	_, _ = s.Load(ctx, makeRecord(2, now.Add(-time.Hour)))

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("expected newest-by-timestamp record %d, got %d", first.ID, latest.ID)
	}

	got, _ := s.Range(ctx, now.Add(-2*time.Hour), now, 10)
	if len(got) != 2 || got[0].Temperature != 2 {
		t.Errorf("unexpected range result: %+v", got)
	}
}

func TestMemoryStore_Retention(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = s.Load(ctx, makeRecord(float64(i), time.Now()))
	}

	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 retained records, got %d", n)
	}
	latest, _ := s.Latest(ctx)
	if latest.ID != 5 {
		t.Errorf("expected latest ID 5, got %d", latest.ID)
	}
}
