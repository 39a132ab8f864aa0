package weather

import (
	"context"
	"time"
)

// Fetcher abstracts the upstream weather source (Open-Meteo).
type Fetcher interface {
	FetchCurrent(ctx context.Context, loc Coordinates) (Reading, error)
}

// LatestReader returns the most recent stored record, or ErrNoRecords.
type LatestReader interface {
	Latest(ctx context.Context) (Record, error)
}

// Loader persists one record and returns it with its assigned ID.
type Loader interface {
	Load(ctx context.Context, rec Record) (Record, error)
}

// Store is the contract the SQL store (and the in-memory store) must satisfy.
type Store interface {
	LatestReader
	Loader
	Range(ctx context.Context, from, to time.Time, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}
