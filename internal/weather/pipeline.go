package weather

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Pipeline runs the Extract, Transform and Load steps for one location.
type Pipeline struct {
	fetcher  Fetcher
	loader   Loader
	location Coordinates
	now      func() time.Time
}

// NewPipeline creates a new Pipeline.
func NewPipeline(fetcher Fetcher, loader Loader, location Coordinates) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		loader:   loader,
		location: location,
		now:      time.Now,
	}
}

// Extract fetches the current reading. Failures are fatal to the run.
func (p *Pipeline) Extract(ctx context.Context) (Reading, error) {
	r, err := p.fetcher.FetchCurrent(ctx, p.location)
	if err != nil {
		log.Error().Err(err).Str("location", p.location.String()).Msg("error extracting weather data")
		return Reading{}, err
	}

	log.Info().
		Float64("temperature", r.Temperature).
		Float64("windspeed", r.WindSpeed).
		Float64("winddirection", r.WindDirection).
		Int("weathercode", r.WeatherCode).
		Msg("extracted weather data")
	return r, nil
}

// Transform maps a reading to a storable record stamped with the current UTC
// wall-clock time.
func (p *Pipeline) Transform(r Reading) Record {
	rec := Record{
		Timestamp:     p.now().UTC(),
		Temperature:   r.Temperature,
		WindSpeed:     r.WindSpeed,
		WindDirection: r.WindDirection,
		WeatherCode:   r.WeatherCode,
	}
	log.Debug().Time("timestamp", rec.Timestamp).Msg("transformed weather data")
	return rec
}

// Load persists the record through the configured Loader.
func (p *Pipeline) Load(ctx context.Context, rec Record) (Record, error) {
	saved, err := p.loader.Load(ctx, rec)
	if err != nil {
		log.Error().Err(err).Msg("error loading weather data")
		return Record{}, err
	}

	log.Info().
		Int64("record_id", saved.ID).
		Float64("temperature", saved.Temperature).
		Time("timestamp", saved.Timestamp).
		Msg("successfully inserted weather data")
	return saved, nil
}

// Run executes Extract, Transform and Load in order and stops at the first error.
func (p *Pipeline) Run(ctx context.Context) (Record, error) {
	r, err := p.Extract(ctx)
	if err != nil {
		return Record{}, err
	}
	return p.Load(ctx, p.Transform(r))
}
