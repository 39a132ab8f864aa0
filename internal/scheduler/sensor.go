package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-etl/internal/weather"
)

// ErrSensorTimeout is returned when no significant change shows up before the sensor times out.
var ErrSensorTimeout = errors.New("sensor timed out waiting for a significant temperature change")

// Detector decides whether the pipeline should run.
type Detector interface {
	Check(ctx context.Context) (weather.Decision, error)
}

// Sensor pokes a Detector on a fixed interval until it fires or times out.
type Sensor struct {
	detector Detector
	interval time.Duration
	timeout  time.Duration
}

// NewSensor creates a new Sensor.
func NewSensor(detector Detector, interval, timeout time.Duration) *Sensor {
	return &Sensor{
		detector: detector,
		interval: interval,
		timeout:  timeout,
	}
}

// Wait pokes immediately and then every interval. It returns the first
// positive decision, ErrSensorTimeout, or the parent context's error. A
// positive budget shorter than the timeout ends the wait sooner.
func (s *Sensor) Wait(ctx context.Context, budget time.Duration, logger zerolog.Logger) (weather.Decision, error) {
	timeout := s.timeout
	if budget > 0 && budget < timeout {
		timeout = budget
	}
	pokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for poke := 1; ; poke++ {
		dec, err := s.detector.Check(pokeCtx)
		switch {
		case err != nil:
			logger.Warn().Err(err).Int("poke", poke).Msg("sensor check failed")
		case dec.Changed:
			logger.Info().
				Int("poke", poke).
				Bool("bootstrap", dec.Bootstrap).
				Float64("delta", dec.Delta).
				Msg("sensor fired")
			return dec, nil
		default:
			logger.Debug().Int("poke", poke).Dur("next_in", s.interval).Msg("no significant change; poking again")
		}

		select {
		case <-pokeCtx.Done():
			if ctx.Err() != nil {
				return weather.Decision{}, ctx.Err()
			}
			return weather.Decision{}, ErrSensorTimeout
		case <-ticker.C:
		}
	}
}
