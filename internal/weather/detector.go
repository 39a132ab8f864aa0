package weather

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the temperature delta (°C) that counts as significant.
const DefaultThreshold = 1.0

// FallbackPolicy decides what a failed check resolves to. It receives the
// FetchError or QueryError that interrupted the check.
type FallbackPolicy func(err error) (bool, error)

// FailSafe treats any failure as "no significant change" so a transient fault
// only skips one poll.
func FailSafe(err error) (bool, error) {
	log.Warn().Err(err).Msg("change check failed; assuming no significant change")
	return false, nil
}

// FailFast surfaces the failure to the caller.
func FailFast(err error) (bool, error) {
	return false, err
}

// DetectorConfig holds the detector's inputs.
type DetectorConfig struct {
	Location  Coordinates
	Threshold float64
}

// ChangeDetector compares a fresh reading against the last stored record.
type ChangeDetector struct {
	fetcher  Fetcher
	store    LatestReader
	cfg      DetectorConfig
	fallback FallbackPolicy
}

// DetectorOption customises a ChangeDetector.
type DetectorOption func(*ChangeDetector)

// WithFallback replaces the default FailSafe policy.
func WithFallback(p FallbackPolicy) DetectorOption {
	return func(d *ChangeDetector) {
		if p != nil {
			d.fallback = p
		}
	}
}

// NewChangeDetector creates a new ChangeDetector.
func NewChangeDetector(fetcher Fetcher, store LatestReader, cfg DetectorConfig, opts ...DetectorOption) *ChangeDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	d := &ChangeDetector{
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
		fallback: FailSafe,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the configured threshold.
func (d *ChangeDetector) Threshold() float64 {
	return d.cfg.Threshold
}

// WithThreshold returns a copy of the detector using another threshold.
func (d *ChangeDetector) WithThreshold(threshold float64) *ChangeDetector {
	c := *d
	if threshold > 0 {
		c.cfg.Threshold = threshold
	}
	return &c
}

// WithPolicy returns a copy of the detector using another fallback policy.
func (d *ChangeDetector) WithPolicy(p FallbackPolicy) *ChangeDetector {
	c := *d
	WithFallback(p)(&c)
	return &c
}

// Check fetches the current reading and compares it with the latest stored
// record. Failures go through the fallback policy.
func (d *ChangeDetector) Check(ctx context.Context) (Decision, error) {
	dec := Decision{Threshold: d.cfg.Threshold}

	current, err := d.fetcher.FetchCurrent(ctx, d.cfg.Location)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Err: err}
		}
		return d.fail(dec, err)
	}
	dec.Current = current.Temperature

	last, err := d.store.Latest(ctx)
	if errors.Is(err, ErrNoRecords) {
		log.Info().
			Float64("temperature", current.Temperature).
			Msg("no previous temperature records found; starting to record")
		dec.Changed = true
		dec.Bootstrap = true
		return dec, nil
	}
	if err != nil {
		var qe *QueryError
		if !errors.As(err, &qe) {
			err = &QueryError{Err: err}
		}
		return d.fail(dec, err)
	}

	dec.Previous = last.Temperature
	dec.Delta = math.Abs(current.Temperature - last.Temperature)
	dec.Changed = dec.Delta >= d.cfg.Threshold

	log.Info().
		Float64("current", dec.Current).
		Float64("previous", dec.Previous).
		Float64("delta", dec.Delta).
		Float64("threshold", dec.Threshold).
		Bool("changed", dec.Changed).
		Msg("temperature change checked")

	return dec, nil
}

// HasSignificantChange reports only the boolean outcome of Check.
func (d *ChangeDetector) HasSignificantChange(ctx context.Context) bool {
	dec, err := d.Check(ctx)
	if err != nil {
		return false
	}
	return dec.Changed
}

func (d *ChangeDetector) fail(dec Decision, err error) (Decision, error) {
	dec.Err = err
	changed, perr := d.fallback(err)
	dec.Changed = changed
	return dec, perr
}
