package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-etl/internal/weather"
)

var (
	// ErrRunInProgress is returned when a cycle is requested while another is active.
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	// ErrStopped is returned when a cycle is requested after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// Pipeline runs Extract, Transform and Load once.
type Pipeline interface {
	Run(ctx context.Context) (weather.Record, error)
}

// Notifier announces freshly loaded records.
type Notifier interface {
	PublishDatasetUpdate(ctx context.Context, runID string, rec weather.Record) error
}

// Options configures the Scheduler.
type Options struct {
	Schedule      string // cron expression, e.g. @hourly
	PokeInterval  time.Duration
	SensorTimeout time.Duration
	RunOnStart    bool
}

// Scheduler triggers the sensor-gated pipeline on a cron schedule and
// guarantees at most one active run.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sensor    *Sensor
	pipeline  Pipeline
	notifier  Notifier
	monitor   *Monitor
	opts      Options

	// next reports the first tick after t; nil when the schedule does not parse.
	next func(t time.Time) time.Time
	now  func() time.Time

	running sync.Mutex

	// mu orders start against Stop so no run is added after Stop waits.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new Scheduler. notifier may be nil.
func New(opts Options, detector Detector, pipeline Pipeline, notifier Notifier) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	var next func(time.Time) time.Time
	if sched, err := cron.ParseStandard(opts.Schedule); err == nil {
		next = sched.Next
	}
	return &Scheduler{
		next:      next,
		now:       time.Now,
		scheduler: gocron.NewScheduler(time.UTC),
		sensor:    NewSensor(detector, opts.PokeInterval, opts.SensorTimeout),
		pipeline:  pipeline,
		notifier:  notifier,
		monitor:   NewMonitor(),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Monitor exposes the run monitor.
func (s *Scheduler) Monitor() *Monitor {
	return s.monitor
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.opts.Schedule).SingletonMode().Do(func() {
		if _, err := s.start("schedule"); err != nil {
			log.Warn().Err(err).Msg("scheduler: skipping scheduled run")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.opts.Schedule, err)
	}

	s.scheduler.StartAsync()
	log.Info().
		Str("schedule", s.opts.Schedule).
		Dur("poke_interval", s.opts.PokeInterval).
		Dur("sensor_timeout", s.opts.SensorTimeout).
		Msg("scheduler started")

	if s.opts.RunOnStart {
		if _, err := s.start("startup"); err != nil {
			log.Warn().Err(err).Msg("scheduler: startup run not started")
		}
	}
	return nil
}

// Trigger starts a manual run in the background and returns its ID.
func (s *Scheduler) Trigger() (string, error) {
	return s.start("manual")
}

func (s *Scheduler) start(trigger string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrStopped
	}
	if !s.running.TryLock() {
		return "", ErrRunInProgress
	}

	id := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		_, _ = s.run(s.ctx, id, trigger)
	}()
	return id, nil
}

// RunOnce runs one sensor-gated cycle synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (Run, error) {
	if !s.running.TryLock() {
		return Run{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	return s.run(ctx, uuid.NewString(), "manual")
}

func (s *Scheduler) run(ctx context.Context, id, trigger string) (Run, error) {
	logger := log.With().Str("run_id", id).Str("trigger", trigger).Logger()
	r := Run{ID: id, Trigger: trigger, Status: StatusRunning, StartedAt: time.Now().UTC()}
	s.monitor.record(r)

	logger.Info().Msg("starting weather pipeline run")

	finish := func(status RunStatus, err error) (Run, error) {
		r.Status = status
		r.FinishedAt = time.Now().UTC()
		if err != nil {
			r.Error = err.Error()
		}
		s.monitor.record(r)

		var ev *zerolog.Event
		switch status {
		case StatusFailed:
			ev = logger.Error().Err(err)
		case StatusTimeout:
			ev = logger.Warn().Err(err)
		default:
			ev = logger.Info()
		}
		ev.Str("status", string(status)).Dur("duration", r.Duration()).Msg("weather pipeline run finished")
		return r, err
	}

	budget := s.sensorBudget(s.now())
	if budget > 0 {
		logger.Debug().Dur("sensor_budget", budget).Msg("sensor window capped before next tick")
	}
	if _, err := s.sensor.Wait(ctx, budget, logger); err != nil {
		if errors.Is(err, ErrSensorTimeout) {
			return finish(StatusTimeout, err)
		}
		return finish(StatusFailed, err)
	}

	rec, err := s.pipeline.Run(ctx)
	if err != nil {
		return finish(StatusFailed, err)
	}
	r.RecordID = rec.ID

	if s.notifier != nil {
		if err := s.notifier.PublishDatasetUpdate(ctx, id, rec); err != nil {
			logger.Warn().Err(err).Msg("failed to publish dataset event")
		}
	}

	return finish(StatusSuccess, nil)
}

// sensorBudget caps the sensor so it ends before the next cron tick and that
// tick finds the run lock free. A reserve of one poke interval (at most half
// the time left) is kept for the pipeline. Zero means no cap.
func (s *Scheduler) sensorBudget(now time.Time) time.Duration {
	if s.next == nil {
		return 0
	}
	tick := s.next(now)
	if tick.IsZero() {
		return 0
	}
	left := tick.Sub(now)
	if left >= s.opts.SensorTimeout+s.opts.PokeInterval {
		return 0
	}
	reserve := s.opts.PokeInterval
	if reserve > left/2 {
		reserve = left / 2
	}
	return left - reserve
}

// Stop stops the scheduler, cancels an in-flight run and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}
