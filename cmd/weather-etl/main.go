package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/weather-etl/internal/api/http"
	"github.com/i474232898/weather-etl/internal/config"
	"github.com/i474232898/weather-etl/internal/geo"
	"github.com/i474232898/weather-etl/internal/logging"
	"github.com/i474232898/weather-etl/internal/notify"
	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/store"
	"github.com/i474232898/weather-etl/internal/weather"
	"github.com/i474232898/weather-etl/internal/weather/providers"
)

func main() {
	// Load configuration (.env, optional YAML file, environment).
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "console", os.Stderr)
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("weather-etl stopped")
	}
}

// run wires the service and blocks until SIGINT/SIGTERM. Deferred cleanup
// runs on every return path.
func run(cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	location := cfg.Location.Coordinates()
	if cfg.Location.City != "" && cfg.Location.GeocoderAPIKey != "" {
		coords, err := geo.NewResolver(cfg.Location.GeocoderAPIKey).Resolve(cfg.Location.City, cfg.Location.Country)
		if err != nil {
			log.Warn().Err(err).Str("city", cfg.Location.City).Msg("geocoding failed; using configured coordinates")
		} else {
			location = coords
		}
	}
	log.Info().Stringer("location", location).Float64("threshold", cfg.Threshold).Msg("monitoring location")

	// Shared HTTP client for outbound API calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	apiConn, err := cfg.HTTPConnection()
	if err != nil {
		return fmt.Errorf("resolve http connection: %w", err)
	}
	fetcher := providers.NewOpenMeteoProvider(httpClient, apiConn.URI)
	log.Info().Str("provider", fetcher.Name()).Str("conn_id", apiConn.ID).Msg("weather api configured")

	dbConn, err := cfg.DBConnection()
	if err != nil {
		return fmt.Errorf("resolve db connection: %w", err)
	}

	var records weather.Store
	if dbConn.Scheme == "memory" {
		records = store.NewMemoryStore(0)
		log.Warn().Str("conn_id", dbConn.ID).Msg("using in-memory store; records are lost on restart")
	} else {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		sqlStore, err := store.Open(openCtx, store.Options{
			Driver:          dbConn.Scheme,
			DSN:             dbConn.DSN(),
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("open store %s: %w", dbConn.ID, err)
		}
		defer sqlStore.Close()
		log.Info().Str("conn_id", dbConn.ID).Str("dialect", sqlStore.Dialect()).Msg("weather store ready")
		records = sqlStore
	}

	detector := weather.NewChangeDetector(fetcher, records, weather.DetectorConfig{
		Location:  location,
		Threshold: cfg.Threshold,
	})
	pipeline := weather.NewPipeline(fetcher, records, location)

	var notifier scheduler.Notifier = notify.Noop{}
	if cfg.MQTT.Broker != "" {
		pub := notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := pub.Connect(connCtx); err != nil {
			// auto-reconnect keeps trying in the background
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt not connected yet")
		}
		cancel()
		defer pub.Close()
		notifier = pub
	}

	sched := scheduler.New(scheduler.Options{
		Schedule:      cfg.Schedule,
		PokeInterval:  cfg.PokeInterval,
		SensorTimeout: cfg.SensorTimeout,
		RunOnStart:    cfg.RunOnStart,
	}, detector, pipeline, notifier)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-etl",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.HTTPTimeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Store:    records,
		Detector: detector,
		Runs:     sched,
		Monitor:  sched.Monitor(),
	})

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-listenErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}
