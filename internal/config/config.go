package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-etl/internal/weather"
)

// Defaults mirror the hourly DAG this service replaces.
const (
	DefaultLatitude      = 62.8966 // Kuopio, Finland
	DefaultLongitude     = 27.6786
	DefaultHTTPConnID    = "open_meteo_api"
	DefaultDBConnID      = "postgres_default"
	DefaultSchedule      = "@hourly"
	DefaultPokeInterval  = 5 * time.Minute
	DefaultSensorTimeout = time.Hour

	// ConnEnvPrefix prefixes the env var that resolves a connection identifier,
	// e.g. WEATHER_CONN_POSTGRES_DEFAULT.
	ConnEnvPrefix = "WEATHER_CONN_"
)

var defaultConnections = map[string]string{
	DefaultHTTPConnID: "https://api.open-meteo.com",
	DefaultDBConnID:   "sqlite3://weather.db",
}

type AppConfig struct {
	Location Location `yaml:"location"`

	// Threshold is the temperature delta (°C) that triggers a load.
	Threshold float64 `yaml:"threshold" validate:"gt=0"`

	HTTPConnID string `yaml:"http_conn_id" validate:"required"`
	DBConnID   string `yaml:"db_conn_id" validate:"required"`

	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gt=0"`

	Schedule      string        `yaml:"schedule" validate:"required"`
	PokeInterval  time.Duration `yaml:"poke_interval" validate:"gt=0"`
	SensorTimeout time.Duration `yaml:"sensor_timeout" validate:"gtefield=PokeInterval"`
	RunOnStart    bool          `yaml:"run_on_start"`

	DB   DBConfig   `yaml:"db"`
	MQTT MQTTConfig `yaml:"mqtt"`

	Port      string `yaml:"port" validate:"required,numeric"`
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// Connections maps connection identifiers to URIs. Filled from the YAML
	// file and WEATHER_CONN_* env vars.
	Connections map[string]string `yaml:"connections"`
}

// Location is the single point polled. City/Country, when set together with
// GeocoderAPIKey, are geocoded at startup and override the coordinates.
type Location struct {
	Latitude       float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	City           string  `yaml:"city"`
	Country        string  `yaml:"country"`
	GeocoderAPIKey string  `yaml:"geocoder_api_key"`
}

// Coordinates returns the configured point.
func (l Location) Coordinates() weather.Coordinates {
	return weather.Coordinates{Latitude: l.Latitude, Longitude: l.Longitude}
}

type DBConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables dataset events
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
	ClientID string `yaml:"client_id" validate:"required"`
	Topic    string `yaml:"topic" validate:"required"`
}

// Connection is a resolved connection identifier.
type Connection struct {
	ID     string
	Scheme string // https, http, postgres, sqlite3, memory
	URI    string
}

// DSN returns the driver-specific data source name: the full URL for
// postgres, the file path for sqlite3.
func (c Connection) DSN() string {
	switch c.Scheme {
	case "sqlite3":
		// sqlite3://relative/path.db or sqlite3:///abs/path.db
		return strings.TrimPrefix(strings.TrimPrefix(c.URI, "sqlite3://"), "sqlite://")
	default:
		return c.URI
	}
}

var validate = validator.New()

// Load reads configuration from an optional YAML file (CONFIG_FILE) and the
// environment, with sensible defaults. Env vars win over the file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file found or error loading it")
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *AppConfig {
	conns := make(map[string]string, len(defaultConnections))
	for k, v := range defaultConnections {
		conns[k] = v
	}
	return &AppConfig{
		Location: Location{
			Latitude:  DefaultLatitude,
			Longitude: DefaultLongitude,
		},
		Threshold:     weather.DefaultThreshold,
		HTTPConnID:    DefaultHTTPConnID,
		DBConnID:      DefaultDBConnID,
		HTTPTimeout:   30 * time.Second,
		Schedule:      DefaultSchedule,
		PokeInterval:  DefaultPokeInterval,
		SensorTimeout: DefaultSensorTimeout,
		RunOnStart:    true,
		DB: DBConfig{
			MaxOpenConns: 4,
			MaxIdleConns: 2,
		},
		MQTT: MQTTConfig{
			Port:     1883,
			ClientID: "weather-etl",
			Topic:    "datasets/weather_data",
		},
		Port:        "8080",
		LogLevel:    "info",
		LogFormat:   "console",
		Connections: conns,
	}
}

func applyEnv(cfg *AppConfig) error {
	var errs []error

	cfg.Location.Latitude = getenvFloat("LATITUDE", cfg.Location.Latitude, &errs)
	cfg.Location.Longitude = getenvFloat("LONGITUDE", cfg.Location.Longitude, &errs)
	cfg.Location.City = getenvDefault("LOCATION_CITY", cfg.Location.City)
	cfg.Location.Country = getenvDefault("LOCATION_COUNTRY", cfg.Location.Country)
	cfg.Location.GeocoderAPIKey = getenvDefault("GEOCODER_API_KEY", cfg.Location.GeocoderAPIKey)

	cfg.Threshold = getenvFloat("TEMP_THRESHOLD", cfg.Threshold, &errs)
	cfg.HTTPConnID = getenvDefault("HTTP_CONN_ID", cfg.HTTPConnID)
	cfg.DBConnID = getenvDefault("DB_CONN_ID", cfg.DBConnID)
	cfg.HTTPTimeout = getenvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout, &errs)

	cfg.Schedule = getenvDefault("SCHEDULE", cfg.Schedule)
	cfg.PokeInterval = getenvDuration("POKE_INTERVAL", cfg.PokeInterval, &errs)
	cfg.SensorTimeout = getenvDuration("SENSOR_TIMEOUT", cfg.SensorTimeout, &errs)
	cfg.RunOnStart = getenvBool("RUN_ON_START", cfg.RunOnStart, &errs)

	cfg.DB.MaxOpenConns = getenvInt("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns, &errs)
	cfg.DB.MaxIdleConns = getenvInt("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns, &errs)
	cfg.DB.ConnMaxLifetime = getenvDuration("DB_CONN_MAX_LIFETIME", cfg.DB.ConnMaxLifetime, &errs)

	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Port = getenvInt("MQTT_PORT", cfg.MQTT.Port, &errs)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", cfg.MQTT.Topic)

	cfg.Port = getenvDefault("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", cfg.LogFormat))

	if cfg.Connections == nil {
		cfg.Connections = map[string]string{}
	}
	for _, id := range []string{cfg.HTTPConnID, cfg.DBConnID} {
		if v := os.Getenv(ConnEnvName(id)); v != "" {
			cfg.Connections[id] = v
		}
	}

	return errors.Join(errs...)
}

// Validate checks struct tags, the cron schedule and both connections.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid SCHEDULE %q: %w", c.Schedule, err)
	}
	if _, err := c.HTTPConnection(); err != nil {
		return err
	}
	if _, err := c.DBConnection(); err != nil {
		return err
	}
	return nil
}

// HTTPConnection resolves the weather API connection.
func (c *AppConfig) HTTPConnection() (Connection, error) {
	conn, err := c.resolve(c.HTTPConnID)
	if err != nil {
		return Connection{}, err
	}
	switch conn.Scheme {
	case "http", "https":
		return conn, nil
	default:
		return Connection{}, fmt.Errorf("connection %q: unsupported scheme %q for HTTP source", conn.ID, conn.Scheme)
	}
}

// DBConnection resolves the database connection.
func (c *AppConfig) DBConnection() (Connection, error) {
	conn, err := c.resolve(c.DBConnID)
	if err != nil {
		return Connection{}, err
	}
	switch conn.Scheme {
	case "postgres", "postgresql":
		conn.Scheme = "postgres"
	case "sqlite3", "sqlite":
		conn.Scheme = "sqlite3"
	case "memory":
	default:
		return Connection{}, fmt.Errorf("connection %q: unsupported scheme %q for database target", conn.ID, conn.Scheme)
	}
	return conn, nil
}

func (c *AppConfig) resolve(id string) (Connection, error) {
	raw, ok := c.Connections[id]
	if !ok || raw == "" {
		return Connection{}, fmt.Errorf("connection %q is not defined (set %s)", id, ConnEnvName(id))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Connection{}, fmt.Errorf("connection %q: %w", id, err)
	}
	if u.Scheme == "" {
		return Connection{}, fmt.Errorf("connection %q: missing scheme in %q", id, raw)
	}
	return Connection{ID: id, Scheme: strings.ToLower(u.Scheme), URI: raw}, nil
}

// ConnEnvName returns the env var that defines connection id.
func ConnEnvName(id string) string {
	return ConnEnvPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return n
}

func getenvFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return d
}

func getenvBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return b
}
