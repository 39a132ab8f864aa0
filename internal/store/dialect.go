package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dialect holds the SQL that differs between the supported databases.
type dialect struct {
	name   string
	driver string
	schema []string
	insert string
	latest string
	rangeQ string
	count  string
}

const selectColumns = `id, timestamp, temperature, windspeed, winddirection, weathercode`

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS weather_data (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			temperature FLOAT NOT NULL,
			windspeed FLOAT NOT NULL,
			winddirection FLOAT NOT NULL,
			weathercode INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weather_data_timestamp ON weather_data (timestamp)`,
	},
	insert: `INSERT INTO weather_data (timestamp, temperature, windspeed, winddirection, weathercode)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
	latest: `SELECT ` + selectColumns + ` FROM weather_data ORDER BY timestamp DESC, id DESC LIMIT 1`,
	rangeQ: `SELECT ` + selectColumns + ` FROM weather_data
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC, id ASC LIMIT $3`,
	count: `SELECT COUNT(*) FROM weather_data`,
}

var sqliteDialect = dialect{
	name:   "sqlite3",
	driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS weather_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			temperature FLOAT NOT NULL,
			windspeed FLOAT NOT NULL,
			winddirection FLOAT NOT NULL,
			weathercode INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weather_data_timestamp ON weather_data (timestamp)`,
	},
	insert: `INSERT INTO weather_data (timestamp, temperature, windspeed, winddirection, weathercode)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
	latest: `SELECT ` + selectColumns + ` FROM weather_data ORDER BY timestamp DESC, id DESC LIMIT 1`,
	rangeQ: `SELECT ` + selectColumns + ` FROM weather_data
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC LIMIT ?`,
	count: `SELECT COUNT(*) FROM weather_data`,
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q (allowed: postgres, sqlite3)", driver)
	}
}

// sqliteDSN turns a plain file path into a DSN with sane defaults. DSNs that
// already start with "file:" only get the missing parameters appended.
func sqliteDSN(path string) (string, error) {
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
