package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-etl/internal/common"
	"github.com/i474232898/weather-etl/internal/weather"
)

// Options configures the SQL store.
type Options struct {
	Driver string // postgres | sqlite3
	DSN    string // connection URL for postgres, file path or file: DSN for sqlite3

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore persists weather records in the weather_data table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	// afterInsert runs inside the load transaction, between INSERT and COMMIT.
	afterInsert func(ctx context.Context, tx *sql.Tx) error
}

// Open connects to the database and verifies connectivity. The table itself
// is created lazily by Load.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if d.name == sqliteDialect.name {
		if dsn, err = sqliteDSN(opts.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Info().Str("dialect", d.name).Msg("connected to weather database")
	return &SQLStore{db: db, dialect: d}, nil
}

// Dialect returns the name of the SQL dialect in use.
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureSchema creates the table if it is missing. Two loaders racing on a
// fresh database may both try; the loser's "already exists" is not an error.
func (s *SQLStore) ensureSchema(ctx context.Context, ex execer) error {
	for _, stmt := range s.dialect.schema {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			if common.HasAny(err.Error(), "already exists", "duplicate key") {
				continue
			}
			return err
		}
	}
	return nil
}

// EnsureSchema creates the weather_data table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if err := s.ensureSchema(ctx, s.db); err != nil {
		return &weather.LoadError{Op: "schema", Err: err}
	}
	return nil
}

// Load creates the table if needed and inserts one record in a transaction.
// On failure the transaction is rolled back and storage is left unchanged.
// The connection is released on every path.
func (s *SQLStore) Load(ctx context.Context, rec weather.Record) (weather.Record, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return weather.Record{}, &weather.LoadError{Op: "connect", Err: err}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("release weather database connection")
		}
	}()

	if err := s.ensureSchema(ctx, conn); err != nil {
		return weather.Record{}, &weather.LoadError{Op: "schema", Err: err}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return weather.Record{}, &weather.LoadError{Op: "begin", Err: err}
	}

	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)

	fail := func(op string, err error) (weather.Record, error) {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			log.Error().Err(rerr).Msg("rollback weather insert")
		}
		return weather.Record{}, &weather.LoadError{Op: op, Err: err}
	}

	err = tx.QueryRowContext(ctx, s.dialect.insert,
		rec.Timestamp,
		rec.Temperature,
		rec.WindSpeed,
		rec.WindDirection,
		rec.WeatherCode,
	).Scan(&rec.ID)
	if err != nil {
		return fail("insert", err)
	}

	if s.afterInsert != nil {
		if err := s.afterInsert(ctx, tx); err != nil {
			return fail("insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	return rec, nil
}

// Latest returns the most recent record by timestamp, or weather.ErrNoRecords.
// A missing table counts as empty.
func (s *SQLStore) Latest(ctx context.Context) (weather.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.dialect.latest))
	if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return weather.Record{}, weather.ErrNoRecords
	}
	if err != nil {
		return weather.Record{}, &weather.QueryError{Err: err}
	}
	return rec, nil
}

// Range returns up to limit records with from <= timestamp <= to, oldest first.
func (s *SQLStore) Range(ctx context.Context, from, to time.Time, limit int) ([]weather.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rangeQ, from.UTC(), to.UTC(), limit)
	if isMissingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &weather.QueryError{Err: err}
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("close weather rows")
		}
	}()

	var out []weather.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &weather.QueryError{Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &weather.QueryError{Err: err}
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.count).Scan(&n)
	if isMissingTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &weather.QueryError{Err: err}
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (weather.Record, error) {
	var rec weather.Record
	if err := row.Scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.Temperature,
		&rec.WindSpeed,
		&rec.WindDirection,
		&rec.WeatherCode,
	); err != nil {
		return weather.Record{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return common.HasAny(err.Error(), "no such table", `relation "weather_data" does not exist`)
}
