package weather

import (
	"errors"
	"fmt"
)

// ErrNoRecords is returned by stores when the weather_data table holds no rows.
var ErrNoRecords = errors.New("no weather records stored")

// FetchError reports a failed upstream call: a bad HTTP status or a body that
// does not carry the expected current_weather fields.
type FetchError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch current weather: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch current weather: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// QueryError reports a storage read failure.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query weather data: %v", e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

// LoadError reports a storage write or transaction failure. Op names the step
// that failed (connect, schema, begin, insert, commit).
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load weather data: %s: %v", e.Op, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }
