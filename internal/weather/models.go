package weather

import (
	"fmt"
	"time"
)

// Coordinates identifies the single point we poll the weather for.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String returns a canonical "lat,lon" key, used in logs.
func (c Coordinates) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

// Reading is one snapshot of current conditions as returned by the weather API.
type Reading struct {
	Temperature   float64 `json:"temperature"`   // °C
	WindSpeed     float64 `json:"windspeed"`
	WindDirection float64 `json:"winddirection"` // degrees
	WeatherCode   int     `json:"weathercode"`
	Time          string  `json:"time,omitempty"` // ISO-8601, as sent upstream
}

// Record is a persisted row of the weather_data table.
type Record struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"` // always UTC
	Temperature   float64   `json:"temperature"`
	WindSpeed     float64   `json:"windspeed"`
	WindDirection float64   `json:"winddirection"`
	WeatherCode   int       `json:"weathercode"`
}

// Decision is the outcome of a change check.
type Decision struct {
	Changed   bool    `json:"changed"`
	Bootstrap bool    `json:"bootstrap"` // no previous record existed
	Current   float64 `json:"current"`
	Previous  float64 `json:"previous"`
	Delta     float64 `json:"delta"`
	Threshold float64 `json:"threshold"`

	// Err is the failure absorbed by the fallback policy, if any.
	Err error `json:"-"`
}

// Condition is a coarse label for an Open-Meteo (WMO) weather code.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionMist    Condition = "mist"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
)

// ConditionFromCode maps a WMO weather code to a Condition (simplified).
func ConditionFromCode(code int) Condition {
	switch {
	case code == 0:
		return ConditionClear
	case code >= 1 && code <= 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95:
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}
