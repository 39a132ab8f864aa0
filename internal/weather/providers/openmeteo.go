package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-etl/internal/weather"
)

// DefaultOpenMeteoURL is the public Open-Meteo API host.
const DefaultOpenMeteoURL = "https://api.open-meteo.com"

// OpenMeteoProvider fetches current conditions from Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoProvider creates a provider against baseURL (scheme and host,
// e.g. https://api.open-meteo.com). An empty baseURL uses the public API.
func NewOpenMeteoProvider(client *http.Client, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{Client: client},
		circuit: cb,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// currentWeatherPayload uses pointers so a missing key can be told apart from a zero value.
type currentWeatherPayload struct {
	CurrentWeather *struct {
		Temperature   *float64 `json:"temperature"`
		WindSpeed     *float64 `json:"windspeed"`
		WindDirection *float64 `json:"winddirection"`
		WeatherCode   *int     `json:"weathercode"`
		Time          string   `json:"time"`
	} `json:"current_weather"`
}

// FetchCurrent performs one GET /v1/forecast?current_weather=true call.
func (p *OpenMeteoProvider) FetchCurrent(ctx context.Context, loc weather.Coordinates) (weather.Reading, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
		values.Set("current_weather", "true")

		u := fmt.Sprintf("%s/v1/forecast?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}
	defer resp.Body.Close()

	var payload currentWeatherPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, &weather.FetchError{Err: fmt.Errorf("decode response: %w", err)}
	}

	cw := payload.CurrentWeather
	if cw == nil {
		return weather.Reading{}, &weather.FetchError{Err: errors.New("response has no current_weather object")}
	}

	var missing []string
	if cw.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if cw.WindSpeed == nil {
		missing = append(missing, "windspeed")
	}
	if cw.WindDirection == nil {
		missing = append(missing, "winddirection")
	}
	if cw.WeatherCode == nil {
		missing = append(missing, "weathercode")
	}
	if len(missing) > 0 {
		return weather.Reading{}, &weather.FetchError{
			Err: fmt.Errorf("current_weather missing fields: %s", strings.Join(missing, ", ")),
		}
	}

	return weather.Reading{
		Temperature:   *cw.Temperature,
		WindSpeed:     *cw.WindSpeed,
		WindDirection: *cw.WindDirection,
		WeatherCode:   *cw.WeatherCode,
		Time:          cw.Time,
	}, nil
}
