package geo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-etl/internal/weather"
)

var errNoAPIKey = errors.New("geocoder api key is not configured")

// Lookup resolves an address to coordinates.
type Lookup func(address geocoder.Address) (geocoder.Location, error)

// Resolver turns a city/country pair into coordinates via the Google
// Geocoding API.
type Resolver struct {
	apiKey string
	lookup Lookup
}

// geocoder keeps its key in a package variable.
var apiKeyMu sync.Mutex

// NewResolver creates a Resolver backed by kelvins/geocoder.
func NewResolver(apiKey string) *Resolver {
	return &Resolver{
		apiKey: apiKey,
		lookup: func(address geocoder.Address) (geocoder.Location, error) {
			apiKeyMu.Lock()
			defer apiKeyMu.Unlock()
			geocoder.ApiKey = apiKey
			return geocoder.Geocoding(address)
		},
	}
}

// Resolve geocodes city (and optional country).
func (r *Resolver) Resolve(city, country string) (weather.Coordinates, error) {
	if r.apiKey == "" {
		return weather.Coordinates{}, errNoAPIKey
	}
	if city == "" {
		return weather.Coordinates{}, errors.New("geocode: city is required")
	}

	loc, err := r.lookup(geocoder.Address{City: city, Country: country})
	if err != nil {
		return weather.Coordinates{}, fmt.Errorf("geocode %s,%s: %w", city, country, err)
	}
	return weather.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}, nil
}
