package geo

import (
	"errors"
	"testing"

	"github.com/kelvins/geocoder"
)

func TestResolve(t *testing.T) {
	var got geocoder.Address
	r := &Resolver{
		apiKey: "key",
		lookup: func(address geocoder.Address) (geocoder.Location, error) {
			got = address
			return geocoder.Location{Latitude: 62.8924, Longitude: 27.677}, nil
		},
	}

	c, err := r.Resolve("Kuopio", "Finland")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.Latitude != 62.8924 || c.Longitude != 27.677 {
		t.Errorf("unexpected coordinates %+v", c)
	}
	if got.City != "Kuopio" || got.Country != "Finland" {
		t.Errorf("unexpected address %+v", got)
	}
}

func TestResolveErrors(t *testing.T) {
	if _, err := NewResolver("").Resolve("Kuopio", ""); !errors.Is(err, errNoAPIKey) {
		t.Errorf("expected errNoAPIKey, got %v", err)
	}

	boom := errors.New("ZERO_RESULTS")
	r := &Resolver{apiKey: "key", lookup: func(geocoder.Address) (geocoder.Location, error) {
		return geocoder.Location{}, boom
	}}
	if _, err := r.Resolve("Atlantis", ""); !errors.Is(err, boom) {
		t.Errorf("expected wrapped lookup error, got %v", err)
	}
	if _, err := r.Resolve("", ""); err == nil {
		t.Error("expected error for empty city")
	}
}
