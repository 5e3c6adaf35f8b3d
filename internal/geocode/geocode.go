// Package geocode wraps the Google geocoding API.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"googlemaps.github.io/maps"

	"storefront-service/internal/checkout"
	"storefront-service/pkg/logkey"
)

var ErrUnavailable = errors.New("geocoding unavailable")

type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
}

// Client answers with empty results when no API key is configured.
type Client struct {
	maps    *maps.Client
	breaker *gobreaker.CircuitBreaker[[]maps.GeocodingResult]
}

// New builds a client for key. baseURL replaces the Google host and is only set by tests.
func New(key, baseURL string, hc *http.Client) (*Client, error) {
	if key == "" {
		return &Client{}, nil
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	opts := []maps.ClientOption{maps.WithAPIKey(key), maps.WithHTTPClient(hc)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating maps client: %w", err)
	}
	return &Client{
		maps: mc,
		breaker: gobreaker.NewCircuitBreaker[[]maps.GeocodingResult](gobreaker.Settings{
			Name:        "geocode",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", slog.String(logkey.Upstream, name),
					slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
	}, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.maps == nil || query == "" {
		return []Result{}, nil
	}
	results, err := c.call(func() ([]maps.GeocodingResult, error) {
		return c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			Lat:         r.Geometry.Location.Lat,
			Lon:         r.Geometry.Location.Lng,
			DisplayName: r.FormattedAddress,
		})
	}
	return out, nil
}

// Reverse resolves the city, state and postal code of a location. City falls back from the
// locality to the sublocality and then the district.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (checkout.Place, error) {
	if c.maps == nil {
		return checkout.Place{}, nil
	}
	results, err := c.call(func() ([]maps.GeocodingResult, error) {
		return c.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &maps.LatLng{Lat: lat, Lng: lng}})
	})
	if err != nil {
		return checkout.Place{}, err
	}
	if len(results) == 0 {
		return checkout.Place{}, nil
	}
	comps := results[0].AddressComponents
	return checkout.Place{
		City:    first(comps, "locality", "sublocality", "administrative_area_level_2"),
		State:   first(comps, "administrative_area_level_1"),
		Pincode: first(comps, "postal_code"),
	}, nil
}

func (c *Client) call(fn func() ([]maps.GeocodingResult, error)) ([]maps.GeocodingResult, error) {
	results, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("error calling geocode: %w", err)
	}
	return results, nil
}

func first(comps []maps.AddressComponent, types ...string) string {
	for _, typ := range types {
		for _, c := range comps {
			for _, t := range c.Types {
				if t == typ && c.LongName != "" {
					return c.LongName
				}
			}
		}
	}
	return ""
}
