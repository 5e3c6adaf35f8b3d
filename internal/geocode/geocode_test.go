package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/checkout"
)

func newTestClient(t *testing.T, key string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/geocode/json", r.URL.Path)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(key, srv.URL, srv.Client())
	require.NoError(t, err)
	return c
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "221B Baker Street", r.URL.Query().Get("address"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":51.52,"lng":-0.15}},"formatted_address":"221B Baker St, London"}]}`))
	})

	got, err := c.Search(context.Background(), "221B Baker Street")
	require.NoError(t, err)
	assert.Equal(t, []Result{{Lat: 51.52, Lon: -0.15, DisplayName: "221B Baker St, London"}}, got)
}

func TestReverse_CityFallback(t *testing.T) {
	tests := []struct {
		name  string
		comps string
		want  checkout.Place
	}{
		{
			name:  "locality",
			comps: `[{"long_name":"Bengaluru","types":["locality"]},{"long_name":"Karnataka","types":["administrative_area_level_1"]},{"long_name":"560001","types":["postal_code"]}]`,
			want:  checkout.Place{City: "Bengaluru", State: "Karnataka", Pincode: "560001"},
		},
		{
			name:  "sublocality",
			comps: `[{"long_name":"Indiranagar","types":["sublocality","political"]},{"long_name":"Bangalore Urban","types":["administrative_area_level_2"]}]`,
			want:  checkout.Place{City: "Indiranagar"},
		},
		{
			name:  "district",
			comps: `[{"long_name":"Bangalore Urban","types":["administrative_area_level_2"]}]`,
			want:  checkout.Place{City: "Bangalore Urban"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "12.97,77.59", r.URL.Query().Get("latlng"))
				_, _ = w.Write([]byte(`{"status":"OK","results":[{"address_components":` + tt.comps + `}]}`))
			})
			got, err := c.Reverse(context.Background(), 12.97, 77.59)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoKeyMeansNoCall(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected geocode call")
	})

	res, err := c.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NotNil(t, res)

	place, err := c.Reverse(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, checkout.Place{}, place)
}

func TestZeroResults(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	res, err := c.Search(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, res)

	place, err := c.Reverse(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, checkout.Place{}, place)
}

func TestUpstreamError(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid."}`))
	})
	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"UNKNOWN_ERROR"}`))
	})

	for i := 0; i < 5; i++ {
		_, err := c.Search(context.Background(), "x")
		require.Error(t, err)
	}
	_, err := c.Reverse(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}
