package consul

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, h http.HandlerFunc) *consulapi.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	return client
}

func TestGetServiceAddress(t *testing.T) {
	client := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health/service/commerce", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("passing"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"Node": map[string]any{"Address": "10.0.0.5"}, "Service": map[string]any{"Address": "", "Port": 8081}},
		})
	})

	address, port, err := GetServiceAddress(client, "commerce")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", address)
	assert.Equal(t, 8081, port)
}

func TestGetServiceAddress_NoInstance(t *testing.T) {
	client := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, _, err := GetServiceAddress(client, "social")
	assert.EqualError(t, err, "no healthy instance of social")

	_, _, err = GetServiceAddress(nil, "social")
	assert.Error(t, err)
}

func TestRegisterService(t *testing.T) {
	var got consulapi.AgentServiceRegistration
	client := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/service/register", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &got))
	})

	require.NoError(t, RegisterService(client, "storefront-1", "storefront", "10.0.0.9", 8080))
	assert.Equal(t, "storefront-1", got.ID)
	assert.Equal(t, 8080, got.Port)
	require.NotNil(t, got.Check)
	assert.Equal(t, "http://10.0.0.9:8080/ping", got.Check.HTTP)
}
