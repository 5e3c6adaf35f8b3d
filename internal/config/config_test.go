package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COMMERCE_API_URL", "https://commerce.example.com/v1/")
	t.Setenv("SOCIAL_API_URL", "https://social.example.com/v1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, "https://commerce.example.com/v1", cfg.CommerceURL)
	assert.Equal(t, "razorpay", cfg.PaymentGateway)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutIdleTTL)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COMMERCE_API_URL", "")
	t.Setenv("COMMERCE_SERVICE_NAME", "")
	t.Setenv("SOCIAL_API_URL", "https://social.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "COMMERCE_API_URL")
}

func TestLoad_UnknownGateway(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COMMERCE_API_URL", "https://c")
	t.Setenv("SOCIAL_API_URL", "https://s")
	t.Setenv("PAYMENT_GATEWAY", "paypal")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paypal")
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" X-Platform = web ,broken, =x,X-App=storefront")
	assert.Equal(t, map[string]string{"X-Platform": "web", "X-App": "storefront"}, got)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitCSV("a:9092, ,b:9092"))
	assert.Nil(t, splitCSV(""))
}
