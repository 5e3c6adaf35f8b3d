package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string
	GinMode  string

	HTTPPort  int
	GRPCPort  int
	APIPrefix string

	CommerceURL         string
	SocialURL           string
	CommerceServiceName string
	SocialServiceName   string
	UpstreamHeaders     map[string]string
	UpstreamTimeout     time.Duration

	GoogleMapsKey string

	JWTSecret  string
	SessionTTL time.Duration

	PaymentGateway      string
	Currency            string
	MerchantName        string
	RazorpayKey         string
	RazorpayScriptURL   string
	StripeSecretKey     string
	StripeWebhookSecret string

	CheckoutIdleTTL time.Duration

	RedisAddr    string
	DatabaseURL  string
	KafkaBrokers []string
	ConsulAddr   string
	ServiceName  string
	ServiceHost  string
}

// Load reads a .env file when one is present and then the process environment.
func Load() (Config, error) {
	// a missing .env is fine, the variables may come from the environment
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		HTTPPort:  getEnvInt("HTTP_PORT", 8080),
		GRPCPort:  getEnvInt("GRPC_PORT", 8081),
		APIPrefix: getEnv("API_PREFIX", "/api"),

		CommerceURL:         strings.TrimRight(getEnv("COMMERCE_API_URL", ""), "/"),
		SocialURL:           strings.TrimRight(getEnv("SOCIAL_API_URL", ""), "/"),
		CommerceServiceName: getEnv("COMMERCE_SERVICE_NAME", ""),
		SocialServiceName:   getEnv("SOCIAL_SERVICE_NAME", ""),
		UpstreamHeaders:     parseHeaders(getEnv("UPSTREAM_HEADERS", "")),
		UpstreamTimeout:     getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),

		GoogleMapsKey: getEnv("GOOGLE_MAPS_API_KEY", ""),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		SessionTTL: getEnvDuration("SESSION_TTL", 7*24*time.Hour),

		PaymentGateway:      strings.ToLower(getEnv("PAYMENT_GATEWAY", "razorpay")),
		Currency:            strings.ToUpper(getEnv("CURRENCY", "INR")),
		MerchantName:        getEnv("MERCHANT_NAME", "Storefront"),
		RazorpayKey:         getEnv("RAZORPAY_KEY", ""),
		RazorpayScriptURL:   getEnv("RAZORPAY_SCRIPT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		CheckoutIdleTTL: getEnvDuration("CHECKOUT_IDLE_TTL", 30*time.Minute),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
		ConsulAddr:   getEnv("CONSUL_ADDR", ""),
		ServiceName:  getEnv("SERVICE_NAME", "storefront"),
		ServiceHost:  getEnv("SERVICE_HOST", "localhost"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.CommerceURL == "" && c.CommerceServiceName == "" {
		errs = append(errs, errors.New("COMMERCE_API_URL or COMMERCE_SERVICE_NAME must be set"))
	}
	if c.SocialURL == "" && c.SocialServiceName == "" {
		errs = append(errs, errors.New("SOCIAL_API_URL or SOCIAL_SERVICE_NAME must be set"))
	}
	if (c.CommerceServiceName != "" || c.SocialServiceName != "") && c.ConsulAddr == "" {
		errs = append(errs, errors.New("CONSUL_ADDR is required for service name lookups"))
	}
	switch c.PaymentGateway {
	case "razorpay", "stripe":
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.PaymentGateway))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseHeaders turns "X-Platform=web,X-App=storefront" into a header map.
func parseHeaders(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitCSV(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
