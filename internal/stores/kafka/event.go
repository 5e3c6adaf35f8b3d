package kafka

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicCheckoutEvents = `storefront.checkout-events`
	TopicAnalytics      = `storefront.analytics`
)

// AnalyticsEvent mirrors the conversion events the storefront reports to ad platforms.
type AnalyticsEvent struct {
	EventName  string          `json:"event_name"`
	EventID    string          `json:"event_id"`
	ContentIDs []string        `json:"content_ids"`
	Quantity   int             `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
	Currency   string          `json:"currency"`
	OrderID    string          `json:"order_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	EventInitiateCheckout = "InitiateCheckout"
	EventPurchase         = "Purchase"
)
