package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Authenticator is the checkout's view of the login session.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
	Phone(ctx context.Context) string
	UserName(ctx context.Context) string
	Logout(ctx context.Context) error
}

type AddressService interface {
	FetchAddresses(ctx context.Context) ([]Address, error)
	CreateAddress(ctx context.Context, fields AddressFields) (Address, error)
}

type EstimateService interface {
	FetchEstimate(ctx context.Context, req EstimateRequest) (Estimate, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, quoteID string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (Place, error)
}

type Prefill struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
}

type LaunchConfig struct {
	CheckoutID     string
	AttemptID      uint64
	OrderID        string
	GatewayOrderID string
	// Amount is in the currency's minor unit.
	Amount   int64
	Currency string
	Timeout  time.Duration
	Prefill  Prefill
}

type Launch struct {
	Gateway string
	Params  map[string]any
}

// Widget opens a payment session the shopper completes in the browser.
type Widget interface {
	Open(ctx context.Context, cfg LaunchConfig) (Launch, error)
}

// Gateway hands out the widget, loading it on first use.
type Gateway interface {
	Load(ctx context.Context) (Widget, error)
}

type PaymentEvent string

const (
	PaymentSucceeded PaymentEvent = "payment.success"
	PaymentFailed    PaymentEvent = "payment.failed"
	ModalDismissed   PaymentEvent = "modal.dismissed"
)

type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventCheckoutInitiated EventType = "checkout.initiated"
	EventPaymentSucceeded  EventType = "payment.succeeded"
	EventPaymentFailed     EventType = "payment.failed"
	EventPaymentCancelled  EventType = "payment.cancelled"
	EventOrderExpired      EventType = "order.expired"
	EventOrderCancelled    EventType = "order.cancelled"
)

type Event struct {
	Type           EventType       `json:"type"`
	CheckoutID     string          `json:"checkout_id"`
	QuoteID        string          `json:"quote_id,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	AttemptID      uint64          `json:"attempt_id,omitempty"`
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id"`
	Quantity       int             `json:"quantity"`
	Value          decimal.Decimal `json:"value"`
	Currency       string          `json:"currency"`
	ExpiresAt      time.Time       `json:"expires_at,omitempty"`
	At             time.Time       `json:"at"`
}

// Observer is told about order lifecycle events. Implementations must not block for long
// and handle their own failures.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type Observers []Observer

func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.Observe(ctx, ev)
	}
}
