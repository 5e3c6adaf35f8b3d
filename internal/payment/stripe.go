package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"storefront-service/internal/checkout"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	// Backend overrides the API backend, used by tests.
	Backend stripe.Backend
}

// Stripe opens a PaymentIntent per order; the browser confirms it with the client secret.
type Stripe struct {
	intents       paymentintent.Client
	webhookSecret string
}

func NewStripe(opts StripeOptions) *Stripe {
	b := opts.Backend
	if b == nil {
		b = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{
		intents:       paymentintent.Client{B: b, Key: opts.SecretKey},
		webhookSecret: opts.WebhookSecret,
	}
}

// Load has nothing to fetch server side.
func (s *Stripe) Load(context.Context) (checkout.Widget, error) {
	return s, nil
}

// Open creates the PaymentIntent for the order. The order id is the idempotency key, so every
// attempt on the same order gets the same intent back.
func (s *Stripe) Open(ctx context.Context, cfg checkout.LaunchConfig) (checkout.Launch, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cfg.Amount),
		Currency: stripe.String(strings.ToLower(cfg.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", cfg.OrderID)
	params.AddMetadata("checkout_id", cfg.CheckoutID)
	if cfg.GatewayOrderID != "" {
		params.AddMetadata("gateway_order_id", cfg.GatewayOrderID)
	}
	params.SetIdempotencyKey("order-" + cfg.OrderID)

	pi, err := s.intents.New(params)
	if err != nil {
		return checkout.Launch{}, fmt.Errorf("error creating payment intent: %w", err)
	}
	return checkout.Launch{
		Gateway: "stripe",
		Params: map[string]any{
			"payment_intent": pi.ID,
			"client_secret":  pi.ClientSecret,
			"amount":         cfg.Amount,
			"currency":       cfg.Currency,
			"timeout":        int64(cfg.Timeout / time.Second),
			"attempt_id":     strconv.FormatUint(cfg.AttemptID, 10),
		},
	}, nil
}

// WebhookEvent is a verified gateway notification about a checkout's order.
type WebhookEvent struct {
	ID              string
	Type            checkout.PaymentEvent
	CheckoutID      string
	OrderID         string
	PaymentIntentID string
	Detail          string
}

// ParseWebhook verifies the signature and extracts the outcome. ok is false for event types the
// checkout does not act on.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (ev WebhookEvent, ok bool, err error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, false, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	var typ checkout.PaymentEvent
	switch event.Type {
	case "payment_intent.succeeded":
		typ = checkout.PaymentSucceeded
	case "payment_intent.payment_failed":
		typ = checkout.PaymentFailed
	case "payment_intent.canceled":
		typ = checkout.ModalDismissed
	default:
		return WebhookEvent{ID: event.ID}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, false, fmt.Errorf("error decoding payment intent: %w", err)
	}
	ev = WebhookEvent{
		ID:              event.ID,
		Type:            typ,
		CheckoutID:      pi.Metadata["checkout_id"],
		OrderID:         pi.Metadata["order_id"],
		PaymentIntentID: pi.ID,
	}
	if pi.LastPaymentError != nil {
		ev.Detail = pi.LastPaymentError.Msg
	}
	if ev.CheckoutID == "" || ev.OrderID == "" {
		return ev, false, nil
	}
	return ev, true, nil
}
