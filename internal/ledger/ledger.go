// Package ledger keeps a durable record of the orders checkouts created and what became of them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront-service/internal/checkout"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const (
	StatusCreated   = "created"
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

var ErrNotFound = errors.New("payment order not found")

type Order struct {
	OrderID        string          `json:"order_id"`
	CheckoutID     string          `json:"checkout_id"`
	QuoteID        string          `json:"quote_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id"`
	Quantity       int             `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// statusFor maps a lifecycle event to the order status it leaves behind.
func statusFor(t checkout.EventType) (string, bool) {
	switch t {
	case checkout.EventOrderCreated:
		return StatusCreated, true
	case checkout.EventCheckoutInitiated:
		return StatusPending, true
	case checkout.EventPaymentSucceeded:
		return StatusPaid, true
	case checkout.EventPaymentFailed:
		return StatusFailed, true
	case checkout.EventPaymentCancelled, checkout.EventOrderCancelled:
		return StatusCancelled, true
	case checkout.EventOrderExpired:
		return StatusExpired, true
	}
	return "", false
}

// statusRank orders the statuses an order moves through. A row never moves to a lower rank, so
// events recorded late cannot undo a later state.
var statusRank = []struct {
	status string
	rank   int
}{
	{StatusCreated, 1},
	{StatusPending, 2},
	{StatusCancelled, 3},
	{StatusFailed, 4},
	{StatusExpired, 4},
	{StatusPaid, 5},
}

func rankOf(status string) int {
	for _, r := range statusRank {
		if r.status == status {
			return r.rank
		}
	}
	return 0
}

// rankSQL is the SQL expression of rankOf applied to col.
func rankSQL(col string) string {
	var b strings.Builder
	b.WriteString("CASE " + col)
	for _, r := range statusRank {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", r.status, r.rank)
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}

// Observe records the event. It is meant to run behind a checkout.QueuedObserver, which keeps
// the events of an order in order.
func (c *Conf) Observe(ctx context.Context, ev checkout.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Record(ctx, ev); err != nil {
		slog.Error("failed to record payment event", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, ev.OrderID), slog.String(logkey.ERROR, err.Error()))
	}
}

// Record upserts the order row and appends the event. The status only ever moves forward.
func (c *Conf) Record(ctx context.Context, ev checkout.Event) error {
	status, ok := statusFor(ev.Type)
	if !ok || ev.OrderID == "" {
		return nil
	}
	attempts := 0
	if ev.Type == checkout.EventCheckoutInitiated {
		attempts = 1
	}
	var expiresAt *time.Time
	if !ev.ExpiresAt.IsZero() {
		expiresAt = &ev.ExpiresAt
	}

	return c.withTx(ctx, func(tx *sql.Tx) error {
		queryUpsert := `
			INSERT INTO payment_orders (order_id, checkout_id, quote_id, gateway_order_id, product_id, variant_id,
				quantity, amount, currency, status, attempts, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (order_id) DO UPDATE SET
				status = CASE WHEN $13 > ` + rankSQL("payment_orders.status") + `
					THEN EXCLUDED.status ELSE payment_orders.status END,
				attempts = payment_orders.attempts + EXCLUDED.attempts,
				updated_at = NOW()
		`
		_, err := tx.ExecContext(ctx, queryUpsert, ev.OrderID, ev.CheckoutID, ev.QuoteID, ev.GatewayOrderID,
			ev.ProductID, ev.VariantID, ev.Quantity, ev.Value.String(), ev.Currency, status, attempts, expiresAt,
			rankOf(status))
		if err != nil {
			return fmt.Errorf("failed to upsert payment order: %w", err)
		}

		queryEvent := `
			INSERT INTO payment_events (order_id, type, attempt_id)
			VALUES ($1, $2, $3)
		`
		if _, err := tx.ExecContext(ctx, queryEvent, ev.OrderID, string(ev.Type), int64(ev.AttemptID)); err != nil {
			return fmt.Errorf("failed to insert payment event: %w", err)
		}
		return nil
	})
}

func (c *Conf) GetOrder(ctx context.Context, orderID string) (Order, error) {
	query := `
		SELECT order_id, checkout_id, quote_id, gateway_order_id, product_id, variant_id, quantity,
			amount::text, currency, status, attempts, expires_at, created_at, updated_at
		FROM payment_orders
		WHERE order_id = $1
	`
	var o Order
	var amount string
	err := c.db.QueryRowContext(ctx, query, orderID).Scan(&o.OrderID, &o.CheckoutID, &o.QuoteID, &o.GatewayOrderID,
		&o.ProductID, &o.VariantID, &o.Quantity, &amount, &o.Currency, &o.Status, &o.Attempts, &o.ExpiresAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("failed to query payment order: %w", err)
	}
	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Order{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return o, nil
}

// MarkWebhookProcessed reports false when the webhook event was already seen.
func (c *Conf) MarkWebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `INSERT INTO webhook_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if er := tx.Rollback(); er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", errors.Join(err, er))
		}
		return fmt.Errorf("failed to execute withTx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}
