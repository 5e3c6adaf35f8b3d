// Package adapter connects the checkout ports to the upstream APIs.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront-service/internal/checkout"
	"storefront-service/internal/upstream"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const cancelTimeout = 10 * time.Second

// TokenProvider yields the upstream token of the login session a checkout runs under.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type Commerce struct {
	api    *upstream.Commerce
	tokens TokenProvider
}

func NewCommerce(api *upstream.Commerce, tokens TokenProvider) *Commerce {
	return &Commerce{api: api, tokens: tokens}
}

func (c *Commerce) token(ctx context.Context) (string, error) {
	tkn, err := c.tokens.Token(ctx)
	if err != nil {
		return "", mapErr(err)
	}
	if tkn == "" {
		return "", checkout.ErrUnauthorized
	}
	return tkn, nil
}

func (c *Commerce) FetchAddresses(ctx context.Context) ([]checkout.Address, error) {
	tkn, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	list, err := c.api.FetchAddresses(ctx, tkn)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]checkout.Address, 0, len(list))
	for _, a := range list {
		out = append(out, toAddress(a))
	}
	return out, nil
}

func (c *Commerce) CreateAddress(ctx context.Context, f checkout.AddressFields) (checkout.Address, error) {
	tkn, err := c.token(ctx)
	if err != nil {
		return checkout.Address{}, err
	}
	created, err := c.api.CreateAddress(ctx, tkn, upstream.Address{
		AddressNickName: f.Nickname,
		FullName:        f.FullName,
		AddressLine1:    f.Line1,
		AddressLine2:    f.Line2,
		City:            f.City,
		State:           f.State,
		Pincode:         f.Pincode,
		Location: &upstream.GeoPoint{
			Type:        "Point",
			Coordinates: [2]float64{f.Coordinates.Lng, f.Coordinates.Lat},
		},
		IsDefault: f.IsDefault,
		Phone:     f.Phone,
	})
	if err != nil {
		return checkout.Address{}, mapErr(err)
	}
	return toAddress(created), nil
}

func (c *Commerce) FetchEstimate(ctx context.Context, req checkout.EstimateRequest) (checkout.Estimate, error) {
	tkn, err := c.token(ctx)
	if err != nil {
		return checkout.Estimate{}, err
	}
	details := make([]upstream.ProductDetail, 0, len(req.Lines))
	for _, l := range req.Lines {
		details = append(details, upstream.ProductDetail{ProductID: l.ProductID, ProductVariantID: l.VariantID, Quantity: l.Quantity})
	}
	est, err := c.api.FetchEstimate(ctx, tkn, upstream.EstimateRequest{
		ProductDetails:  details,
		AddressID:       req.AddressID,
		CouponCode:      req.CouponCode,
		LogisticsChoice: req.LogisticsChoice,
	})
	if err != nil {
		return checkout.Estimate{}, mapErr(err)
	}
	return toEstimate(est), nil
}

func (c *Commerce) CreateOrder(ctx context.Context, quoteID string) (checkout.Order, error) {
	tkn, err := c.token(ctx)
	if err != nil {
		return checkout.Order{}, err
	}
	created, err := c.api.CreateOrder(ctx, tkn, quoteID)
	if err != nil {
		return checkout.Order{}, mapErr(err)
	}
	expiresAt, err := parseExpiry(created.ExpiryTime)
	if err != nil {
		// the caller never learns the order id, so the order is released here
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		defer cancel()
		if cerr := c.api.CancelOrder(cancelCtx, tkn, created.OrderID); cerr != nil {
			slog.Warn("could not cancel order with unreadable expiry", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
				slog.String(logkey.OrderID, created.OrderID), slog.String(logkey.ERROR, cerr.Error()))
		}
		return checkout.Order{}, fmt.Errorf("order %s: %w", created.OrderID, err)
	}
	return checkout.Order{OrderID: created.OrderID, GatewayOrderID: created.RazorpayOrderID, ExpiresAt: expiresAt}, nil
}

func (c *Commerce) CancelOrder(ctx context.Context, orderID string) error {
	tkn, err := c.token(ctx)
	if err != nil {
		return err
	}
	return mapErr(c.api.CancelOrder(ctx, tkn, orderID))
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, upstream.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", checkout.ErrUnauthorized, err)
	}
	return err
}

func toAddress(a upstream.Address) checkout.Address {
	out := checkout.Address{
		ID:        a.ID,
		Nickname:  a.AddressNickName,
		FullName:  a.FullName,
		Line1:     a.AddressLine1,
		Line2:     a.AddressLine2,
		City:      a.City,
		State:     a.State,
		Pincode:   a.Pincode,
		Phone:     a.Phone,
		IsDefault: a.IsDefault,
	}
	if a.Location != nil {
		out.Coordinates = &checkout.Coordinates{Lat: a.Location.Coordinates[1], Lng: a.Location.Coordinates[0]}
	}
	return out
}

func toEstimate(e upstream.Estimate) checkout.Estimate {
	breakdown := map[string]decimal.Decimal{
		"productPrice": e.ProductPrice,
		"shipping":     e.Shipping,
	}
	optional := map[string]*decimal.Decimal{
		"gst":                    e.GST,
		"platformFees":           e.PlatformFees,
		"discount":               e.Discount,
		"estimateLogisticsPrice": e.EstimateLogisticsPrice,
	}
	for k, v := range optional {
		if v != nil {
			breakdown[k] = *v
		}
	}

	out := checkout.Estimate{
		QuoteID:   e.QuoteID,
		Breakdown: breakdown,
		Total:     e.Total,
	}
	for _, o := range e.LogisticsOptions {
		out.LogisticsOptions = append(out.LogisticsOptions, checkout.LogisticsOption{
			Label: o.Label, Choice: o.LogisticsChoice, DeliveryText: o.DeliveryText,
		})
	}
	if e.AppliedCoupon != nil {
		out.AppliedCoupon = &checkout.Coupon{ID: e.AppliedCoupon.ID, Code: e.AppliedCoupon.Code}
	}
	if e.CouponError != nil {
		out.CouponError = *e.CouponError
	}
	return out
}

// parseExpiry accepts RFC 3339 timestamps and unix epochs in seconds or milliseconds.
func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised expiry time %q", s)
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
