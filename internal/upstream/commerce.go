package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lng, lat]
}

type Address struct {
	ID              string    `json:"_id"`
	AddressNickName string    `json:"addressNickName"`
	FullName        string    `json:"fullName"`
	AddressLine1    string    `json:"addressLine1"`
	AddressLine2    string    `json:"addressLine2,omitempty"`
	City            string    `json:"city"`
	State           string    `json:"state"`
	Pincode         string    `json:"pincode"`
	Location        *GeoPoint `json:"location,omitempty"`
	PlusCode        string    `json:"plusCode,omitempty"`
	IsDefault       bool      `json:"isDefault"`
	Phone           string    `json:"phone"`
}

type ProductDetail struct {
	ProductID        string `json:"productId"`
	ProductVariantID string `json:"productVariantId"`
	Quantity         int    `json:"quantity"`
}

type EstimateRequest struct {
	ProductDetails  []ProductDetail `json:"productDetails"`
	AddressID       string          `json:"addressId"`
	CouponCode      string          `json:"couponCode,omitempty"`
	CouponID        string          `json:"couponId,omitempty"`
	LogisticsChoice string          `json:"logisticsChoice"`
}

type LogisticsOption struct {
	Label           string `json:"label"`
	LogisticsChoice string `json:"logisticsChoice"`
	DeliveryText    string `json:"deliveryText,omitempty"`
}

type Coupon struct {
	ID   string `json:"_id"`
	Code string `json:"code"`
}

type Estimate struct {
	QuoteID                string            `json:"quoteId"`
	ProductPrice           decimal.Decimal   `json:"productPrice"`
	Shipping               decimal.Decimal   `json:"shipping"`
	GST                    *decimal.Decimal  `json:"gst,omitempty"`
	PlatformFees           *decimal.Decimal  `json:"platformFees,omitempty"`
	Discount               *decimal.Decimal  `json:"discount,omitempty"`
	EstimateLogisticsPrice *decimal.Decimal  `json:"estimateLogisticsPrice,omitempty"`
	Total                  decimal.Decimal   `json:"total"`
	IsLogisticsFree        bool              `json:"isLogisticsFree,omitempty"`
	Labels                 map[string]string `json:"labels,omitempty"`
	LogisticsOptions       []LogisticsOption `json:"logisticsOptions,omitempty"`
	AppliedCoupon          *Coupon           `json:"appliedCoupon,omitempty"`
	CouponError            *string           `json:"couponError,omitempty"`
}

type CreatedOrder struct {
	OrderID         string `json:"orderId"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	ExpiryTime      string `json:"expiryTime"`
}

// Commerce wraps the commerce API.
type Commerce struct {
	*Client
}

func NewCommerce(c *Client) *Commerce {
	return &Commerce{Client: c}
}

func (c *Commerce) GetProduct(ctx context.Context, productID string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: "/products/" + url.PathEscape(productID)})
}

// FetchAddresses accepts both a bare array and a {"data": [...]} envelope.
func (c *Commerce) FetchAddresses(ctx context.Context, token string) ([]Address, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/addresses", Token: token}, &raw); err != nil {
		return nil, err
	}
	var list []Address
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Data []Address `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("error decoding addresses: %w", err)
	}
	return env.Data, nil
}

func (c *Commerce) CreateAddress(ctx context.Context, token string, addr Address) (Address, error) {
	body, err := json.Marshal(addr)
	if err != nil {
		return Address{}, fmt.Errorf("error encoding address: %w", err)
	}
	var raw json.RawMessage
	if err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/addresses", Token: token, Body: body}, &raw); err != nil {
		return Address{}, err
	}

	var created Address
	var env struct {
		Data *Address `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		created = *env.Data
	} else if err := json.Unmarshal(raw, &created); err != nil {
		return Address{}, fmt.Errorf("error decoding created address: %w", err)
	}
	if created.ID == "" {
		return Address{}, fmt.Errorf("created address has no id")
	}
	return created, nil
}

func (c *Commerce) FetchEstimate(ctx context.Context, token string, req EstimateRequest) (Estimate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Estimate{}, fmt.Errorf("error encoding estimate request: %w", err)
	}
	var est Estimate
	if err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/checkout/estimate", Token: token, Body: body}, &est); err != nil {
		return Estimate{}, err
	}
	if est.QuoteID == "" {
		return Estimate{}, fmt.Errorf("estimate has no quote id")
	}
	return est, nil
}

func (c *Commerce) CreateOrder(ctx context.Context, token, quoteID string) (CreatedOrder, error) {
	body, err := json.Marshal(map[string]string{"quoteId": quoteID})
	if err != nil {
		return CreatedOrder{}, err
	}
	var order CreatedOrder
	if err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/checkout/createOrder", Token: token, Body: body}, &order); err != nil {
		return CreatedOrder{}, err
	}
	if order.OrderID == "" {
		return CreatedOrder{}, fmt.Errorf("created order has no id")
	}
	return order, nil
}

func (c *Commerce) CancelOrder(ctx context.Context, token, orderID string) error {
	return c.Call(ctx, Request{
		Method: http.MethodPut,
		Path:   "/order/" + url.PathEscape(orderID) + "/cancel",
		Token:  token,
		Body:   []byte("{}"),
	}, nil)
}
