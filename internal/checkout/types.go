package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

type Step string

const (
	StepIdle       Step = "idle"
	StepLogin      Step = "login"
	StepAddress    Step = "address"
	StepAddressMap Step = "address-map"
	StepConfirm    Step = "confirm"
	StepPayment    Step = "payment"
	StepSuccess    Step = "success"
)

const DefaultLogisticsChoice = "hyperlocal"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	ID          string       `json:"id"`
	Nickname    string       `json:"nickname"`
	FullName    string       `json:"fullName"`
	Line1       string       `json:"line1"`
	Line2       string       `json:"line2,omitempty"`
	City        string       `json:"city"`
	State       string       `json:"state"`
	Pincode     string       `json:"pincode"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Phone       string       `json:"phone"`
	IsDefault   bool         `json:"isDefault"`
}

// AddressFields is what gets sent to the address-creation call.
type AddressFields struct {
	Nickname    string
	FullName    string
	Line1       string
	Line2       string
	City        string
	State       string
	Pincode     string
	Coordinates Coordinates
	Phone       string
	IsDefault   bool
}

type CartLine struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type EstimateRequest struct {
	Lines           []CartLine
	AddressID       string
	LogisticsChoice string
	CouponCode      string
}

type LogisticsOption struct {
	Label        string `json:"label"`
	Choice       string `json:"logisticsChoice"`
	DeliveryText string `json:"deliveryText,omitempty"`
}

type Coupon struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type Estimate struct {
	QuoteID          string                     `json:"quoteId"`
	Breakdown        map[string]decimal.Decimal `json:"priceBreakdown"`
	Total            decimal.Decimal            `json:"total"`
	LogisticsOptions []LogisticsOption          `json:"logisticsOptions,omitempty"`
	AppliedCoupon    *Coupon                    `json:"appliedCoupon,omitempty"`
	CouponError      string                     `json:"couponError,omitempty"`
}

type Order struct {
	OrderID        string    `json:"orderId"`
	GatewayOrderID string    `json:"gatewayOrderId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (o Order) Live(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

// Place is what reverse geocoding knows about a map location.
type Place struct {
	City    string
	State   string
	Pincode string
}

type PaymentView struct {
	AttemptID uint64         `json:"attemptId"`
	OrderID   string         `json:"orderId"`
	Gateway   string         `json:"gateway"`
	Params    map[string]any `json:"params"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Snapshot is the read model handed to the UI after every transition.
type Snapshot struct {
	ID              string       `json:"id"`
	Step            Step         `json:"step"`
	Cart            CartLine     `json:"cart"`
	Addresses       []Address    `json:"addresses"`
	SelectedAddress *Address     `json:"selectedAddress,omitempty"`
	Estimate        *Estimate    `json:"estimate,omitempty"`
	CouponCode      string       `json:"couponCode,omitempty"`
	Payment         *PaymentView `json:"payment,omitempty"`
	Error           *Error       `json:"error,omitempty"`
	// Busy marks the answer to a Pay rejected while another is being prepared. Such a snapshot
	// carries the ID and nothing else.
	Busy bool `json:"busy,omitempty"`
}
