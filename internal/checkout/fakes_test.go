package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type fakeAuth struct {
	mu      sync.Mutex
	authed  bool
	name    string
	phone   string
	logouts int
}

func (a *fakeAuth) IsAuthenticated(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authed
}

func (a *fakeAuth) Phone(context.Context) string    { return a.phone }
func (a *fakeAuth) UserName(context.Context) string { return a.name }

func (a *fakeAuth) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authed = false
	a.logouts++
	return nil
}

func (a *fakeAuth) login() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authed = true
}

// fakeCommerce answers one quote per address and counts order calls.
type fakeCommerce struct {
	mu          sync.Mutex
	addresses   []Address
	created     []AddressFields
	estimateErr error
	estimates   []EstimateRequest
	orderTTL    time.Duration
	now         func() time.Time
	creates     []string
	cancels     []string
	createErr   error
	fetchErr    error
	addressErr  error
}

func (f *fakeCommerce) FetchAddresses(context.Context) ([]Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]Address(nil), f.addresses...), nil
}

func (f *fakeCommerce) CreateAddress(_ context.Context, fields AddressFields) (Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addressErr != nil {
		return Address{}, f.addressErr
	}
	f.created = append(f.created, fields)
	a := Address{
		ID:        fmt.Sprintf("new-%d", len(f.created)),
		Nickname:  fields.Nickname,
		FullName:  fields.FullName,
		Line1:     fields.Line1,
		City:      fields.City,
		State:     fields.State,
		Pincode:   fields.Pincode,
		Phone:     fields.Phone,
		IsDefault: fields.IsDefault,
	}
	f.addresses = append(f.addresses, a)
	return a, nil
}

func (f *fakeCommerce) FetchEstimate(_ context.Context, req EstimateRequest) (Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates = append(f.estimates, req)
	if f.estimateErr != nil {
		return Estimate{}, f.estimateErr
	}
	return Estimate{
		QuoteID:   "q-" + req.AddressID,
		Total:     decimal.RequireFromString("1348.50"),
		Breakdown: map[string]decimal.Decimal{"productPrice": decimal.RequireFromString("1299.50")},
	}, nil
}

func (f *fakeCommerce) CreateOrder(_ context.Context, quoteID string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Order{}, f.createErr
	}
	f.creates = append(f.creates, quoteID)
	n := len(f.creates)
	return Order{
		OrderID:        fmt.Sprintf("o%d", n),
		GatewayOrderID: fmt.Sprintf("gw_%d", n),
		ExpiresAt:      f.now().Add(f.orderTTL),
	}, nil
}

func (f *fakeCommerce) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeCommerce) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type fakeWidget struct {
	mu    sync.Mutex
	opens []LaunchConfig
}

func (w *fakeWidget) Open(_ context.Context, cfg LaunchConfig) (Launch, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens = append(w.opens, cfg)
	return Launch{Gateway: "fake", Params: map[string]any{"order_id": cfg.GatewayOrderID, "amount": cfg.Amount}}, nil
}

func (w *fakeWidget) openCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.opens)
}

type fakeGateway struct {
	widget  *fakeWidget
	err     error
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Load(ctx context.Context) (Widget, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.widget, nil
}

type fakeGeocoder struct {
	place Place
	calls int
}

func (g *fakeGeocoder) Reverse(context.Context, float64, float64) (Place, error) {
	g.calls++
	return g.place, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, 0, len(o.events))
	for _, ev := range o.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	session  *Session
	auth     *fakeAuth
	commerce *fakeCommerce
	gateway  *fakeGateway
	widget   *fakeWidget
	geocoder *fakeGeocoder
	observer *recordingObserver
	now      time.Time
}

func (h *harness) clock() time.Time { return h.now }

func newHarness(addresses ...Address) *harness {
	h := &harness{
		auth:     &fakeAuth{authed: true, name: "Asha", phone: "+919876543210"},
		widget:   &fakeWidget{},
		geocoder: &fakeGeocoder{place: Place{City: "London", State: "Greater London"}},
		observer: &recordingObserver{},
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h.commerce = &fakeCommerce{addresses: addresses, orderTTL: 15 * time.Minute, now: h.clock}
	h.gateway = &fakeGateway{widget: h.widget}
	h.session = NewSession("chk-1", CartLine{ProductID: "p1", VariantID: "v1", Quantity: 1}, Deps{
		Auth:      h.auth,
		Addresses: h.commerce,
		Estimates: h.commerce,
		Orders:    h.commerce,
		Gateway:   h.gateway,
		Geocoder:  h.geocoder,
		Observer:  h.observer,
		Currency:  "INR",
		Now:       h.clock,
	})
	return h
}

func homeAddress() Address {
	return Address{ID: "a1", Line1: "12, MG Road", City: "Bengaluru", IsDefault: true}
}

func ptr[T any](v T) *T { return &v }
