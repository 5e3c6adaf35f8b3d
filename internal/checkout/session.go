package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// cancelTimeout bounds the best-effort cancel calls that outlive the request.
const cancelTimeout = 10 * time.Second

type Deps struct {
	Auth      Authenticator
	Addresses AddressService
	Estimates EstimateService
	Orders    OrderService
	Gateway   Gateway
	// Geocoder and Observer are optional.
	Geocoder Geocoder
	Observer Observer

	Currency        string
	LogisticsChoice string
	Now             func() time.Time
}

type attempt struct {
	id      uint64
	quoteID string
	order   Order
	launch  Launch
	done    bool
}

// Session drives a single "buy now" checkout. All operations are serialized; Pay additionally
// rejects a second call while one is still being prepared.
type Session struct {
	id   string
	deps Deps
	now  func() time.Time

	paying atomic.Bool
	// touched is read by the idle sweeper without waiting for a running operation.
	touched atomic.Int64

	mu         sync.Mutex
	step       Step
	cart       CartLine
	addresses  []Address
	selected   *Address
	estimate   *Estimate
	couponCode string
	lastErr    *Error
	attemptSeq uint64
	attempt    *attempt

	orders *OrderCache
}

func NewSession(id string, cart CartLine, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LogisticsChoice == "" {
		deps.LogisticsChoice = DefaultLogisticsChoice
	}
	if deps.Currency == "" {
		deps.Currency = "INR"
	}
	s := &Session{
		id:     id,
		deps:   deps,
		now:    deps.Now,
		step:   StepIdle,
		cart:   cart,
		orders: NewOrderCache(deps.Now),
	}
	s.touched.Store(deps.Now().UnixNano())
	return s
}

func (s *Session) ID() string { return s.id }

// Orders exposes the session's order cache.
func (s *Session) Orders() *OrderCache { return s.orders }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// LastTouched reports when an operation last ran on the session.
func (s *Session) LastTouched() time.Time {
	return time.Unix(0, s.touched.Load())
}

// BuyNow starts the flow. Unauthenticated shoppers are sent to login first.
func (s *Session) BuyNow(ctx context.Context) (Snapshot, error) {
	return s.run(ctx, "buy now", func(ctx context.Context) error {
		if s.step != StepIdle && s.step != StepSuccess {
			return s.invalid("buy now")
		}
		s.lastErr = nil
		s.attempt = nil
		if !s.deps.Auth.IsAuthenticated(ctx) {
			s.setStep(ctx, StepLogin)
			return nil
		}
		return s.enterAddress(ctx)
	})
}

// OnAuthenticated is called once login completed.
func (s *Session) OnAuthenticated(ctx context.Context) (Snapshot, error) {
	return s.run(ctx, "authenticated", func(ctx context.Context) error {
		if s.step != StepLogin && s.step != StepIdle {
			return s.invalid("complete login")
		}
		if !s.deps.Auth.IsAuthenticated(ctx) {
			return s.fail(newError(KindUnauthorized, "Please log in to continue", nil))
		}
		s.lastErr = nil
		return s.enterAddress(ctx)
	})
}

func (s *Session) RequestNewAddress(ctx context.Context) (Snapshot, error) {
	return s.run(ctx, "new address", func(ctx context.Context) error {
		if s.step != StepAddress && s.step != StepConfirm {
			return s.invalid("add an address")
		}
		s.setStep(ctx, StepAddressMap)
		return nil
	})
}

func (s *Session) CreateAddress(ctx context.Context, in AddressInput) (Snapshot, error) {
	return s.run(ctx, "create address", func(ctx context.Context) error {
		if s.step != StepAddressMap {
			return s.invalid("save an address")
		}
		userName := s.deps.Auth.UserName(ctx)
		if verr := validateAddress(in, userName == ""); verr != nil {
			return s.fail(verr)
		}

		place := Place{City: in.City, State: in.State, Pincode: in.Pincode}
		if (place.City == "" || place.State == "" || place.Pincode == "") && s.deps.Geocoder != nil {
			if found, err := s.deps.Geocoder.Reverse(ctx, *in.Lat, *in.Lng); err != nil {
				slog.Warn("reverse geocoding failed", s.logAttrs(ctx, slog.String(logkey.ERROR, err.Error()))...)
			} else {
				place = mergePlace(place, found)
			}
		}

		fullName := strings.TrimSpace(in.FullName)
		if fullName == "" {
			fullName = userName
		}
		created, err := s.deps.Addresses.CreateAddress(ctx, AddressFields{
			Nickname:    "Home",
			FullName:    fullName,
			Line1:       joinLine(in.HouseNumber, in.Street),
			Line2:       strings.TrimSpace(in.Line2),
			City:        orNA(place.City),
			State:       orNA(place.State),
			Pincode:     orNA(place.Pincode),
			Coordinates: Coordinates{Lat: *in.Lat, Lng: *in.Lng},
			Phone:       s.deps.Auth.Phone(ctx),
			IsDefault:   true,
		})
		if err != nil {
			if isUnauthorized(err) {
				return s.forceLogin(ctx, err)
			}
			return s.fail(newError(KindAddressCreationFailed, "Could not save the address. Please try again.", err))
		}

		for i := range s.addresses {
			s.addresses[i].IsDefault = false
		}
		s.addresses = append([]Address{created}, s.addresses...)
		s.selected = &s.addresses[0]
		s.lastErr = nil
		s.setStep(ctx, StepConfirm)
		return s.fetchEstimate(ctx)
	})
}

// SelectAddress picks one of the loaded addresses and always refreshes the estimate.
func (s *Session) SelectAddress(ctx context.Context, addressID string) (Snapshot, error) {
	return s.run(ctx, "select address", func(ctx context.Context) error {
		if s.step != StepAddress && s.step != StepConfirm {
			return s.invalid("select an address")
		}
		i := slices.IndexFunc(s.addresses, func(a Address) bool { return a.ID == addressID })
		if i < 0 {
			return s.fail(validationError("Unknown address"))
		}
		s.selected = &s.addresses[i]
		s.lastErr = nil
		s.setStep(ctx, StepConfirm)
		return s.fetchEstimate(ctx)
	})
}

// ApplyCoupon re-estimates with the given code; an empty code removes the coupon.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (Snapshot, error) {
	return s.run(ctx, "apply coupon", func(ctx context.Context) error {
		if s.step != StepConfirm {
			return s.invalid("apply a coupon")
		}
		s.couponCode = strings.TrimSpace(code)
		return s.fetchEstimate(ctx)
	})
}

func (s *Session) Back(ctx context.Context) (Snapshot, error) {
	return s.run(ctx, "back", func(ctx context.Context) error {
		switch s.step {
		case StepLogin:
			s.setStep(ctx, StepIdle)
		case StepAddress:
			s.setStep(ctx, StepIdle)
		case StepAddressMap:
			if len(s.addresses) == 0 {
				// There is nothing to pick from, the list would bounce straight back here.
				return nil
			}
			s.setStep(ctx, StepAddress)
		case StepConfirm:
			s.setStep(ctx, StepAddress)
		case StepPayment:
			if s.attempt != nil {
				s.attempt.done = true
			}
			s.setStep(ctx, StepConfirm)
		default:
			return s.invalid("go back")
		}
		s.lastErr = nil
		return nil
	})
}

// Pay obtains (or reuses) the order for the current quote and opens the payment widget.
func (s *Session) Pay(ctx context.Context) (Snapshot, error) {
	if !s.paying.CompareAndSwap(false, true) {
		// The first call holds the lock for as long as it talks to the gateway, so only the id
		// can be reported here.
		return Snapshot{ID: s.id, Busy: true}, newError(KindBusy, "Payment is being prepared", ErrBusy)
	}
	defer s.paying.Store(false)

	return s.run(ctx, "pay", func(ctx context.Context) error {
		if s.step != StepConfirm && s.step != StepPayment {
			return s.invalid("pay")
		}
		if s.selected == nil || s.estimate == nil {
			return s.fail(validationError("Select a delivery address to continue"))
		}
		if !s.deps.Auth.IsAuthenticated(ctx) {
			return s.forceLogin(ctx, ErrUnauthorized)
		}

		widget, err := s.deps.Gateway.Load(ctx)
		if err != nil {
			s.setStep(ctx, StepConfirm)
			return s.fail(newError(KindGatewayLoadFailed, "Payment could not be loaded. Please refresh and try again.", err))
		}

		quoteID := s.estimate.QuoteID
		order, created, err := s.orders.GetOrCreate(ctx, quoteID, s.deps.Orders.CreateOrder)
		switch {
		case errors.Is(err, ErrOrderExpired):
			return s.expire(ctx, quoteID, order)
		case errors.Is(err, errCacheCleared):
			s.cancelOrder(ctx, quoteID, order)
			return s.forceLogin(ctx, err)
		case isUnauthorized(err):
			return s.forceLogin(ctx, err)
		case err != nil:
			s.setStep(ctx, StepConfirm)
			return s.fail(newError(KindOrderCreationFailed, "Could not create the order. Please try again.", err))
		}
		if created {
			s.observe(ctx, EventOrderCreated, quoteID, order)
		}

		remaining := order.ExpiresAt.Sub(s.now())
		timeout := remaining.Truncate(time.Second)
		if timeout <= 0 {
			s.orders.Evict(quoteID)
			return s.expire(ctx, quoteID, order)
		}

		amount, err := MinorUnits(s.estimate.Total, s.deps.Currency)
		if err != nil {
			s.setStep(ctx, StepConfirm)
			return s.fail(newError(KindPaymentFailed, "Payment could not be started", err))
		}

		if s.attempt != nil {
			s.attempt.done = true
		}
		s.attemptSeq++
		a := &attempt{id: s.attemptSeq, quoteID: quoteID, order: order}

		launch, err := widget.Open(ctx, LaunchConfig{
			CheckoutID:     s.id,
			AttemptID:      a.id,
			OrderID:        order.OrderID,
			GatewayOrderID: order.GatewayOrderID,
			Amount:         amount,
			Currency:       s.deps.Currency,
			Timeout:        timeout,
			Prefill:        Prefill{Name: s.deps.Auth.UserName(ctx), Contact: s.deps.Auth.Phone(ctx)},
		})
		if err != nil {
			s.attempt = nil
			s.setStep(ctx, StepConfirm)
			return s.fail(newError(KindPaymentFailed, "Payment could not be started. Please try again.", err))
		}
		a.launch = launch
		s.attempt = a
		s.lastErr = nil
		s.setStep(ctx, StepPayment)
		s.observe(ctx, EventCheckoutInitiated, quoteID, order)
		return nil
	})
}

// HandlePaymentEvent applies the outcome reported by the payment widget. Exactly one outcome is
// accepted per attempt; anything for an older attempt, a finished attempt, or an order that is
// no longer cached is rejected with ErrStaleAttempt and changes nothing.
func (s *Session) HandlePaymentEvent(ctx context.Context, attemptID uint64, ev PaymentEvent, detail string) (Snapshot, error) {
	return s.run(ctx, "payment event", func(ctx context.Context) error {
		switch ev {
		case PaymentSucceeded, PaymentFailed, ModalDismissed:
		default:
			return validationError(fmt.Sprintf("Unknown payment event %q", ev))
		}

		a := s.attempt
		if a == nil || a.id != attemptID || a.done {
			return newError(KindStaleAttempt, "This payment window is no longer active", ErrStaleAttempt)
		}
		if cached, ok := s.orders.Peek(a.quoteID); !ok || cached.OrderID != a.order.OrderID {
			a.done = true
			return newError(KindStaleAttempt, "This payment window is no longer active", ErrStaleAttempt)
		}
		a.done = true

		switch ev {
		case PaymentSucceeded:
			s.orders.Evict(a.quoteID)
			s.lastErr = nil
			s.setStep(ctx, StepSuccess)
			s.observe(ctx, EventPaymentSucceeded, a.quoteID, a.order)
			return nil
		case PaymentFailed:
			s.cancelCached(ctx, a.quoteID)
			s.setStep(ctx, StepConfirm)
			s.observe(ctx, EventPaymentFailed, a.quoteID, a.order)
			msg := "Payment failed. Please try again."
			if detail != "" {
				msg = "Payment failed: " + detail
			}
			return s.fail(newError(KindPaymentFailed, msg, nil))
		default:
			s.cancelCached(ctx, a.quoteID)
			s.setStep(ctx, StepConfirm)
			s.observe(ctx, EventPaymentCancelled, a.quoteID, a.order)
			return s.fail(newError(KindPaymentCancelled, "Payment was cancelled", nil))
		}
	})
}

// ApplyGatewayEvent applies an outcome the gateway reported server side. It is accepted only for
// the order of the active attempt.
func (s *Session) ApplyGatewayEvent(ctx context.Context, orderID string, ev PaymentEvent, detail string) (Snapshot, error) {
	s.mu.Lock()
	var id uint64
	if s.attempt != nil && !s.attempt.done && s.attempt.order.OrderID == orderID {
		id = s.attempt.id
	}
	s.mu.Unlock()
	if id == 0 {
		return s.Snapshot(), newError(KindStaleAttempt, "No active payment for this order", ErrStaleAttempt)
	}
	return s.HandlePaymentEvent(ctx, id, ev, detail)
}

// ClearOrders forgets every cached order, e.g. after the shopper logged out elsewhere.
func (s *Session) ClearOrders() {
	s.orders.Clear()
}

// Close cancels whatever order is still cached, used when the checkout is abandoned.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for quoteID, o := range s.orders.EvictOthers("") {
		s.cancelOrder(ctx, quoteID, o)
	}
}

func (s *Session) run(ctx context.Context, op string, fn func(context.Context) error) (Snapshot, error) {
	s.touched.Store(s.now().UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		slog.Info("checkout operation rejected", s.logAttrs(ctx,
			slog.String("operation", op), slog.String(logkey.ERROR, err.Error()))...)
		var e *Error
		if !errors.As(err, &e) {
			err = newError(KindValidation, err.Error(), err)
		}
	}
	return s.snapshot(), err
}

// enterAddress loads the shopper's addresses and lands on confirm when there is one to preselect.
func (s *Session) enterAddress(ctx context.Context) error {
	s.setStep(ctx, StepAddress)
	list, err := s.deps.Addresses.FetchAddresses(ctx)
	if err != nil {
		if isUnauthorized(err) {
			return s.forceLogin(ctx, err)
		}
		slog.Warn("error fetching addresses", s.logAttrs(ctx, slog.String(logkey.ERROR, err.Error()))...)
		list = nil
	}
	s.addresses = list

	prev := ""
	if s.selected != nil {
		prev = s.selected.ID
	}
	s.selected = nil
	if i := pickAddress(list, prev); i >= 0 {
		s.selected = &s.addresses[i]
	}
	if s.selected == nil {
		s.setStep(ctx, StepAddressMap)
		return nil
	}
	s.setStep(ctx, StepConfirm)
	return s.fetchEstimate(ctx)
}

// pickAddress prefers the previous selection, then the default, then the first address.
func pickAddress(list []Address, prev string) int {
	if prev != "" {
		if i := slices.IndexFunc(list, func(a Address) bool { return a.ID == prev }); i >= 0 {
			return i
		}
	}
	if i := slices.IndexFunc(list, func(a Address) bool { return a.IsDefault }); i >= 0 {
		return i
	}
	if len(list) > 0 {
		return 0
	}
	return -1
}

func (s *Session) fetchEstimate(ctx context.Context) error {
	if s.selected == nil {
		return nil
	}
	est, err := s.deps.Estimates.FetchEstimate(ctx, EstimateRequest{
		Lines:           []CartLine{s.cart},
		AddressID:       s.selected.ID,
		LogisticsChoice: s.deps.LogisticsChoice,
		CouponCode:      s.couponCode,
	})
	if err != nil {
		s.estimate = nil
		if isUnauthorized(err) {
			return s.forceLogin(ctx, err)
		}
		return s.fail(newError(KindEstimationFailed, "Could not calculate the price for this address. Please try again.", err))
	}

	// Orders made for an older quote can no longer be paid.
	for quoteID, o := range s.orders.EvictOthers(est.QuoteID) {
		s.cancelOrder(ctx, quoteID, o)
	}
	s.estimate = &est
	s.lastErr = nil
	return nil
}

// forceLogin drops the login and every cached order, then sends the shopper back to login.
func (s *Session) forceLogin(ctx context.Context, cause error) error {
	s.orders.Clear()
	if s.attempt != nil {
		s.attempt.done = true
		s.attempt = nil
	}
	if err := s.deps.Auth.Logout(ctx); err != nil {
		slog.Warn("error logging out", s.logAttrs(ctx, slog.String(logkey.ERROR, err.Error()))...)
	}
	s.setStep(ctx, StepLogin)
	return s.fail(newError(KindUnauthorized, "Your session has expired. Please log in again.", cause))
}

func (s *Session) expire(ctx context.Context, quoteID string, order Order) error {
	s.cancelOrder(ctx, quoteID, order)
	s.observe(ctx, EventOrderExpired, quoteID, order)
	s.setStep(ctx, StepConfirm)
	return s.fail(newError(KindOrderExpired, "Your order has expired. Please try again.", ErrOrderExpired))
}

func (s *Session) cancelCached(ctx context.Context, quoteID string) {
	if o, ok := s.orders.Evict(quoteID); ok {
		s.cancelOrder(ctx, quoteID, o)
	}
}

// cancelOrder is best-effort; a failure is logged and otherwise ignored.
func (s *Session) cancelOrder(ctx context.Context, quoteID string, o Order) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := s.deps.Orders.CancelOrder(cctx, o.OrderID); err != nil {
		slog.Warn("error cancelling order", s.logAttrs(ctx,
			slog.String(logkey.OrderID, o.OrderID), slog.String(logkey.ERROR, err.Error()))...)
		return
	}
	s.observe(ctx, EventOrderCancelled, quoteID, o)
}

func (s *Session) observe(ctx context.Context, typ EventType, quoteID string, o Order) {
	if s.deps.Observer == nil {
		return
	}
	ev := Event{
		Type:           typ,
		CheckoutID:     s.id,
		QuoteID:        quoteID,
		OrderID:        o.OrderID,
		GatewayOrderID: o.GatewayOrderID,
		ProductID:      s.cart.ProductID,
		VariantID:      s.cart.VariantID,
		Quantity:       s.cart.Quantity,
		Currency:       s.deps.Currency,
		ExpiresAt:      o.ExpiresAt,
		At:             s.now(),
	}
	if s.attempt != nil {
		ev.AttemptID = s.attempt.id
	}
	if s.estimate != nil && s.estimate.QuoteID == quoteID {
		ev.Value = s.estimate.Total
	}
	s.deps.Observer.Observe(ctx, ev)
}

func (s *Session) setStep(ctx context.Context, step Step) {
	if s.step == step {
		return
	}
	slog.Debug("checkout step changed", s.logAttrs(ctx,
		slog.String("from", string(s.step)), slog.String(logkey.Step, string(step)))...)
	s.step = step
}

func (s *Session) fail(e *Error) error {
	s.lastErr = e
	return e
}

func (s *Session) invalid(action string) *Error {
	return newError(KindInvalidTransition, fmt.Sprintf("Cannot %s while at step %s", action, s.step), nil)
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Step:       s.step,
		Cart:       s.cart,
		Addresses:  slices.Clone(s.addresses),
		CouponCode: s.couponCode,
		Error:      s.lastErr,
	}
	if snap.Addresses == nil {
		snap.Addresses = []Address{}
	}
	if s.selected != nil {
		sel := *s.selected
		snap.SelectedAddress = &sel
	}
	if s.estimate != nil {
		est := *s.estimate
		snap.Estimate = &est
	}
	if a := s.attempt; a != nil && !a.done && s.step == StepPayment {
		snap.Payment = &PaymentView{
			AttemptID: a.id,
			OrderID:   a.order.OrderID,
			Gateway:   a.launch.Gateway,
			Params:    a.launch.Params,
			ExpiresAt: a.order.ExpiresAt,
		}
	}
	return snap
}

func (s *Session) logAttrs(ctx context.Context, attrs ...any) []any {
	return append([]any{
		slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
		slog.String(logkey.CheckoutID, s.id),
	}, attrs...)
}

func mergePlace(have, found Place) Place {
	if have.City == "" {
		have.City = found.City
	}
	if have.State == "" {
		have.State = found.State
	}
	if have.Pincode == "" {
		have.Pincode = found.Pincode
	}
	return have
}
