package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"storefront-service/internal/auth"
	"storefront-service/internal/checkout"
	"storefront-service/internal/ledger"
	"storefront-service/internal/session"
	"storefront-service/middleware"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

type otpLoginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Otp         string `json:"otp"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type paymentEventRequest struct {
	AttemptID uint64                `json:"attemptId" validate:"required"`
	Event     checkout.PaymentEvent `json:"event" validate:"required"`
	Detail    string                `json:"detail"`
}

// CreateCheckout opens a checkout for a single cart line. The caller's session, if any, owns it.
func (h *Handler) CreateCheckout(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var cart checkout.CartLine
	if err := c.ShouldBindJSON(&cart); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if err := h.validate.Struct(cart); err != nil {
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			vErr := vErrs[0]
			switch vErr.Tag() {
			case "required":
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value missing"})
				return
			case "min":
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value is less than " + vErr.Param()})
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	e := h.checkouts.Create(cart, h.callerSession(c))
	slog.Info("checkout created", slog.String(logkey.TraceID, traceId), slog.String(logkey.CheckoutID, e.ID()))
	c.JSON(http.StatusCreated, e.Snapshot())
}

func (h *Handler) GetCheckout(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.Snapshot())
}

func (h *Handler) DeleteCheckout(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	if err := h.checkouts.Delete(c.Request.Context(), e.ID()); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) BuyNow(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.BuyNow(c.Request.Context())
	h.respond(c, snap, err)
}

// CheckoutLogin resumes a checkout after login. A caller without a session token may send the
// OTP instead; the answer then carries the new session token next to the checkout.
func (h *Handler) CheckoutLogin(c *gin.Context) {
	var req otpLoginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
			return
		}
	}

	var issued *session.LoginResult
	if h.callerSession(c) == "" {
		if req.PhoneNumber == "" || req.Otp == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}
		res, err := h.sessions.Login(c.Request.Context(), req.PhoneNumber, req.Otp)
		if err != nil {
			h.upstreamError(c, h.social.Name(), err)
			return
		}
		if res.Session == nil {
			h.relay(c, h.social.Name(), res.Upstream, nil)
			return
		}
		issued = &res
		claims := auth.Claims{}
		claims.Subject = res.Session.ID
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), auth.ClaimsKey, claims))
	}

	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.OnAuthenticated(c.Request.Context())
	if issued == nil || err != nil {
		h.respond(c, snap, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     issued.Token,
		"expiresAt": issued.Session.ExpiresAt,
		"checkout":  snap,
	})
}

func (h *Handler) RequestNewAddress(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.RequestNewAddress(c.Request.Context())
	h.respond(c, snap, err)
}

func (h *Handler) CreateAddress(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var in checkout.AddressInput
	if err := c.ShouldBindJSON(&in); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	snap, err := e.CreateAddress(c.Request.Context(), in)
	h.respond(c, snap, err)
}

func (h *Handler) SelectAddress(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.SelectAddress(c.Request.Context(), c.Param("addressId"))
	h.respond(c, snap, err)
}

func (h *Handler) ApplyCoupon(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	snap, err := e.ApplyCoupon(c.Request.Context(), req.Code)
	h.respond(c, snap, err)
}

func (h *Handler) Back(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.Back(c.Request.Context())
	h.respond(c, snap, err)
}

// Pay answers with the launch parameters of the payment widget in the snapshot's payment field.
func (h *Handler) Pay(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	snap, err := e.Pay(c.Request.Context())
	h.respond(c, snap, err)
}

// PaymentEvent relays what the payment widget reported in the browser. A failed or dismissed
// payment is a normal outcome and is answered with 200; the snapshot carries the error.
func (h *Handler) PaymentEvent(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	var req paymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "attemptId and event are required"})
		return
	}

	snap, err := e.HandlePaymentEvent(c.Request.Context(), req.AttemptID, req.Event, req.Detail)
	switch checkout.KindOf(err) {
	case checkout.KindPaymentFailed, checkout.KindPaymentCancelled:
		c.JSON(http.StatusOK, snap)
		return
	}
	h.respond(c, snap, err)
}

// GetPayment reports the recorded state of one of the checkout's orders.
func (h *Handler) GetPayment(c *gin.Context) {
	e, ok := h.loadEntry(c)
	if !ok {
		return
	}
	if h.ledger == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Payment records are not enabled"})
		return
	}
	o, err := h.ledger.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		slog.Error("failed to fetch payment", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.OrderID, c.Param("orderId")), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}
	if o.CheckoutID != e.ID() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// loadEntry finds the checkout named in the path and binds it to the caller's session when it
// has no live owner. Checkouts of other live sessions are reported as missing.
func (h *Handler) loadEntry(c *gin.Context) (*checkout.Entry, bool) {
	e, err := h.checkouts.Get(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
		return nil, false
	}
	sid := h.callerSession(c)
	if !e.Accessible(c.Request.Context(), sid) {
		slog.Warn("checkout accessed by another session", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.CheckoutID, e.ID()))
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
		return nil, false
	}
	if sid != "" && e.Owner.SessionID() != sid {
		e.Adopt(sid)
	}
	return e, true
}

func (h *Handler) respond(c *gin.Context, snap checkout.Snapshot, err error) {
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}
	var ce *checkout.Error
	if !errors.As(err, &ce) {
		slog.Error("checkout operation failed", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.CheckoutID, snap.ID), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}
	c.AbortWithStatusJSON(statusForKind(ce.Kind), gin.H{
		"error":     ce.Message,
		"kind":      ce.Kind,
		"retryable": ce.Retryable,
		"checkout":  snap,
	})
}

func statusForKind(k checkout.Kind) int {
	switch k {
	case checkout.KindUnauthorized:
		return http.StatusUnauthorized
	case checkout.KindValidation:
		return http.StatusUnprocessableEntity
	case checkout.KindOrderExpired:
		return http.StatusGone
	case checkout.KindGatewayLoadFailed:
		return http.StatusServiceUnavailable
	case checkout.KindInvalidTransition, checkout.KindBusy, checkout.KindStaleAttempt:
		return http.StatusConflict
	case checkout.KindAddressCreationFailed, checkout.KindEstimationFailed, checkout.KindOrderCreationFailed,
		checkout.KindPaymentFailed, checkout.KindPaymentCancelled:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callerSession is the live login session named by the request token, or "". A token that
// outlived its session, e.g. after a logout, counts as anonymous.
func (h *Handler) callerSession(c *gin.Context) string {
	claims, ok := middleware.Claims(c.Request.Context())
	if !ok {
		return ""
	}
	if _, err := h.sessions.Get(c.Request.Context(), claims.Subject); err != nil {
		return ""
	}
	return claims.Subject
}
