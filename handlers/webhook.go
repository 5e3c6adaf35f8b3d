package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/checkout"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// StripeWebhook applies payment outcomes Stripe reports server side. Events that no longer match
// an active payment are acknowledged so Stripe stops retrying them.
func (h *Handler) StripeWebhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	const MaxBodyBytes = int64(65536)

	if h.stripe == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Stripe is not enabled"})
		return
	}

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("failed to read webhook body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, ok, err := h.stripe.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		slog.Error("webhook rejected", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		return
	}
	if !ok {
		slog.Info("Unhandled event type", slog.String(logkey.TraceID, traceId), slog.String("event_id", ev.ID))
		c.JSON(http.StatusOK, gin.H{"message": "Event type not handled"})
		return
	}

	ctx := c.Request.Context()
	if h.ledger != nil {
		first, err := h.ledger.MarkWebhookProcessed(ctx, ev.ID)
		if err != nil {
			slog.Error("failed to record webhook", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
			return
		}
		if !first {
			c.JSON(http.StatusOK, gin.H{"message": "Event already processed"})
			return
		}
	}

	attrs := []any{
		slog.String(logkey.TraceID, traceId),
		slog.String(logkey.CheckoutID, ev.CheckoutID),
		slog.String(logkey.OrderID, ev.OrderID),
		slog.String("event", string(ev.Type)),
	}
	e, err := h.checkouts.Get(ev.CheckoutID)
	if err != nil {
		slog.Warn("webhook for unknown checkout", attrs...)
		c.JSON(http.StatusOK, gin.H{"message": "Checkout not active"})
		return
	}
	snap, err := e.ApplyGatewayEvent(ctx, ev.OrderID, ev.Type, ev.Detail)
	switch checkout.KindOf(err) {
	case "", checkout.KindPaymentFailed, checkout.KindPaymentCancelled:
		slog.Info("payment outcome applied", append(attrs, slog.String(logkey.Step, string(snap.Step)))...)
		c.JSON(http.StatusOK, gin.H{"message": "Event processed", "step": snap.Step})
	default:
		slog.Info("webhook ignored", append(attrs, slog.String(logkey.ERROR, err.Error()))...)
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
	}
}
