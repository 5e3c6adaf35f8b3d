package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"storefront-service/internal/auth"
	"storefront-service/internal/checkout"
	"storefront-service/internal/geocode"
	"storefront-service/internal/ledger"
	"storefront-service/internal/payment"
	"storefront-service/internal/session"
	"storefront-service/internal/upstream"
	"storefront-service/middleware"
	"storefront-service/pkg/metrics"
)

type Deps struct {
	Commerce  *upstream.Commerce
	Social    *upstream.Social
	Sessions  *session.Manager
	Checkouts *checkout.Registry
	Geocoder  *geocode.Client
	// Stripe and Ledger are nil when not configured.
	Stripe   *payment.Stripe
	Ledger   *ledger.Conf
	Metrics  *metrics.ServerMetrics
	Gatherer prometheus.Gatherer
	GinMode  string
}

type Handler struct {
	commerce  *upstream.Commerce
	social    *upstream.Social
	sessions  *session.Manager
	checkouts *checkout.Registry
	geocoder  *geocode.Client
	stripe    *payment.Stripe
	ledger    *ledger.Conf
	metrics   *metrics.ServerMetrics
	validate  *validator.Validate
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		commerce:  d.Commerce,
		social:    d.Social,
		sessions:  d.Sessions,
		checkouts: d.Checkouts,
		geocoder:  d.Geocoder,
		stripe:    d.Stripe,
		ledger:    d.Ledger,
		metrics:   d.Metrics,
		validate:  validator.New(),
	}
}

func API(endpointPrefix string, k *auth.Keys, d Deps) *gin.Engine {
	if d.GinMode == gin.ReleaseMode || d.GinMode == gin.TestMode {
		gin.SetMode(d.GinMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	m, err := middleware.NewMid(k)
	if err != nil {
		panic(err)
	}

	h := NewHandler(d)
	r.Use(middleware.Logger(), gin.Recovery())
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
		gatherer := d.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	r.GET("/ping", HealthCheck)
	r.POST("/webhooks/stripe", h.StripeWebhook)

	public := r.Group(endpointPrefix)
	{
		public.GET("/products/:productId", h.GetProduct)
		public.GET("/auth/generateOtp", h.GenerateOtp)
		public.GET("/auth/verifyOtp", h.VerifyOtp)
		public.GET("/geocode/search", h.GeocodeSearch)
		public.GET("/geocode/reverse", h.GeocodeReverse)
	}

	optional := r.Group(endpointPrefix)
	{
		optional.Use(m.OptionalAuthentication())
		optional.POST("/linkClick", h.LinkClick)

		sessions := optional.Group("/checkout/sessions")
		sessions.POST("", h.CreateCheckout)
		sessions.GET("/:id", h.GetCheckout)
		sessions.DELETE("/:id", h.DeleteCheckout)
		sessions.POST("/:id/buy", h.BuyNow)
		sessions.POST("/:id/login", h.CheckoutLogin)
		sessions.POST("/:id/addresses/new", h.RequestNewAddress)
		sessions.POST("/:id/addresses", h.CreateAddress)
		sessions.PUT("/:id/addresses/:addressId", h.SelectAddress)
		sessions.POST("/:id/coupon", h.ApplyCoupon)
		sessions.POST("/:id/back", h.Back)
		sessions.POST("/:id/pay", h.Pay)
		sessions.POST("/:id/payment-events", h.PaymentEvent)
		sessions.GET("/:id/payments/:orderId", h.GetPayment)
	}

	private := r.Group(endpointPrefix)
	{
		private.Use(m.Authentication())
		private.GET("/auth/userDetails", h.UserDetails)
		private.POST("/auth/userDetails", h.UserDetails)
		private.POST("/auth/logout", h.Logout)
		private.GET("/addresses", h.Addresses)
		private.POST("/addresses", h.Addresses)
		private.POST("/checkout/estimate", h.Estimate)
		private.POST("/checkout/createOrder", h.CreateOrder)
		private.PUT("/order/:orderId/cancel", h.CancelOrder)
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}
