package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/session"
	"storefront-service/internal/upstream"
	"storefront-service/middleware"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const maxBodyBytes = int64(1 << 20)

func (h *Handler) GetProduct(c *gin.Context) {
	resp, err := h.commerce.GetProduct(c.Request.Context(), c.Param("productId"))
	h.relay(c, h.commerce.Name(), resp, err)
}

func (h *Handler) GenerateOtp(c *gin.Context) {
	phone := c.Query("phoneNumber")
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phoneNumber required"})
		return
	}
	resp, err := h.social.GenerateOtp(c.Request.Context(), phone)
	h.relay(c, h.social.Name(), resp, err)
}

// VerifyOtp logs the shopper in. The upstream token stays on the server; the answer carries a
// session token instead.
func (h *Handler) VerifyOtp(c *gin.Context) {
	phone, otp := c.Query("phoneNumber"), c.Query("otp")
	if phone == "" || otp == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phoneNumber and otp required"})
		return
	}
	res, err := h.sessions.Login(c.Request.Context(), phone, otp)
	if err != nil {
		h.upstreamError(c, h.social.Name(), err)
		return
	}
	if res.Session == nil {
		h.relay(c, h.social.Name(), res.Upstream, nil)
		return
	}
	c.JSON(http.StatusOK, loginBody(res))
}

func loginBody(res session.LoginResult) map[string]any {
	body := map[string]any{}
	if res.Upstream != nil {
		_ = json.Unmarshal(res.Upstream.Body, &body)
		if body == nil {
			body = map[string]any{}
		}
	}
	body["token"] = res.Token
	body["expiresAt"] = res.Session.ExpiresAt
	if res.Session.User != nil {
		body["user"] = res.Session.User
	}
	return body
}

func (h *Handler) UserDetails(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	resp, err := h.social.Do(c.Request.Context(), upstream.Request{
		Method: c.Request.Method,
		Path:   "/userDetails",
		Token:  s.UpstreamToken,
		Body:   body,
	})
	if err == nil && c.Request.Method == http.MethodPost && resp.Status < 300 {
		if _, err := h.sessions.RefreshUser(c.Request.Context(), s.ID); err != nil {
			slog.Warn("failed to refresh user details", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
				slog.String(logkey.ERROR, err.Error()))
		}
	}
	h.relay(c, h.social.Name(), resp, err)
}

// Logout destroys the session; checkouts bound to it drop their cached orders.
func (h *Handler) Logout(c *gin.Context) {
	claims, _ := middleware.Claims(c.Request.Context())
	err := h.sessions.Logout(c.Request.Context(), claims.Subject)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Error("failed to log out", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) Addresses(c *gin.Context) {
	h.forward(c, h.commerce.Client, "/addresses")
}

func (h *Handler) Estimate(c *gin.Context) {
	h.forward(c, h.commerce.Client, "/checkout/estimate")
}

func (h *Handler) CreateOrder(c *gin.Context) {
	h.forward(c, h.commerce.Client, "/checkout/createOrder")
}

func (h *Handler) CancelOrder(c *gin.Context) {
	h.forward(c, h.commerce.Client, "/order/"+c.Param("orderId")+"/cancel")
}

// LinkClick records a tracked link visit, attributed to the shopper when logged in.
func (h *Handler) LinkClick(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	req := upstream.Request{Method: http.MethodPost, Path: "/linkClick", Body: body}
	if claims, ok := middleware.Claims(c.Request.Context()); ok {
		if s, err := h.sessions.Get(c.Request.Context(), claims.Subject); err == nil {
			req.Token = s.UpstreamToken
		}
	}
	resp, err := h.social.Do(c.Request.Context(), req)
	h.relay(c, h.social.Name(), resp, err)
}

func (h *Handler) GeocodeSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	results, err := h.geocoder.Search(c.Request.Context(), q)
	if err != nil {
		slog.Error("geocode search failed", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Geocoding failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) GeocodeReverse(c *gin.Context) {
	empty := gin.H{"city": "", "state": "", "pincode": ""}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusOK, empty)
		return
	}
	place, err := h.geocoder.Reverse(c.Request.Context(), lat, lng)
	if err != nil {
		slog.Error("reverse geocode failed", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Geocoding failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"city": place.City, "state": place.State, "pincode": place.Pincode})
}

// forward relays the request body to path on the upstream with the caller's upstream token.
func (h *Handler) forward(c *gin.Context, client *upstream.Client, path string) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	resp, err := client.Do(c.Request.Context(), upstream.Request{
		Method: c.Request.Method,
		Path:   path,
		Query:  c.Request.URL.Query(),
		Body:   body,
		Token:  s.UpstreamToken,
	})
	h.relay(c, client.Name(), resp, err)
}

func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	claims, ok := middleware.Claims(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return nil, false
	}
	s, err := h.sessions.Get(c.Request.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("failed to load session", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
				slog.String(logkey.ERROR, err.Error()))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return nil, false
	}
	return s, true
}

// relay writes the upstream answer as is, with a non-JSON body replaced by {}.
func (h *Handler) relay(c *gin.Context, name string, resp *upstream.Response, err error) {
	if err != nil {
		h.upstreamError(c, name, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveUpstream(name, resp.Status)
	}
	c.Data(resp.Status, "application/json; charset=utf-8", upstream.RelayBody(resp.Body))
}

func (h *Handler) upstreamError(c *gin.Context, name string, err error) {
	slog.Error("upstream call failed", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
		slog.String(logkey.Upstream, name), slog.String(logkey.ERROR, err.Error()))
	status := http.StatusBadGateway
	if errors.Is(err, upstream.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// readBody returns nil for requests without a body.
func readBody(c *gin.Context) ([]byte, bool) {
	if c.Request.Body == nil || c.Request.Method == http.MethodGet {
		return nil, true
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	return data, true
}
