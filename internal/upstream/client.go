package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/sony/gobreaker/v2"

	"storefront-service/internal/consul"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const maxBodyBytes = 1 << 20

var (
	ErrUnauthorized = errors.New("upstream rejected the session token")
	ErrUnavailable  = errors.New("upstream unavailable")

	errServerStatus = errors.New("upstream answered with a server error")
)

// StatusError is returned by the typed calls for any non-2xx answer.
type StatusError struct {
	Upstream string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Upstream, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Resolver yields the base URL (scheme, host and path prefix) of an upstream.
type Resolver interface {
	BaseURL(ctx context.Context) (string, error)
}

type StaticResolver string

func (s StaticResolver) BaseURL(context.Context) (string, error) {
	return strings.TrimRight(string(s), "/"), nil
}

// ConsulResolver looks the service up on every call so a moved instance is picked up.
type ConsulResolver struct {
	Client  *consulapi.Client
	Service string
	Prefix  string
}

func (r ConsulResolver) BaseURL(context.Context) (string, error) {
	address, port, err := consul.GetServiceAddress(r.Client, r.Service)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Sprintf("http://%s:%d%s", address, port, r.Prefix), nil
}

type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Token   string
	Headers map[string]string
}

type Response struct {
	Status int
	Body   []byte
}

type Options struct {
	Timeout time.Duration
	Headers map[string]string
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

type Client struct {
	name     string
	resolver Resolver
	http     *http.Client
	headers  map[string]string
	breaker  *gobreaker.CircuitBreaker[*Response]
}

func NewClient(name string, resolver Resolver, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		name:     name,
		resolver: resolver,
		http:     hc,
		headers:  opts.Headers,
		breaker: gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", slog.String(logkey.Upstream, name),
					slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
	}
}

func (c *Client) Name() string { return c.name }

// Do performs the request and returns whatever the upstream answered. An error is returned only
// when no answer was obtained; 4xx and 5xx answers come back as a Response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.breaker.Execute(func() (*Response, error) {
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, c.name, err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	base, err := c.resolver.BaseURL(ctx)
	if err != nil {
		return nil, err
	}
	u := base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if tkn := CleanToken(req.Token); tkn != "" {
		httpReq.Header.Set("Authorization", tkn)
	}
	if traceId := ctxmanage.GetTraceId(ctx); traceId != "" {
		httpReq.Header.Set("X-Request-ID", traceId)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s %s: %w", c.name, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.name, err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Call performs the request and decodes a 2xx JSON answer into out (which may be nil).
func (c *Client) Call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return &StatusError{Upstream: c.name, Status: resp.Status, Message: errorMessage(resp)}
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", c.name, err)
	}
	return nil
}

// CleanToken strips an optional Bearer prefix; upstreams expect the raw token.
func CleanToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}

// RelayBody returns the body unchanged when it is valid JSON and {} otherwise.
func RelayBody(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return []byte("{}")
	}
	return body
}

func errorMessage(resp *Response) string {
	var e struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if s, ok := e.Error.(string); ok && s != "" {
			return s
		}
	}
	if text := http.StatusText(resp.Status); text != "" {
		return text
	}
	return fmt.Sprintf("Request failed: %d", resp.Status)
}
