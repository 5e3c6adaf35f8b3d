// Package payment implements the checkout gateways.
package payment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront-service/internal/checkout"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const (
	DefaultRazorpayScript = "https://checkout.razorpay.com/v1/checkout.js"
	themeColor            = "#3ff0ff"
	scriptLoadTimeout     = 15 * time.Second
)

type RazorpayOptions struct {
	Key          string
	ScriptURL    string
	MerchantName string
	HTTPClient   *http.Client
}

// Razorpay checks once that the checkout script is reachable and hands out the options the
// browser passes to it.
type Razorpay struct {
	opts  RazorpayOptions
	http  *http.Client
	group singleflight.Group

	mu     sync.Mutex
	widget *razorpayWidget
}

func NewRazorpay(opts RazorpayOptions) *Razorpay {
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultRazorpayScript
	}
	if opts.MerchantName == "" {
		opts.MerchantName = "Storefront"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Razorpay{opts: opts, http: hc}
}

// Load fetches the script at most once at a time. A failed load is not remembered so the next
// Pay tries again. The shared fetch outlives the caller that started it; each caller stops
// waiting when its own ctx is done.
func (r *Razorpay) Load(ctx context.Context) (checkout.Widget, error) {
	r.mu.Lock()
	w := r.widget
	r.mu.Unlock()
	if w != nil {
		return w, nil
	}

	ch := r.group.DoChan("script", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scriptLoadTimeout)
		defer cancel()
		if err := r.fetchScript(fetchCtx); err != nil {
			return nil, err
		}
		w := &razorpayWidget{opts: r.opts}
		r.mu.Lock()
		r.widget = w
		r.mu.Unlock()
		return w, nil
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(*razorpayWidget), nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	slog.Error("error loading razorpay script", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
		slog.String(logkey.ERROR, err.Error()))
	return nil, err
}

func (r *Razorpay) fetchScript(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.ScriptURL, nil)
	if err != nil {
		return fmt.Errorf("error creating script request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", r.opts.ScriptURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %d", r.opts.ScriptURL, resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", r.opts.ScriptURL, err)
	}
	if n == 0 {
		return fmt.Errorf("fetching %s: empty script", r.opts.ScriptURL)
	}
	return nil
}

type razorpayWidget struct {
	opts RazorpayOptions
}

func (w *razorpayWidget) Open(_ context.Context, cfg checkout.LaunchConfig) (checkout.Launch, error) {
	if cfg.GatewayOrderID == "" {
		return checkout.Launch{}, fmt.Errorf("order %s has no razorpay order id", cfg.OrderID)
	}
	prefill := map[string]string{}
	if cfg.Prefill.Name != "" {
		prefill["name"] = cfg.Prefill.Name
	}
	if cfg.Prefill.Contact != "" {
		prefill["contact"] = cfg.Prefill.Contact
	}
	return checkout.Launch{
		Gateway: "razorpay",
		Params: map[string]any{
			"script":   w.opts.ScriptURL,
			"key":      w.opts.Key,
			"amount":   cfg.Amount,
			"currency": cfg.Currency,
			"name":     w.opts.MerchantName,
			"order_id": cfg.GatewayOrderID,
			"timeout":  int64(cfg.Timeout / time.Second),
			"prefill":  prefill,
			"theme":    map[string]string{"color": themeColor},
			"notes": map[string]string{
				"checkout_id": cfg.CheckoutID,
				"order_id":    cfg.OrderID,
				"attempt_id":  strconv.FormatUint(cfg.AttemptID, 10),
			},
		},
	}, nil
}
