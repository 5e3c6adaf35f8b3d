package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/checkout"
)

func TestRazorpay_ConcurrentLoadsFetchOnce(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("window.Razorpay = function() {};"))
	}))
	defer srv.Close()

	rp := NewRazorpay(RazorpayOptions{Key: "rzp_test", ScriptURL: srv.URL, HTTPClient: srv.Client()})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rp.Load(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	_, err := rp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRazorpay_FailedLoadIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("window.Razorpay = function() {};"))
	}))
	defer srv.Close()

	rp := NewRazorpay(RazorpayOptions{ScriptURL: srv.URL, HTTPClient: srv.Client()})
	_, err := rp.Load(context.Background())
	require.Error(t, err)

	_, err = rp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRazorpay_CancelledFirstCallerDoesNotFailOthers(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
		}
		<-release
		_, _ = w.Write([]byte("window.Razorpay = function() {};"))
	}))
	defer srv.Close()

	rp := NewRazorpay(RazorpayOptions{ScriptURL: srv.URL, HTTPClient: srv.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := rp.Load(ctx)
		firstErr <- err
	}()
	<-entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := rp.Load(context.Background())
		secondErr <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	_, err := rp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRazorpayWidget_Open(t *testing.T) {
	w := &razorpayWidget{opts: RazorpayOptions{Key: "rzp_test", ScriptURL: DefaultRazorpayScript, MerchantName: "Shop"}}

	launch, err := w.Open(context.Background(), checkout.LaunchConfig{
		CheckoutID:     "chk-1",
		AttemptID:      3,
		OrderID:        "o1",
		GatewayOrderID: "order_X",
		Amount:         134850,
		Currency:       "INR",
		Timeout:        14*time.Minute + 59*time.Second,
		Prefill:        checkout.Prefill{Name: "Asha", Contact: "+919876543210"},
	})
	require.NoError(t, err)

	assert.Equal(t, "razorpay", launch.Gateway)
	p := launch.Params
	assert.Equal(t, "rzp_test", p["key"])
	assert.Equal(t, int64(134850), p["amount"])
	assert.Equal(t, "order_X", p["order_id"])
	assert.Equal(t, int64(899), p["timeout"])
	assert.Equal(t, map[string]string{"name": "Asha", "contact": "+919876543210"}, p["prefill"])
	assert.Equal(t, map[string]string{"color": "#3ff0ff"}, p["theme"])
	assert.Equal(t, "3", p["notes"].(map[string]string)["attempt_id"])

	_, err = w.Open(context.Background(), checkout.LaunchConfig{OrderID: "o2"})
	assert.Error(t, err)
}
