package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"storefront-service/handlers"
	"storefront-service/internal/auth"
	"storefront-service/internal/checkout"
	"storefront-service/internal/checkout/adapter"
	"storefront-service/internal/config"
	"storefront-service/internal/consul"
	"storefront-service/internal/geocode"
	"storefront-service/internal/ledger"
	"storefront-service/internal/payment"
	"storefront-service/internal/session"
	"storefront-service/internal/stores/kafka"
	"storefront-service/internal/stores/postgres"
	"storefront-service/internal/upstream"
	"storefront-service/pkg/logkey"
	"storefront-service/pkg/metrics"
)

func main() {
	if err := startApp(); err != nil {
		slog.Error("storefront stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func startApp() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupSlog(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// consul
	var consulClient *consulapi.Client
	if cfg.ConsulAddr != "" {
		consulClient, err = consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			return err
		}
	}

	// upstream apis
	opts := upstream.Options{Timeout: cfg.UpstreamTimeout, Headers: cfg.UpstreamHeaders}
	commerce := upstream.NewCommerce(upstream.NewClient("commerce",
		resolver(consulClient, cfg.CommerceURL, cfg.CommerceServiceName), opts))
	social := upstream.NewSocial(upstream.NewClient("social",
		resolver(consulClient, cfg.SocialURL, cfg.SocialServiceName), opts))

	// sessions
	keys, err := auth.NewKeys(cfg.JWTSecret)
	if err != nil {
		return err
	}
	var store session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		store = session.NewRedisStore(rdb)
		slog.Info("sessions stored in redis", slog.String("addr", cfg.RedisAddr))
	}
	sessions := session.NewManager(store, keys, social, cfg.SessionTTL)

	// observers: metrics, payment ledger, kafka
	m := metrics.NewServerMetrics(prometheus.DefaultRegisterer)
	observers := checkout.Observers{m}

	var payments *ledger.Conf
	if cfg.DatabaseURL != "" {
		db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		payments, err = ledger.NewConf(db)
		if err != nil {
			return err
		}
		q := checkout.NewQueuedObserver("ledger", payments, checkout.DefaultQueueSize)
		defer drain(q)
		observers = append(observers, q)
	}

	if len(cfg.KafkaBrokers) > 0 {
		k, err := kafka.NewConf(cfg.KafkaBrokers, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer k.Close()
		if err := k.Ping(ctx); err != nil {
			slog.Warn("kafka not reachable yet", slog.String(logkey.ERROR, err.Error()))
		}
		q := checkout.NewQueuedObserver("kafka", kafka.NewPublisher(k), checkout.DefaultQueueSize)
		defer drain(q)
		observers = append(observers, q)
	}

	// payment gateway
	var (
		gateway checkout.Gateway
		stripe  *payment.Stripe
	)
	switch cfg.PaymentGateway {
	case "stripe":
		stripe = payment.NewStripe(payment.StripeOptions{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
		gateway = stripe
	default:
		gateway = payment.NewRazorpay(payment.RazorpayOptions{
			Key:          cfg.RazorpayKey,
			ScriptURL:    cfg.RazorpayScriptURL,
			MerchantName: cfg.MerchantName,
		})
	}

	// checkouts
	geocoder, err := geocode.New(cfg.GoogleMapsKey, "", nil)
	if err != nil {
		return fmt.Errorf("creating geocoder: %w", err)
	}
	checkouts := checkout.NewRegistry(func(checkoutID, sessionID string) (checkout.Deps, checkout.Owner) {
		binding := session.NewBinding(sessions, sessionID)
		api := adapter.NewCommerce(commerce, binding)
		return checkout.Deps{
			Auth:      binding,
			Addresses: api,
			Estimates: api,
			Orders:    api,
			Gateway:   gateway,
			Geocoder:  geocoder,
			Observer:  observers,
			Currency:  cfg.Currency,
		}, binding
	}, cfg.CheckoutIdleTTL)
	sessions.OnLogout(func(_ context.Context, sessionID string) {
		checkouts.ClearOwner(sessionID)
	})
	go checkouts.Run(ctx, time.Minute)

	// grpc health
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listening on grpc port: %w", err)
	}
	go func() {
		slog.Info("grpc health server listening", slog.Int("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("grpc server stopped", slog.String(logkey.ERROR, err.Error()))
		}
	}()
	defer grpcServer.GracefulStop()

	// http server
	router := handlers.API(cfg.APIPrefix, keys, handlers.Deps{
		Commerce:  commerce,
		Social:    social,
		Sessions:  sessions,
		Checkouts: checkouts,
		Geocoder:  geocoder,
		Stripe:    stripe,
		Ledger:    payments,
		Metrics:   m,
		Gatherer:  prometheus.DefaultGatherer,
		GinMode:   cfg.GinMode,
	})
	api := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("api listening", slog.String("addr", api.Addr))
		serverErrors <- api.ListenAndServe()
	}()

	if consulClient != nil {
		serviceID := cfg.ServiceName + "-" + uuid.NewString()
		if err := consul.RegisterService(consulClient, serviceID, cfg.ServiceName, cfg.ServiceHost, cfg.HTTPPort); err != nil {
			return err
		}
		defer func() {
			if err := consul.DeregisterService(consulClient, serviceID); err != nil {
				slog.Warn("consul deregistration failed", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown started")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			_ = api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		slog.Info("shutdown complete")
		return nil
	}
}

// drain runs before the ledger db and the kafka producer are closed.
func drain(q *checkout.QueuedObserver) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		slog.Warn("checkout events not fully delivered", slog.String(logkey.ERROR, err.Error()))
	}
}

// resolver prefers the consul service name over a fixed URL.
func resolver(client *consulapi.Client, url, serviceName string) upstream.Resolver {
	if serviceName != "" && client != nil {
		return upstream.ConsulResolver{Client: client, Service: serviceName}
	}
	return upstream.StaticResolver(url)
}

func setupSlog(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     l,
	})
	slog.SetDefault(slog.New(logHandler))
}
