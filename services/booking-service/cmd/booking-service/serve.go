package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/auth"
	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/libs/httpx"
	"github.com/md-rashed-zaman/vetbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/vetbook/libs/otel"
	"github.com/md-rashed-zaman/vetbook/libs/runtime"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox relay and the payment reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(s.Service, s.LogLevel, s.LogFormat)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.Config{
		Enabled:      s.OtelEnabled,
		ServiceName:  s.Service,
		OTLPEndpoint: s.OtelEndpoint,
		SampleRatio:  s.OtelSampleRatio,
	})
	if err != nil {
		logger.Error().Err(err).Msg("otel setup failed")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var rdb *redis.Client
	if s.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB})
		defer rdb.Close()
	}

	var gateway payments.Gateway = payments.ManualGateway{}
	if s.StripeSecretKey != "" {
		gateway = payments.NewStripeGateway(s.StripeSecretKey)
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		checks   []runtime.ReadyCheck
		deps     booking.Deps
		eventLog handlers.EventLog
		leader   payments.Leader
	)
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	switch s.Store {
	case storeMemory:
		providers, err := loadProviders(s.DefaultCurrency)
		if err != nil {
			return err
		}
		store := memstore.New()
		deps = booking.Deps{
			Rules:        store,
			Appointments: store,
			Intents:      store,
			Directory:    directory.NewStatic(providers...),
			Issuer:       payments.NewIssuer(store, gateway, logger),
			Bus:          events.NewLogBus(logger),
		}
		eventLog = store
		logger.Warn().Int("providers", len(providers)).Msg("using in-memory store; data is lost on restart")

	case storePostgres:
		pool, err := db.Open(ctx, s.DatabaseURL, db.PoolOptions{MaxConns: int32(s.DBMaxConns)})
		if err != nil {
			logger.Error().Err(err).Msg("db connection failed")
			return err
		}
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		var dir directory.Directory = storage.NewProviderRepository(pool)
		if rdb != nil {
			dir = directory.NewCached(dir, rdb, s.CacheTTL, logger)
		}
		paymentRepo := storage.NewPaymentRepository(pool)
		outboxRepo := outbox.NewRepository(pool)
		bus := events.NewOutboxBus(outboxRepo, logger, s.EventQueueSize)
		g.Go(func() error { return bus.Run(gctx) })

		if brokers := kafkax.SplitBrokers(s.KafkaBrokers); len(brokers) > 0 {
			publisher := outbox.NewPublisher(pool, outboxRepo, kafkax.NewWriter(brokers), logger, outbox.PublisherConfig{
				TopicPrefix: s.TopicPrefix,
				PollEvery:   s.OutboxInterval,
				BatchSize:   s.OutboxBatch,
			})
			g.Go(func() error { return publisher.Run(gctx) })
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		} else {
			logger.Warn().Msg("KAFKA_BROKERS not set; outbox events are stored but not relayed")
		}

		bookings := storage.NewBookingRepository(pool)
		deps = booking.Deps{
			Rules:        storage.NewAvailabilityRepository(pool),
			Appointments: bookings,
			Intents:      paymentRepo,
			Directory:    dir,
			Issuer:       payments.NewIssuer(paymentRepo, gateway, logger),
			Bus:          bus,
		}
		eventLog = paymentRepo
		leader = storage.NewAdvisoryLeader(pool, int64(s.ReconcileLockKey))
	}

	deps.Logger = logger
	svc := booking.New(deps, booking.Config{
		DefaultTimezone:     s.DefaultTimezone,
		DefaultCurrency:     s.DefaultCurrency,
		EnforceAvailability: s.EnforceAvailability,
	})

	reconciler := payments.NewReconciler(svc, leader, logger, payments.ReconcilerConfig{Interval: s.ReconcileInterval})
	g.Go(func() error { return reconciler.Run(gctx) })

	var verifier handlers.Verifier
	if s.StripeWebhookSecret != "" {
		verifier = payments.NewStripeWebhook(s.StripeWebhookSecret, s.StripeWebhookTolerance)
	}

	e := newEcho(s, logger, rdb)
	runtime.RegisterHealth(e, checks...)
	handlers.NewBookingHandler(svc, verifier, eventLog, logger).Register(e.Group("/api/v1"), e.Group("/webhooks"))

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           otelhttp.NewHandler(e, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error { return runtime.Serve(gctx, srv, logger, 10*time.Second) })

	logger.Info().
		Str("store", s.Store).
		Str("gateway", gateway.Channel()).
		Bool("enforce_availability", s.EnforceAvailability).
		Msg("booking service started")
	return g.Wait()
}

func newEcho(s settings, logger zerolog.Logger, rdb *redis.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)

	e.Use(httpx.Stack(logger, httpx.Options{
		BodyLimitBytes: int64(s.BodyLimit),
		Timeout:        s.RequestTimeout,
		CORS: httpx.CORSPolicy{
			AllowedOrigins: s.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, handlers.IdempotencyKeyHeader, httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		},
	})...)
	if rdb != nil {
		e.Use(httpx.NewRedisRateLimiter(rdb, s.RateLimitPerMinute, time.Minute, "vetbook:rl").Middleware(logger, s.RateLimitFailOpen))
	} else {
		e.Use(httpx.NewRateLimiter(s.RateLimitPerMinute).Middleware())
	}
	e.Use(auth.Middleware(auth.MiddlewareConfig{
		Secret:              s.JWTSecret,
		TrustGatewayHeaders: s.TrustGatewayHeaders,
		Skip: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/webhooks/")
		},
	}))
	return e
}
