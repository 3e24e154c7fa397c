package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mindery/booking/libs/auth"
	"github.com/mindery/booking/libs/db"
	"github.com/mindery/booking/libs/httpx"
	"github.com/mindery/booking/libs/kafkax"
	otelx "github.com/mindery/booking/libs/otel"
	"github.com/mindery/booking/libs/runtime"
	"github.com/mindery/booking/services/availability-service/internal/consumer"
	"github.com/mindery/booking/services/availability-service/internal/handlers"
	"github.com/mindery/booking/services/availability-service/internal/inbox"
	"github.com/mindery/booking/services/availability-service/internal/otp"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadSettings()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.databaseURL, cfg.db)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.migrateOnStart {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewStore(pool, outboxRepo)
	svc := scheduling.NewService(store, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.kafkaBrokers,
		PollEvery: cfg.outboxPoll,
		BatchSize: cfg.outboxBatch,
	})
	go outboxPublisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if strings.TrimSpace(cfg.kafkaBrokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)})
		if strings.TrimSpace(cfg.cancelTopic) != "" {
			cancellations := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
				Brokers:  cfg.kafkaBrokers,
				GroupID:  cfg.kafkaGroupID,
				Topic:    cfg.cancelTopic,
				Attempts: cfg.consumerTries,
			}, consumer.CancellationHandler(svc, logger))
			go cancellations.Run(ctx)
		}
	}

	var (
		limiter    httpx.Limiter
		otpLimiter httpx.Limiter
		codes      otp.CodeStore
	)
	if addr := strings.TrimSpace(cfg.redisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.rateLimitPerMinute, time.Minute, "rl:"+cfg.service)
		otpLimiter = httpx.NewRedisRateLimiter(rdb, cfg.otpSendsPerHour, time.Hour, "rl:otp")
		codes = otp.NewRedisStore(rdb, "otp")
		logger.Info("redis enabled", "addr", addr)
	} else {
		limiter = httpx.NewMemoryLimiter(cfg.rateLimitPerMinute, time.Minute)
		otpLimiter = httpx.NewMemoryLimiter(cfg.otpSendsPerHour, time.Hour)
		codes = otp.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set; rate limits and otp codes are per instance")
	}

	var sender otp.Sender = otp.LogSender{Logger: logger}
	if cfg.smsWebhookURL != "" {
		sender = otp.NewWebhookSender(cfg.smsWebhookURL, cfg.smsWebhookToken)
	}
	otpManager := otp.NewManager(codes, sender, otpLimiter, logger, otp.Config{
		TTL:         cfg.otpTTL,
		MaxAttempts: cfg.otpMaxAttempts,
	})

	verifier := auth.Verifier{Secret: cfg.jwtSecret}
	if cfg.jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(cfg.jwksURL, 5*time.Minute)
	}
	if verifier.Secret == "" && verifier.JWKS == nil {
		logger.Warn("no JWT_SECRET or JWKS_URL configured; admin routes will reject every request")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Routes{
		Availability: handlers.NewAvailabilityHandler(svc, logger),
		Admin:        handlers.NewAdminHandler(svc, logger),
		OTP:          handlers.NewOTPHandler(otpManager, logger),
	}.Register(mux, verifier)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecovery(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.corsOrigins,
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(limiter, logger, cfg.rateLimitFailOpen),
		httpx.WithBodyLimit(int64(cfg.bodyLimit)),
		httpx.WithTimeout(cfg.requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "availability")

	if err := startGrpcServer(ctx, logger, cfg.grpcPort, checks...); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.httpPort,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.ServeHTTP(ctx, logger, srv, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
}
