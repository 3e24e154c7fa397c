package main

import (
	"time"

	"github.com/mindery/booking/libs/config"
	"github.com/mindery/booking/libs/db"
)

type settings struct {
	service  string
	httpPort string
	grpcPort string

	databaseURL    string
	db             db.Options
	migrateOnStart bool

	kafkaBrokers  string
	kafkaGroupID  string
	cancelTopic   string
	outboxPoll    time.Duration
	outboxBatch   int
	consumerTries int

	redisAddr     string
	redisPassword string
	redisDB       int

	rateLimitPerMinute int
	rateLimitFailOpen  bool
	otpSendsPerHour    int
	otpTTL             time.Duration
	otpMaxAttempts     int
	smsWebhookURL      string
	smsWebhookToken    string

	corsOrigins []string
	jwtSecret   string
	jwksURL     string

	requestTimeout time.Duration
	bodyLimit      int
}

func loadSettings() (settings, error) {
	s := settings{
		service:         config.String("SERVICE_NAME", "availability-service"),
		kafkaBrokers:    config.String("KAFKA_BROKERS", ""),
		kafkaGroupID:    config.String("KAFKA_GROUP_ID", "availability-service"),
		cancelTopic:     config.String("KAFKA_CONSUME_TOPIC", "booking.appointment.cancelled.v1"),
		redisAddr:       config.String("REDIS_ADDR", ""),
		redisPassword:   config.String("REDIS_PASSWORD", ""),
		corsOrigins:     config.List("CORS_ALLOWED_ORIGINS", nil),
		jwtSecret:       config.String("JWT_SECRET", ""),
		jwksURL:         config.String("JWKS_URL", ""),
		smsWebhookURL:   config.String("SMS_WEBHOOK_URL", ""),
		smsWebhookToken: config.String("SMS_WEBHOOK_TOKEN", ""),
		db:              db.DefaultOptions(),
	}

	var err error
	if s.httpPort, err = config.Port("PORT", "8085"); err != nil {
		return s, err
	}
	if s.grpcPort, err = config.Port("GRPC_PORT", "9095"); err != nil {
		return s, err
	}
	if s.databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return s, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", int(s.db.MaxConns))
	if err != nil {
		return s, err
	}
	s.db.MaxConns = int32(maxConns)
	if s.migrateOnStart, err = config.Bool("MIGRATE_ON_START", true); err != nil {
		return s, err
	}
	if s.outboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return s, err
	}
	if s.outboxBatch, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return s, err
	}
	if s.consumerTries, err = config.Int("CONSUMER_MAX_ATTEMPTS", 3); err != nil {
		return s, err
	}
	if s.redisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return s, err
	}
	if s.rateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return s, err
	}
	if s.rateLimitFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return s, err
	}
	if s.otpSendsPerHour, err = config.Int("OTP_SENDS_PER_HOUR", 5); err != nil {
		return s, err
	}
	if s.otpTTL, err = config.Duration("OTP_TTL", 10*time.Minute); err != nil {
		return s, err
	}
	if s.otpMaxAttempts, err = config.Int("OTP_MAX_ATTEMPTS", 5); err != nil {
		return s, err
	}
	if s.requestTimeout, err = config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return s, err
	}
	if s.bodyLimit, err = config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20); err != nil {
		return s, err
	}
	return s, nil
}
