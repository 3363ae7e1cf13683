package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/config"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// settings is the resolved process configuration.
type settings struct {
	Service   string
	Port      string
	LogLevel  string
	LogFormat string
	Store     string

	DatabaseURL string
	DBMaxConns  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	KafkaBrokers   string
	TopicPrefix    string
	OutboxInterval time.Duration
	OutboxBatch    int
	EventQueueSize int

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	ReconcileInterval      time.Duration
	ReconcileLockKey       int

	DefaultTimezone     string
	DefaultCurrency     string
	EnforceAvailability bool

	JWTSecret           string
	TrustGatewayHeaders bool
	RateLimitPerMinute  int
	RateLimitFailOpen   bool
	BodyLimit           int
	RequestTimeout      time.Duration
	CORSOrigins         []string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelSampleRatio float64
}

func loadSettings() (settings, error) {
	s := settings{
		Service:             config.String("SERVICE_NAME", "booking-service"),
		LogLevel:            config.String("LOG_LEVEL", "info"),
		LogFormat:           config.String("LOG_FORMAT", "json"),
		Store:               strings.ToLower(config.String("STORE", storePostgres)),
		DatabaseURL:         config.String("DATABASE_URL", ""),
		RedisAddr:           config.String("REDIS_ADDR", ""),
		RedisPassword:       config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:        config.String("KAFKA_BROKERS", ""),
		TopicPrefix:         config.String("KAFKA_TOPIC_PREFIX", "vetbook."),
		StripeSecretKey:     config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
		DefaultTimezone:     config.String("DEFAULT_TIMEZONE", "Africa/Kampala"),
		DefaultCurrency:     config.String("DEFAULT_CURRENCY", "UGX"),
		JWTSecret:           config.String("AUTH_JWT_SECRET", ""),
		CORSOrigins:         config.List("CORS_ALLOWED_ORIGINS"),
		OtelEndpoint:        config.String("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if s.Port, err = config.Port("PORT", "8083"); err != nil {
		return s, err
	}
	ratio := config.String("OTEL_SAMPLE_RATIO", "1")
	if s.OtelSampleRatio, err = strconv.ParseFloat(ratio, 64); err != nil {
		return s, fmt.Errorf("OTEL_SAMPLE_RATIO must be a number (got %q)", ratio)
	}
	if s.Store != storePostgres && s.Store != storeMemory {
		return s, fmt.Errorf("STORE must be %q or %q (got %q)", storePostgres, storeMemory, s.Store)
	}
	if s.Store == storePostgres {
		if s.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return s, err
		}
	}
	if _, err := time.LoadLocation(s.DefaultTimezone); err != nil {
		return s, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"DB_MAX_CONNS", 10, &s.DBMaxConns},
		{"REDIS_DB", 0, &s.RedisDB},
		{"OUTBOX_BATCH_SIZE", 50, &s.OutboxBatch},
		{"EVENT_QUEUE_SIZE", 1024, &s.EventQueueSize},
		{"PAYMENT_RECONCILE_LOCK_KEY", 7301, &s.ReconcileLockKey},
		{"RATE_LIMIT_PER_MINUTE", 120, &s.RateLimitPerMinute},
		{"REQUEST_BODY_LIMIT", 1 << 20, &s.BodyLimit},
	}
	for _, it := range ints {
		if *it.dst, err = config.Int(it.key, it.fallback); err != nil {
			return s, err
		}
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"DIRECTORY_CACHE_TTL", 5 * time.Minute, &s.CacheTTL},
		{"OUTBOX_POLL_INTERVAL", 2 * time.Second, &s.OutboxInterval},
		{"STRIPE_WEBHOOK_TOLERANCE", 5 * time.Minute, &s.StripeWebhookTolerance},
		{"PAYMENT_RECONCILE_INTERVAL", time.Minute, &s.ReconcileInterval},
		{"REQUEST_TIMEOUT", 15 * time.Second, &s.RequestTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = config.Duration(d.key, d.fallback); err != nil {
			return s, err
		}
	}

	bools := []struct {
		key      string
		fallback bool
		dst      *bool
	}{
		{"BOOKING_ENFORCE_AVAILABILITY", true, &s.EnforceAvailability},
		{"AUTH_TRUST_GATEWAY_HEADERS", false, &s.TrustGatewayHeaders},
		{"RATE_LIMIT_FAIL_OPEN", true, &s.RateLimitFailOpen},
		{"OTEL_ENABLED", false, &s.OtelEnabled},
	}
	for _, b := range bools {
		if *b.dst, err = config.Bool(b.key, b.fallback); err != nil {
			return s, err
		}
	}
	return s, nil
}

// providerSettings is the config file shape of a directory entry. Fees are
// strings so no precision is lost on the way in.
type providerSettings struct {
	ID       string            `mapstructure:"id"`
	Name     string            `mapstructure:"name"`
	Timezone string            `mapstructure:"timezone"`
	Services []serviceSettings `mapstructure:"services"`
}

type serviceSettings struct {
	Code        string `mapstructure:"code"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	BaseFee     string `mapstructure:"base_fee"`
	Currency    string `mapstructure:"currency"`
}

// loadProviders reads the "providers" list from the config file.
func loadProviders(defaultCurrency string) ([]model.Provider, error) {
	var raw []providerSettings
	if err := config.UnmarshalKey("providers", &raw); err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	out := make([]model.Provider, 0, len(raw))
	for i, p := range raw {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("providers[%d].id is required", i)
		}
		if p.Timezone != "" {
			if _, err := time.LoadLocation(p.Timezone); err != nil {
				return nil, fmt.Errorf("providers[%d].timezone: %w", i, err)
			}
		}
		provider := model.Provider{ID: p.ID, Name: p.Name, Timezone: p.Timezone, Services: []model.Service{}}
		for j, svc := range p.Services {
			fee := decimal.Zero
			if strings.TrimSpace(svc.BaseFee) != "" {
				var err error
				if fee, err = decimal.NewFromString(strings.TrimSpace(svc.BaseFee)); err != nil {
					return nil, fmt.Errorf("providers[%d].services[%d].base_fee: %w", i, j, err)
				}
			}
			currency := strings.ToUpper(strings.TrimSpace(svc.Currency))
			if currency == "" {
				currency = defaultCurrency
			}
			provider.Services = append(provider.Services, model.Service{
				Code:        svc.Code,
				Name:        svc.Name,
				Description: svc.Description,
				BaseFee:     fee,
				Currency:    currency,
			})
		}
		out = append(out, provider)
	}
	return out, nil
}
