package app

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/connectivity"
	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/sync/transfer"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Minute
	defaultIdleTimeout    = 60 * time.Second
)

// Option configures the engine and agent builders
type Option func(*appConfig) error

// appConfig holds everything the builders need. Component overrides are
// primarily for testing; nil means build the production component.
type appConfig struct {
	config *config.Config

	kv             kvstore.Store
	recordStore    records.Store
	transferClient transfer.Client
	probe          connectivity.Probe
	now            func() time.Time

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
	tracerProvider trace.TracerProvider
}

func baseConfig(opts ...Option) (*appConfig, error) {
	cfg := &appConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetAPIAddress()
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Option {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding api.address
func WithAddress(addr string) Option {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithKVStore injects the key/value store instead of building one from config
func WithKVStore(kv kvstore.Store) Option {
	return func(cfg *appConfig) error {
		cfg.kv = kv
		return nil
	}
}

// WithRecordStore injects the local record store instead of opening the SQLite file
func WithRecordStore(store records.Store) Option {
	return func(cfg *appConfig) error {
		cfg.recordStore = store
		return nil
	}
}

// WithTransferClient injects the bulk transfer client
func WithTransferClient(c transfer.Client) Option {
	return func(cfg *appConfig) error {
		cfg.transferClient = c
		return nil
	}
}

// WithProbe injects the connectivity probe
func WithProbe(p connectivity.Probe) Option {
	return func(cfg *appConfig) error {
		cfg.probe = p
		return nil
	}
}

// WithClock overrides the clock of the sync components
func WithClock(now func() time.Time) Option {
	return func(cfg *appConfig) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		cfg.now = now
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *appConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithMetricsHandler serves the Prometheus scrape handler at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// WithTracerProvider enables spans for sync passes and HTTP requests
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *appConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}
