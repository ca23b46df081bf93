package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/connectivity"
	"github.com/stacklok/fieldsync/internal/events"
	"github.com/stacklok/fieldsync/internal/httpclient"
	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/records/sqlite"
	"github.com/stacklok/fieldsync/internal/session"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
	"github.com/stacklok/fieldsync/internal/sync/scheduler"
	"github.com/stacklok/fieldsync/internal/sync/transfer"
	"github.com/stacklok/fieldsync/internal/sync/watermark"
	"github.com/stacklok/fieldsync/internal/telemetry"
)

const tracerName = "github.com/stacklok/fieldsync/internal/sync"

// deviceIDHeader identifies the device on every request to the remote service
const deviceIDHeader = "X-Device-ID"

// Engine groups the sync components. The agent runs them behind the HTTP API;
// one-shot CLI commands use them directly.
type Engine struct {
	KV         kvstore.Store
	Records    records.Store
	AuditLog   *auditlog.Log
	Watermarks watermark.Store
	Manager    pkgsync.Manager
	Scheduler  *scheduler.Scheduler
	Monitor    *connectivity.Monitor
	Foreground *events.Emitter
	Sessions   *session.StaticProvider

	cleanups []func()
}

// Close releases storage resources. It is safe to call more than once.
func (e *Engine) Close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}

// NewEngine builds the sync components from the configuration
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildEngine(ctx, cfg)
}

func buildEngine(ctx context.Context, b *appConfig) (*Engine, error) {
	slog.Info("Initializing sync components", "device", b.config.Device.ID)

	engine := &Engine{}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			engine.Close()
		}
	}()

	if b.kv == nil {
		kv, cleanup, err := kvstore.New(ctx, b.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create state storage: %w", err)
		}
		engine.cleanups = append(engine.cleanups, cleanup)
		b.kv = kv
	}
	engine.KV = b.kv

	if b.recordStore == nil {
		path := b.config.GetRecordsPath()
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create record store directory: %w", err)
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		engine.cleanups = append(engine.cleanups, func() { _ = store.Close() })
		b.recordStore = store
	}
	engine.Records = b.recordStore

	client, err := buildRemoteClient(b)
	if err != nil {
		return nil, err
	}
	if b.transferClient == nil {
		b.transferClient = transfer.NewClient(client, b.config.Remote.GetIngestURL)
	}
	if b.probe == nil {
		b.probe = connectivity.NewHTTPProbe(client, b.config.GetProbeURL(), b.config.GetConnectivityTimeout())
	}

	syncMetrics, err := buildSyncMetrics(b)
	if err != nil {
		return nil, err
	}
	var tracer trace.Tracer
	if b.tracerProvider != nil {
		tracer = b.tracerProvider.Tracer(tracerName)
	}

	engine.Watermarks = watermark.NewStore(b.kv)
	engine.AuditLog = auditlog.New(b.kv, auditlog.WithClock(b.now))
	engine.Manager = pkgsync.NewManager(
		pkgsync.NewPendingSelector(b.recordStore, engine.Watermarks),
		b.transferClient,
		engine.Watermarks,
		b.probe,
		engine.AuditLog,
		pkgsync.WithClock(b.now),
		pkgsync.WithSyncMetrics(syncMetrics),
		pkgsync.WithTracer(tracer),
	)

	engine.Sessions = session.NewStaticProvider(b.config.Session)
	engine.Foreground = events.NewEmitter()
	engine.Monitor = connectivity.NewMonitor(b.probe, b.config.GetConnectivityInterval())
	engine.Scheduler = scheduler.New(
		engine.Manager,
		b.kv,
		engine.AuditLog,
		engine.Sessions,
		scheduler.WithEligibleRoles(b.config.Session.GetEligibleRoles()...),
		scheduler.WithSource(scheduler.TriggerForeground, engine.Foreground),
		scheduler.WithSource(scheduler.TriggerConnectivity, engine.Monitor),
		scheduler.WithClock(b.now),
		scheduler.WithSyncMetrics(syncMetrics),
		scheduler.WithTracer(tracer),
	)

	cleanupNeeded = false
	slog.Info("Sync components initialized successfully")
	return engine, nil
}

func buildRemoteClient(b *appConfig) (httpclient.Client, error) {
	token, err := b.config.Remote.GetToken()
	if err != nil {
		return nil, fmt.Errorf("failed to read remote token: %w", err)
	}
	return httpclient.NewDefaultClient(
		b.config.Remote.GetRemoteTimeout(),
		httpclient.WithBearerToken(token),
		httpclient.WithHeader(deviceIDHeader, b.config.Device.ID),
	), nil
}

func buildSyncMetrics(b *appConfig) (*telemetry.SyncMetrics, error) {
	if b.meterProvider == nil {
		return nil, nil
	}
	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	if syncMetrics != nil {
		slog.Info("Sync metrics enabled")
	}
	return syncMetrics, nil
}
