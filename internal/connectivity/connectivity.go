// Package connectivity decides whether the remote service is reachable and turns
// reachability changes into connectivity-restored events.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/fieldsync/internal/events"
	"github.com/stacklok/fieldsync/internal/httpclient"
)

// Probe reports whether the network is currently usable
type Probe interface {
	IsConnected(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe
type ProbeFunc func(ctx context.Context) bool

// IsConnected implements Probe
func (f ProbeFunc) IsConnected(ctx context.Context) bool {
	return f(ctx)
}

// Always returns a Probe with a fixed answer
func Always(connected bool) Probe {
	return ProbeFunc(func(context.Context) bool { return connected })
}

// HTTPProbe considers the network present when the probe URL answers at all. An
// HTTP error status still proves the service is reachable.
type HTTPProbe struct {
	client  httpclient.Client
	url     string
	timeout time.Duration
}

// NewHTTPProbe creates a probe that GETs url within timeout
func NewHTTPProbe(client httpclient.Client, url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{client: client, url: url, timeout: timeout}
}

// IsConnected implements Probe
func (p *HTTPProbe) IsConnected(ctx context.Context) bool {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	_, err := p.client.Get(ctx, p.url)
	if err == nil {
		return true
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	slog.Debug("Connectivity probe failed", "url", p.url, "error", err)
	return false
}

// Monitor polls a Probe and emits an event each time connectivity goes from absent
// to present. The first observation only records the state.
type Monitor struct {
	probe    Probe
	interval time.Duration
	emitter  *events.Emitter

	mu        sync.Mutex
	observed  bool
	connected bool
}

// NewMonitor creates a Monitor polling probe every interval
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		emitter:  events.NewEmitter(),
	}
}

// Subscribe implements events.Source
func (m *Monitor) Subscribe(h events.Handler) events.Subscription {
	return m.emitter.Subscribe(h)
}

// IsConnected returns the last observed state without probing
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Check probes once and emits when connectivity was restored
func (m *Monitor) Check(ctx context.Context) {
	connected := m.probe.IsConnected(ctx)

	m.mu.Lock()
	restored := m.observed && !m.connected && connected
	changed := !m.observed || m.connected != connected
	m.observed = true
	m.connected = connected
	m.mu.Unlock()

	if changed {
		slog.Info("Connectivity changed", "connected", connected)
	}
	if restored {
		m.emitter.Emit()
	}
}

// Run polls until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("Starting connectivity monitor", "interval", m.interval)

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Connectivity monitor stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
