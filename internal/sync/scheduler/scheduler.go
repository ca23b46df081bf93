package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/events"
	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/otel"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/session"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
	"github.com/stacklok/fieldsync/internal/telemetry"
)

// Trigger names what caused an evaluation
type Trigger string

const (
	// TriggerForeground fires when the application comes to the foreground
	TriggerForeground Trigger = "foreground"

	// TriggerConnectivity fires when connectivity goes from absent to present
	TriggerConnectivity Trigger = "connectivity-restored"

	// TriggerManual is an explicit request to evaluate
	TriggerManual Trigger = "manual"
)

// Outcome is the result of one evaluation
type Outcome string

const (
	// OutcomeDisabled means automatic sync is turned off
	OutcomeDisabled Outcome = "disabled"

	// OutcomeBusy means a pass was already running; the trigger was dropped
	OutcomeBusy Outcome = "busy"

	// OutcomeNotDue means the frequency boundary has not been crossed
	OutcomeNotDue Outcome = "not-due"

	// OutcomeNoSession means nobody is signed in
	OutcomeNoSession Outcome = "no-session"

	// OutcomeIneligible means the signed-in role may not sync
	OutcomeIneligible Outcome = "ineligible"

	// OutcomeSynced means a pass ran to completion, whatever its per-type results
	OutcomeSynced Outcome = "synced"

	// OutcomeFailed means the pass aborted unexpectedly
	OutcomeFailed Outcome = "failed"
)

// ErrBusy is returned by the manual entry points while another pass is running
var ErrBusy = errors.New("a sync is already in progress")

// Scheduler runs automatic sync passes when lifecycle events make one due. A single
// instance owns the State; at most one pass, automatic or manual, runs at a time
// and triggers arriving while a pass is running are dropped.
type Scheduler struct {
	manager       pkgsync.Manager
	kv            kvstore.Store
	audit         pkgsync.AuditRecorder
	sessions      session.Provider
	eligibleRoles []string
	sources       map[Trigger]events.Source
	now           func() time.Time
	metrics       *telemetry.SyncMetrics
	tracer        trace.Tracer

	mu    sync.RWMutex
	state State

	syncing atomic.Bool

	// Lifecycle management
	lifecycleMu sync.Mutex
	stopped     bool
	cancelFunc  context.CancelFunc
	subs        []events.Subscription
	wg          sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithEligibleRoles sets the roles allowed to run automatic passes
func WithEligibleRoles(roles ...string) Option {
	return func(s *Scheduler) {
		s.eligibleRoles = roles
	}
}

// WithClock overrides the clock used for due-checks and audit timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSyncMetrics records evaluation outcomes
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithTracer emits a span per automatic pass
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithSource subscribes the scheduler to source once started. Each event runs an
// evaluation tagged with trigger.
func WithSource(trigger Trigger, source events.Source) Option {
	return func(s *Scheduler) {
		s.sources[trigger] = source
	}
}

// New creates a Scheduler. Call Load or Start before triggering so the persisted
// preference is honoured.
func New(
	manager pkgsync.Manager,
	kv kvstore.Store,
	audit pkgsync.AuditRecorder,
	sessions session.Provider,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		manager:       manager,
		kv:            kv,
		audit:         audit,
		sessions:      sessions,
		eligibleRoles: []string{"teacher"},
		sources:       make(map[Trigger]events.Source),
		now:           time.Now,
		state:         State{Frequency: FrequencyDaily},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted preference and last run. A missing preference leaves
// automatic sync disabled; an unreadable one is logged and treated the same way.
func (s *Scheduler) Load(ctx context.Context) error {
	state := State{Frequency: FrequencyDaily}

	raw, err := s.kv.Get(ctx, FrequencyKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to read auto-sync preference: %w", err)
	default:
		freq, parseErr := ParseFrequency(raw)
		if parseErr != nil {
			slog.WarnContext(ctx, "Ignoring invalid auto-sync preference", "value", raw, "error", parseErr)
		} else {
			state.Enabled = true
			state.Frequency = freq
		}
	}

	raw, err = s.kv.Get(ctx, LastRunKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to read last auto-sync time: %w", err)
	default:
		if ms, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			last := time.UnixMilli(ms)
			state.LastAutoSync = &last
		} else {
			slog.WarnContext(ctx, "Ignoring invalid last auto-sync time", "value", raw)
		}
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	slog.InfoContext(ctx, "Loaded auto-sync state",
		"enabled", state.Enabled,
		"frequency", state.Frequency)
	return nil
}

// State returns a copy of the current state
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.state
	if s.state.LastAutoSync != nil {
		last := *s.state.LastAutoSync
		out.LastAutoSync = &last
	}
	return out
}

// SetFrequency persists the preference and enables automatic sync
func (s *Scheduler) SetFrequency(ctx context.Context, freq Frequency) error {
	if _, err := ParseFrequency(string(freq)); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, FrequencyKey, string(freq)); err != nil {
		return fmt.Errorf("failed to save auto-sync preference: %w", err)
	}

	s.mu.Lock()
	s.state.Enabled = true
	s.state.Frequency = freq
	s.mu.Unlock()

	slog.InfoContext(ctx, "Automatic sync enabled", "frequency", freq)
	return nil
}

// Disable removes the preference and turns automatic sync off
func (s *Scheduler) Disable(ctx context.Context) error {
	if err := s.kv.Delete(ctx, FrequencyKey); err != nil {
		return fmt.Errorf("failed to remove auto-sync preference: %w", err)
	}

	s.mu.Lock()
	s.state.Enabled = false
	s.mu.Unlock()

	slog.InfoContext(ctx, "Automatic sync disabled")
	return nil
}

// Syncing reports whether a pass is running
func (s *Scheduler) Syncing() bool {
	return s.syncing.Load()
}

// Start loads the state and subscribes to the configured event sources. It does
// not block; evaluations run on their own goroutines until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.cancelFunc = cancel

	for trigger, source := range s.sources {
		s.subs = append(s.subs, source.Subscribe(func() {
			s.lifecycleMu.Lock()
			if s.stopped {
				s.lifecycleMu.Unlock()
				return
			}
			s.wg.Add(1)
			s.lifecycleMu.Unlock()

			go func() {
				defer s.wg.Done()
				s.Trigger(runCtx, trigger)
			}()
		}))
	}

	slog.InfoContext(ctx, "Auto-sync scheduler started", "sources", len(s.sources))
	return nil
}

// Stop cancels the subscriptions and waits for running evaluations to finish
func (s *Scheduler) Stop() error {
	s.lifecycleMu.Lock()
	if s.stopped || s.cancelFunc == nil {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.stopped = true
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	cancel := s.cancelFunc
	s.lifecycleMu.Unlock()

	slog.Info("Stopping auto-sync scheduler")
	cancel()
	s.wg.Wait()
	return nil
}

// Trigger evaluates whether a pass is due and, if so, runs it for the current
// principal. It returns once the evaluation, and any pass it started, is complete.
func (s *Scheduler) Trigger(ctx context.Context, trigger Trigger) (outcome Outcome) {
	defer func() {
		s.metrics.RecordAutoSyncEvaluation(ctx, string(trigger), string(outcome))
		slog.DebugContext(ctx, "Auto-sync evaluated", "trigger", trigger, "outcome", outcome)
	}()

	now := s.now()
	state := s.State()
	if !state.Enabled {
		return OutcomeDisabled
	}
	if s.syncing.Load() {
		return OutcomeBusy
	}
	if !state.ShouldSyncNow(now) {
		return OutcomeNotDue
	}

	return s.runIfDue(ctx, trigger, now)
}

// runIfDue claims the in-progress flag and repeats the due-check against the
// state as it is once the flag is held. A pass that completed between the
// caller's check and the claim has already advanced LastAutoSync.
func (s *Scheduler) runIfDue(ctx context.Context, trigger Trigger, now time.Time) (outcome Outcome) {
	// Set before any work so a concurrent trigger observes the pass
	if !s.syncing.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer s.syncing.Store(false)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Recovered from panic during automatic sync",
				"trigger", trigger, "panic", r)
			outcome = OutcomeFailed
		}
	}()

	state := s.State()
	if !state.Enabled {
		return OutcomeDisabled
	}
	if !state.ShouldSyncNow(now) {
		return OutcomeNotDue
	}

	principal, err := s.sessions.Current(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			slog.WarnContext(ctx, "Failed to resolve session", "error", err)
		}
		return OutcomeNoSession
	}
	if !principal.CanSync(s.eligibleRoles) {
		return OutcomeIneligible
	}

	s.runPass(ctx, trigger, principal, now)
	return OutcomeSynced
}

// SyncNow runs a manual pass over every record type for principalID. It shares
// the in-progress flag with automatic passes and returns ErrBusy instead of
// starting a second concurrent pass. The automatic schedule is not consulted or
// advanced.
func (s *Scheduler) SyncNow(ctx context.Context, principalID string) (*pkgsync.Summary, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.syncing.Store(false)

	slog.InfoContext(ctx, "Starting manual sync", "principal", principalID)
	return s.manager.SyncAll(ctx, principalID), nil
}

// SyncTypeNow is SyncNow restricted to one record type
func (s *Scheduler) SyncTypeNow(ctx context.Context, recordType records.Type, principalID string) (pkgsync.Result, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return pkgsync.Result{}, ErrBusy
	}
	defer s.syncing.Store(false)

	slog.InfoContext(ctx, "Starting manual sync", "principal", principalID, "type", recordType)
	return s.manager.SyncType(ctx, recordType, principalID), nil
}

func (s *Scheduler) runPass(ctx context.Context, trigger Trigger, principal session.Principal, now time.Time) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "sync.auto", trace.WithAttributes(
		otel.AttrTrigger.String(string(trigger)),
		otel.AttrPrincipalID.String(principal.ID),
	))
	defer span.End()

	slog.InfoContext(ctx, "Starting automatic sync", "trigger", trigger, "principal", principal.ID)

	summary := s.manager.SyncAll(ctx, principal.ID)

	s.mu.Lock()
	s.state.LastAutoSync = &now
	s.mu.Unlock()
	if err := s.kv.Set(ctx, LastRunKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		slog.ErrorContext(ctx, "Failed to persist last auto-sync time", "error", err)
	}

	entry := auditlog.Entry{
		Timestamp: s.now(),
		Scope:     auditlog.ScopeAll,
		Status:    auditlog.StatusFailed,
		Errors:    []string{},
	}
	if summary != nil {
		entry.Status = summary.Status()
		entry.RecordsSynced = summary.TotalSynced
		entry.Errors = summary.TotalErrors
		entry.DurationMs = summary.Duration.Milliseconds()
		span.SetAttributes(
			otel.AttrRecordsSynced.Int(summary.TotalSynced),
			otel.AttrSyncFailedCount.Int(len(summary.Results)-summary.Succeeded()),
		)
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "Failed to write sync audit entry", "scope", auditlog.ScopeAll, "error", err)
	}

	slog.InfoContext(ctx, "Automatic sync completed",
		"trigger", trigger,
		"status", entry.Status,
		"records_synced", entry.RecordsSynced)
}
