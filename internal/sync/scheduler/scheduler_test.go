package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/events"
	"github.com/stacklok/fieldsync/internal/kvstore"
	kvmocks "github.com/stacklok/fieldsync/internal/kvstore/mocks"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/session"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
	syncmocks "github.com/stacklok/fieldsync/internal/sync/mocks"
)

const testPrincipal = "teacher-1"

func date(year int, month time.Month, day, hour, minute, sec int) time.Time {
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
}

func partialSummary() *pkgsync.Summary {
	return &pkgsync.Summary{
		Results: []pkgsync.Result{
			{RecordType: records.TypeAttendanceByStaff, Succeeded: true, RecordsTransferred: 3},
			{RecordType: records.TypeAttendanceByStudent, Err: &pkgsync.Error{
				Kind: pkgsync.KindTransferFailed, Message: "HTTP 503: ingest paused",
			}},
			{RecordType: records.TypeScoreEntries, Succeeded: true, RecordsTransferred: 1},
		},
		TotalSynced: 4,
		TotalErrors: []string{"HTTP 503: ingest paused"},
		Duration:    1500 * time.Millisecond,
	}
}

type fixture struct {
	ctx      context.Context
	kv       kvstore.Store
	audit    *auditlog.Log
	sessions *session.StaticProvider
	manager  *syncmocks.MockManager
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	return &fixture{
		ctx:   context.Background(),
		kv:    kv,
		audit: auditlog.New(kv),
		sessions: session.NewStaticProvider(&config.SessionConfig{
			PrincipalID: testPrincipal,
			Role:        "teacher",
		}),
		manager: syncmocks.NewMockManager(gomock.NewController(t)),
		now:     date(2024, time.March, 4, 8, 0, 0),
	}
}

func (f *fixture) scheduler(opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	return New(f.manager, f.kv, f.audit, f.sessions, opts...)
}

// enabled returns a scheduler with a daily preference already saved
func (f *fixture) enabled(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := f.scheduler(opts...)
	require.NoError(t, s.SetFrequency(f.ctx, FrequencyDaily))
	return s
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"daily", "weekly", "monthly"} {
		f, err := ParseFrequency(s)
		require.NoError(t, err)
		assert.Equal(t, Frequency(s), f)
	}

	_, err := ParseFrequency("hourly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid frequency")
}

func TestState_ShouldSyncNow(t *testing.T) {
	t.Parallel()

	plus2 := time.FixedZone("UTC+2", 2*60*60)

	tests := []struct {
		name      string
		frequency Frequency
		last      *time.Time
		now       time.Time
		want      bool
	}{
		{
			name:      "first_run",
			frequency: FrequencyMonthly,
			now:       date(2024, time.January, 15, 12, 0, 0),
			want:      true,
		},
		{
			name:      "daily_crossed_midnight",
			frequency: FrequencyDaily,
			last:      ptr(date(2024, time.January, 1, 23, 0, 0)),
			now:       date(2024, time.January, 2, 0, 30, 0),
			want:      true,
		},
		{
			name:      "daily_same_day",
			frequency: FrequencyDaily,
			last:      ptr(date(2024, time.January, 1, 23, 0, 0)),
			now:       date(2024, time.January, 1, 23, 59, 59),
			want:      false,
		},
		{
			name:      "daily_catch_up_after_missed_days",
			frequency: FrequencyDaily,
			last:      ptr(date(2024, time.January, 1, 9, 0, 0)),
			now:       date(2024, time.January, 9, 9, 0, 0),
			want:      true,
		},
		{
			name:      "daily_compares_in_now_location",
			frequency: FrequencyDaily,
			last:      ptr(date(2024, time.January, 1, 23, 0, 0)),
			now:       time.Date(2024, time.January, 2, 0, 30, 0, 0, plus2),
			want:      false,
		},
		{
			name:      "weekly_next_monday",
			frequency: FrequencyWeekly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.January, 8, 8, 0, 0),
			want:      true,
		},
		{
			name:      "weekly_not_monday",
			frequency: FrequencyWeekly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.January, 9, 8, 0, 0),
			want:      false,
		},
		{
			name:      "weekly_same_monday",
			frequency: FrequencyWeekly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.January, 1, 18, 0, 0),
			want:      false,
		},
		{
			name:      "weekly_iso_year_boundary",
			frequency: FrequencyWeekly,
			last:      ptr(date(2024, time.December, 23, 8, 0, 0)),
			now:       date(2024, time.December, 30, 8, 0, 0),
			want:      true,
		},
		{
			name:      "monthly_first_of_next_month",
			frequency: FrequencyMonthly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.February, 1, 8, 0, 0),
			want:      true,
		},
		{
			name:      "monthly_not_first",
			frequency: FrequencyMonthly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.February, 2, 8, 0, 0),
			want:      false,
		},
		{
			name:      "monthly_same_day",
			frequency: FrequencyMonthly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2024, time.January, 1, 20, 0, 0),
			want:      false,
		},
		{
			name:      "monthly_same_month_next_year",
			frequency: FrequencyMonthly,
			last:      ptr(date(2024, time.January, 1, 8, 0, 0)),
			now:       date(2025, time.January, 1, 8, 0, 0),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			state := State{Enabled: true, Frequency: tt.frequency, LastAutoSync: tt.last}
			assert.Equal(t, tt.want, state.ShouldSyncNow(tt.now))
		})
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}

func TestScheduler_Load(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		values     map[string]string
		want       State
		wantLastMs int64
	}{
		{
			name: "no_preference",
			want: State{Enabled: false, Frequency: FrequencyDaily},
		},
		{
			name:   "weekly_preference",
			values: map[string]string{FrequencyKey: "weekly"},
			want:   State{Enabled: true, Frequency: FrequencyWeekly},
		},
		{
			name:   "invalid_preference",
			values: map[string]string{FrequencyKey: "hourly"},
			want:   State{Enabled: false, Frequency: FrequencyDaily},
		},
		{
			name:       "last_run",
			values:     map[string]string{FrequencyKey: "monthly", LastRunKey: "1704067200000"},
			want:       State{Enabled: true, Frequency: FrequencyMonthly},
			wantLastMs: 1704067200000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			for k, v := range tt.values {
				require.NoError(t, f.kv.Set(f.ctx, k, v))
			}

			s := f.scheduler()
			require.NoError(t, s.Load(f.ctx))

			got := s.State()
			assert.Equal(t, tt.want.Enabled, got.Enabled)
			assert.Equal(t, tt.want.Frequency, got.Frequency)
			if tt.wantLastMs == 0 {
				assert.Nil(t, got.LastAutoSync)
			} else {
				require.NotNil(t, got.LastAutoSync)
				assert.Equal(t, tt.wantLastMs, got.LastAutoSync.UnixMilli())
			}
		})
	}
}

func TestScheduler_LoadStorageError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	kv := kvmocks.NewMockStore(gomock.NewController(t))
	kv.EXPECT().Get(gomock.Any(), FrequencyKey).Return("", errors.New("lock timeout"))

	s := New(f.manager, kv, f.audit, f.sessions)
	err := s.Load(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
}

func TestScheduler_SetFrequencyAndDisable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.scheduler()

	require.NoError(t, s.SetFrequency(f.ctx, FrequencyWeekly))
	raw, err := f.kv.Get(f.ctx, FrequencyKey)
	require.NoError(t, err)
	assert.Equal(t, "weekly", raw)
	assert.Equal(t, State{Enabled: true, Frequency: FrequencyWeekly}, s.State())

	require.Error(t, s.SetFrequency(f.ctx, Frequency("yearly")))
	assert.Equal(t, FrequencyWeekly, s.State().Frequency)

	require.NoError(t, s.Disable(f.ctx))
	_, err = f.kv.Get(f.ctx, FrequencyKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
	assert.False(t, s.State().Enabled)

	// A fresh instance over the same storage sees the preference removed
	reloaded := f.scheduler()
	require.NoError(t, reloaded.Load(f.ctx))
	assert.False(t, reloaded.State().Enabled)
}

func TestScheduler_TriggerDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.scheduler()
	require.NoError(t, s.Load(f.ctx))

	assert.Equal(t, OutcomeDisabled, s.Trigger(f.ctx, TriggerForeground))
}

func TestScheduler_TriggerRunsDuePass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)
	f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).Return(partialSummary()).Times(1)

	assert.Equal(t, OutcomeSynced, s.Trigger(f.ctx, TriggerConnectivity))
	assert.False(t, s.Syncing())

	state := s.State()
	require.NotNil(t, state.LastAutoSync)
	assert.True(t, f.now.Equal(*state.LastAutoSync))

	raw, err := f.kv.Get(f.ctx, LastRunKey)
	require.NoError(t, err)
	assert.Equal(t, "1709539200000", raw)

	entries, err := f.audit.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, auditlog.ScopeAll, e.Scope)
	assert.Empty(t, e.RecordType)
	assert.Equal(t, auditlog.StatusPartial, e.Status)
	assert.Equal(t, 4, e.RecordsSynced)
	assert.Equal(t, []string{"HTTP 503: ingest paused"}, e.Errors)
	assert.Equal(t, int64(1500), e.DurationMs)

	// Later the same day nothing is due
	f.now = f.now.Add(6 * time.Hour)
	assert.Equal(t, OutcomeNotDue, s.Trigger(f.ctx, TriggerForeground))
}

func TestScheduler_TriggerWithoutEligibleSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(sessions *session.StaticProvider)
		opts    []Option
		outcome Outcome
	}{
		{
			name:    "signed_out",
			setup:   func(sessions *session.StaticProvider) { sessions.SignOut() },
			outcome: OutcomeNoSession,
		},
		{
			name: "student_role",
			setup: func(sessions *session.StaticProvider) {
				sessions.SignIn(session.Principal{ID: "student-9", Role: "student"})
			},
			outcome: OutcomeIneligible,
		},
		{
			name:    "role_not_in_configured_list",
			setup:   func(*session.StaticProvider) {},
			opts:    []Option{WithEligibleRoles("admin")},
			outcome: OutcomeIneligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(f.sessions)
			s := f.enabled(t, tt.opts...)

			assert.Equal(t, tt.outcome, s.Trigger(f.ctx, TriggerManual))
			assert.False(t, s.Syncing())
			assert.Nil(t, s.State().LastAutoSync)

			entries, err := f.audit.List(f.ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestScheduler_TriggerWhileSyncingIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).
		DoAndReturn(func(context.Context, string) *pkgsync.Summary {
			close(entered)
			<-release
			return partialSummary()
		}).Times(1)

	done := make(chan Outcome)
	go func() { done <- s.Trigger(f.ctx, TriggerForeground) }()

	<-entered
	assert.True(t, s.Syncing())
	assert.Equal(t, OutcomeBusy, s.Trigger(f.ctx, TriggerConnectivity))

	close(release)
	assert.Equal(t, OutcomeSynced, <-done)
	assert.False(t, s.Syncing())
}

func TestScheduler_SimultaneousEventsRunOnePass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.kv.Set(f.ctx, FrequencyKey, string(FrequencyDaily)))

	foreground := events.NewEmitter()
	connectivity := events.NewEmitter()
	s := f.scheduler(
		WithSource(TriggerForeground, foreground),
		WithSource(TriggerConnectivity, connectivity),
	)
	f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).
		DoAndReturn(func(context.Context, string) *pkgsync.Summary {
			time.Sleep(10 * time.Millisecond)
			return partialSummary()
		}).Times(1)

	require.NoError(t, s.Start(f.ctx))
	assert.Equal(t, 1, foreground.Subscribers())
	assert.Equal(t, 1, connectivity.Subscribers())

	foreground.Emit()
	connectivity.Emit()

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, foreground.Subscribers())

	entries, err := f.audit.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Events after Stop are ignored
	foreground.Emit()
}

func TestScheduler_PanicClearsInProgressFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)

	gomock.InOrder(
		f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).
			DoAndReturn(func(context.Context, string) *pkgsync.Summary {
				panic("remote client not initialised")
			}),
		f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).Return(partialSummary()),
	)

	assert.Equal(t, OutcomeFailed, s.Trigger(f.ctx, TriggerManual))
	assert.False(t, s.Syncing())
	assert.Nil(t, s.State().LastAutoSync)

	assert.Equal(t, OutcomeSynced, s.Trigger(f.ctx, TriggerManual))
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.NoError(t, f.scheduler().Stop())
}

func TestScheduler_StaleDueCheckDoesNotRunSecondPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)
	f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).Return(partialSummary()).Times(1)

	// The second trigger read its copy of the state before the first pass ran
	stale := s.State()
	require.True(t, stale.ShouldSyncNow(f.now))

	assert.Equal(t, OutcomeSynced, s.Trigger(f.ctx, TriggerForeground))

	// and claims the flag only after that pass released it
	assert.Equal(t, OutcomeNotDue, s.runIfDue(f.ctx, TriggerConnectivity, f.now))
	assert.False(t, s.Syncing())

	entries, err := f.audit.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScheduler_StaleDueCheckAfterDisable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)

	require.True(t, s.State().ShouldSyncNow(f.now))
	require.NoError(t, s.Disable(f.ctx))

	assert.Equal(t, OutcomeDisabled, s.runIfDue(f.ctx, TriggerForeground, f.now))
	assert.False(t, s.Syncing())
}

func TestScheduler_ManualSyncSharesInProgressFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.manager.EXPECT().SyncAll(gomock.Any(), testPrincipal).
		DoAndReturn(func(context.Context, string) *pkgsync.Summary {
			close(entered)
			<-release
			return partialSummary()
		}).Times(1)

	done := make(chan Outcome)
	go func() { done <- s.Trigger(f.ctx, TriggerForeground) }()
	<-entered

	summary, err := s.SyncNow(f.ctx, testPrincipal)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, summary)

	_, err = s.SyncTypeNow(f.ctx, records.TypeScoreEntries, testPrincipal)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	assert.Equal(t, OutcomeSynced, <-done)
}

func TestScheduler_ManualSyncBlocksAutomaticPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.enabled(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.manager.EXPECT().SyncType(gomock.Any(), records.TypeAttendanceByStaff, testPrincipal).
		DoAndReturn(func(context.Context, records.Type, string) pkgsync.Result {
			close(entered)
			<-release
			return pkgsync.Result{RecordType: records.TypeAttendanceByStaff, Succeeded: true}
		}).Times(1)

	done := make(chan error)
	go func() {
		_, err := s.SyncTypeNow(f.ctx, records.TypeAttendanceByStaff, testPrincipal)
		done <- err
	}()
	<-entered

	assert.Equal(t, OutcomeBusy, s.Trigger(f.ctx, TriggerConnectivity))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Syncing())

	// Manual passes leave the automatic schedule untouched
	assert.Nil(t, s.State().LastAutoSync)
}

func TestState_ShouldSyncNow_MissedBoundaryDay(t *testing.T) {
	t.Parallel()

	// Weekly and monthly passes are due only on the boundary day itself. When the
	// device is not used on that day the pass waits for the next boundary rather
	// than catching up.
	tests := []struct {
		name      string
		frequency Frequency
		last      time.Time
		now       time.Time
		want      bool
	}{
		{
			name:      "weekly_tuesday_after_missed_monday",
			frequency: FrequencyWeekly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.January, 9, 8, 0, 0),
			want:      false,
		},
		{
			name:      "weekly_sunday_after_missed_monday",
			frequency: FrequencyWeekly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.January, 14, 8, 0, 0),
			want:      false,
		},
		{
			name:      "weekly_following_monday",
			frequency: FrequencyWeekly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.January, 15, 8, 0, 0),
			want:      true,
		},
		{
			name:      "monthly_second_after_missed_first",
			frequency: FrequencyMonthly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.February, 2, 8, 0, 0),
			want:      false,
		},
		{
			name:      "monthly_end_of_month_after_missed_first",
			frequency: FrequencyMonthly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.February, 29, 8, 0, 0),
			want:      false,
		},
		{
			name:      "monthly_following_first",
			frequency: FrequencyMonthly,
			last:      date(2024, time.January, 1, 8, 0, 0),
			now:       date(2024, time.March, 1, 8, 0, 0),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			state := State{Enabled: true, Frequency: tt.frequency, LastAutoSync: ptr(tt.last)}
			assert.Equal(t, tt.want, state.ShouldSyncNow(tt.now))
		})
	}
}
