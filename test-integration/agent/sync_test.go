package integration

import (
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/stacklok/fieldsync/internal/api/v1"
	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/test-integration/agent/helpers"
)

const (
	staffPath   = "/api/v1/attendance/staff/bulk"
	studentPath = "/api/v1/attendance/student/bulk"
	scoresPath  = "/api/v1/scores/bulk"
)

func record(id string, t records.Type, group string, at time.Time) records.Record {
	return records.Record{
		ID:          id,
		Type:        t,
		GroupID:     group,
		PrincipalID: "teacher-1",
		CreatedAt:   at,
		UpdatedAt:   at,
		Data:        []byte(`{"present":true}`),
	}
}

var _ = Describe("Agent sync", Label("sync"), func() {
	var (
		tempDir string
		remote  *helpers.FakeRemote
		agent   *helpers.AgentTestHelper
		role    string
	)

	BeforeEach(func() {
		tempDir = createTempDir("fieldsync-e2e-")
		remote = helpers.NewFakeRemote()
		role = "teacher"

		past := time.Now().Add(-time.Hour)
		helpers.SeedRecords(ctx, tempDir, []string{"class-a", "class-b"},
			record("staff-1", records.TypeAttendanceByStaff, "class-a", past),
			record("staff-2", records.TypeAttendanceByStaff, "class-b", past),
			record("student-1", records.TypeAttendanceByStudent, "class-a", past),
			record("score-1", records.TypeScoreEntries, "", past),
		)
	})

	JustBeforeEach(func() {
		configPath := helpers.WriteConfigYAML(tempDir, remote.URL, role)
		agent = helpers.NewAgentTestHelper(ctx, configPath, tempDir)
		Expect(agent.StartAgent()).To(Succeed())
		agent.WaitForAgentReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(agent.StopAgent()).To(Succeed())
		remote.Close()
		cleanupTempDir(tempDir)
	})

	Context("manual sync", func() {
		It("pushes every pending record once", func() {
			var summary v1.SyncSummaryResponse
			Expect(agent.Do(http.MethodPost, "/api/v1/sync", nil, &summary)).To(Equal(http.StatusOK))
			Expect(summary.TotalSynced).To(Equal(4))
			Expect(summary.TotalErrors).To(BeEmpty())
			Expect(summary.Results).To(HaveLen(3))

			Expect(remote.RecordIDs(staffPath)).To(ConsistOf("staff-1", "staff-2"))
			Expect(remote.RecordIDs(studentPath)).To(ConsistOf("student-1"))
			Expect(remote.RecordIDs(scoresPath)).To(ConsistOf("score-1"))
			for _, b := range remote.Batches() {
				Expect(b.DeviceID).To(Equal("tablet-e2e"))
			}

			By("syncing again with nothing changed")
			Expect(agent.Do(http.MethodPost, "/api/v1/sync", nil, &summary)).To(Equal(http.StatusOK))
			Expect(summary.TotalSynced).To(Equal(0))
			Expect(remote.Batches()).To(HaveLen(3))

			By("editing a record")
			helpers.SeedRecords(ctx, tempDir, nil,
				record("score-1", records.TypeScoreEntries, "", time.Now().Add(time.Second)))

			var result v1.SyncResultResponse
			Expect(agent.Do(http.MethodPost, "/api/v1/sync?type=score-entries", nil, &result)).To(Equal(http.StatusOK))
			Expect(result.RecordsTransferred).To(Equal(1))
			Expect(remote.RecordIDs(scoresPath)).To(Equal([]string{"score-1", "score-1"}))

			var log v1.SyncLogResponse
			Expect(agent.Do(http.MethodGet, "/api/v1/sync/log", nil, &log)).To(Equal(http.StatusOK))
			Expect(log.Count).To(Equal(7))
			Expect(log.Entries[0].RecordType).To(Equal(records.TypeScoreEntries))
		})

		It("isolates a failing type and retries it on the next pass", func() {
			remote.FailPath(studentPath, http.StatusServiceUnavailable)

			var summary v1.SyncSummaryResponse
			Expect(agent.Do(http.MethodPost, "/api/v1/sync", nil, &summary)).To(Equal(http.StatusOK))
			Expect(summary.TotalSynced).To(Equal(3))
			Expect(summary.TotalErrors).To(HaveLen(1))
			Expect(summary.Results[1].ErrorKind).To(Equal("transfer-failed"))

			var log v1.SyncLogResponse
			Expect(agent.Do(http.MethodGet, "/api/v1/sync/log?status=failed", nil, &log)).To(Equal(http.StatusOK))
			Expect(log.Count).To(Equal(1))
			Expect(log.Entries[0].RecordType).To(Equal(records.TypeAttendanceByStudent))

			By("retrying once the remote recovers")
			remote.ClearFailures()
			Expect(agent.Do(http.MethodPost, "/api/v1/sync", nil, &summary)).To(Equal(http.StatusOK))
			Expect(summary.TotalSynced).To(Equal(1))
			Expect(remote.RecordIDs(studentPath)).To(ConsistOf("student-1"))
		})
	})

	Context("automatic sync", func() {
		It("runs a pass when the app comes to the foreground and a day has turned", func() {
			var cfg v1.AutoSyncConfigResponse
			Expect(agent.Do(http.MethodPut, "/api/v1/sync/config",
				v1.AutoSyncConfigRequest{Enabled: true, Frequency: "daily"}, &cfg)).To(Equal(http.StatusOK))
			Expect(cfg.Enabled).To(BeTrue())

			Expect(agent.Do(http.MethodPost, "/api/v1/lifecycle/foreground", nil, nil)).To(Equal(http.StatusAccepted))

			Eventually(func() []auditlog.Entry {
				var log v1.SyncLogResponse
				agent.Do(http.MethodGet, "/api/v1/sync/log", nil, &log)
				var all []auditlog.Entry
				for _, e := range log.Entries {
					if e.Scope == auditlog.ScopeAll {
						all = append(all, e)
					}
				}
				return all
			}, 10*time.Second, 100*time.Millisecond).Should(HaveLen(1))

			Eventually(func() *time.Time {
				agent.Do(http.MethodGet, "/api/v1/sync/config", nil, &cfg)
				return cfg.LastAutoSync
			}, 5*time.Second, 100*time.Millisecond).ShouldNot(BeNil())
			Expect(remote.Batches()).To(HaveLen(3))

			By("foregrounding again the same day")
			Expect(agent.Do(http.MethodPost, "/api/v1/lifecycle/foreground", nil, nil)).To(Equal(http.StatusAccepted))
			Consistently(func() int { return len(remote.Batches()) }, time.Second, 100*time.Millisecond).Should(Equal(3))
		})

		It("keeps the preference across restarts", func() {
			Expect(agent.Do(http.MethodPut, "/api/v1/sync/config",
				v1.AutoSyncConfigRequest{Enabled: true, Frequency: "weekly"}, nil)).To(Equal(http.StatusOK))
			Expect(agent.StopAgent()).To(Succeed())

			agent = helpers.NewAgentTestHelper(ctx, filepath.Join(tempDir, "config.yaml"), tempDir)
			Expect(agent.StartAgent()).To(Succeed())
			agent.WaitForAgentReady(10 * time.Second)

			var cfg v1.AutoSyncConfigResponse
			Expect(agent.Do(http.MethodGet, "/api/v1/sync/config", nil, &cfg)).To(Equal(http.StatusOK))
			Expect(cfg.Enabled).To(BeTrue())
			Expect(cfg.Frequency).To(Equal("weekly"))
		})
	})

	Context("ineligible role", func() {
		BeforeEach(func() {
			role = "student"
		})

		It("refuses manual syncs", func() {
			Expect(agent.Do(http.MethodPost, "/api/v1/sync", nil, nil)).To(Equal(http.StatusForbidden))
			Expect(remote.Batches()).To(BeEmpty())
		})
	})
})
