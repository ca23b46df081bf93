package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/records/sqlite"
	"github.com/stacklok/fieldsync/internal/versions"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeAgentConfig writes a configuration whose remote is served by handler
func writeAgentConfig(t *testing.T, handler http.Handler) (string, string) {
	t.Helper()
	remote := httptest.NewServer(handler)
	t.Cleanup(remote.Close)

	dir := t.TempDir()
	content := fmt.Sprintf(`device:
  id: tablet-cli
session:
  principalId: teacher-1
  role: teacher
remote:
  baseURL: %s
storage:
  dataDir: %s
records:
  path: %s
`, remote.URL, filepath.Join(dir, "state"), filepath.Join(dir, "records.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path, dir
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.GetVersionInfo(), info)
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes\n", want: true},
		{input: "Y\n", want: true},
		{input: "no\n", want: false},
		{input: "", want: false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Continue? ")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Continue? ", out.String())
	}
}

func TestSyncAndLogCmds(t *testing.T) {
	var received []string
	configPath, dir := writeAgentConfig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			received = append(received, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))

	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	at := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(ctx, records.Record{
		ID: "score-1", Type: records.TypeScoreEntries, PrincipalID: "teacher-1", CreatedAt: at, UpdatedAt: at,
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", configPath, "sync", "--type", "score-entries")
	require.NoError(t, err)
	assert.Contains(t, out, "score-entries")
	assert.Equal(t, []string{"/api/v1/scores/bulk"}, received)

	out, err = execute(t, "--config", configPath, "log", "--status", "success")
	require.NoError(t, err)
	assert.Contains(t, out, "single-type")

	_, err = execute(t, "--config", configPath, "log", "--status", "ok")
	assert.EqualError(t, err, "status must be one of success, failed, partial")

	out, err = execute(t, "--config", configPath, "log", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync log cleared")
}

func TestSyncCmd_UnknownType(t *testing.T) {
	configPath, _ := writeAgentConfig(t, http.NotFoundHandler())

	_, err := execute(t, "--config", configPath, "sync", "--type", "grades")
	assert.EqualError(t, err, `unknown record type "grades"`)
}

func TestMigrateCmd_RequiresDatabaseStorage(t *testing.T) {
	configPath, _ := writeAgentConfig(t, http.NotFoundHandler())

	_, err := execute(t, "--config", configPath, "migrate", "up", "--yes")
	assert.EqualError(t, err, "database storage is not configured")
}

func TestRecordTypeFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    records.Type
		wantErr string
	}{
		{name: "unset", args: nil, want: ""},
		{name: "known", args: []string{"--type", "attendance-by-student"}, want: records.TypeAttendanceByStudent},
		{name: "unknown", args: []string{"--type=grades"}, wantErr: `unknown record type "grades"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags.String("type", "", "")
			require.NoError(t, flags.Parse(tt.args))

			got, err := recordTypeFlag(flags)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := recordTypeFlag(pflag.NewFlagSet("empty", pflag.ContinueOnError))
	assert.ErrorContains(t, err, "failed to get type flag")
}
