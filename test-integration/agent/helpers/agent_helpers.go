package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/onsi/gomega"

	"github.com/stacklok/fieldsync/internal/app"
	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/records/sqlite"
)

// AgentTestHelper manages the agent lifecycle for testing
type AgentTestHelper struct {
	ctx        context.Context
	configPath string
	dataDir    string
	baseURL    string
	httpClient *http.Client
	agent      *app.Agent
	served     chan error
}

// NewAgentTestHelper creates a new agent test helper
func NewAgentTestHelper(ctx context.Context, configPath, dataDir string) *AgentTestHelper {
	return &AgentTestHelper{
		ctx:        ctx,
		configPath: configPath,
		dataDir:    dataDir,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WriteConfigYAML writes an agent configuration pointing at remoteURL
func WriteConfigYAML(dir, remoteURL, role string) string {
	content := fmt.Sprintf(`device:
  id: tablet-e2e

session:
  principalId: teacher-1
  role: %s

remote:
  baseURL: %s
  timeout: 5s

connectivity:
  interval: 1h
  timeout: 2s

storage:
  type: file
  dataDir: %s

records:
  path: %s
`, role, remoteURL, filepath.Join(dir, "state"), RecordsPath(dir))

	path := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, []byte(content), 0600)).To(gomega.Succeed())
	return path
}

// RecordsPath returns the record database used by configurations written by WriteConfigYAML
func RecordsPath(dir string) string {
	return filepath.Join(dir, "records.db")
}

// SeedRecords writes records into the record database before the agent opens it
func SeedRecords(ctx context.Context, dir string, groups []string, recs ...records.Record) {
	store, err := sqlite.Open(RecordsPath(dir))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = store.Close()
	}()

	for _, g := range groups {
		gomega.Expect(store.AssignGroup(ctx, "teacher-1", g)).To(gomega.Succeed())
	}
	gomega.Expect(store.Put(ctx, recs...)).To(gomega.Succeed())
}

// StartAgent builds the agent from the configuration and serves it on a free port
func (h *AgentTestHelper) StartAgent() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(h.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	agent, err := app.NewAgent(h.ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	h.agent = agent
	h.baseURL = "http://" + listener.Addr().String()
	h.served = make(chan error, 1)

	go func() {
		h.served <- agent.Serve(listener)
	}()
	return nil
}

// StopAgent gracefully stops the agent and waits for Serve to return
func (h *AgentTestHelper) StopAgent() error {
	if h.agent == nil {
		return nil
	}
	if err := h.agent.Stop(5 * time.Second); err != nil {
		return err
	}
	select {
	case err := <-h.served:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("agent did not stop")
	}
}

// WaitForAgentReady waits for the agent to accept requests
func (h *AgentTestHelper) WaitForAgentReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := h.httpClient.Get(h.baseURL + "/health")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("agent returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Agent should be ready")
}

// Do sends a request to the local API and decodes a JSON response into out, if given
func (h *AgentTestHelper) Do(method, path string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(h.ctx, method, h.baseURL+path, reader)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.httpClient.Do(req)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		gomega.Expect(json.NewDecoder(resp.Body).Decode(out)).To(gomega.Succeed())
	}
	return resp.StatusCode
}
