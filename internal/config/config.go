// Package config provides configuration loading and management for the fieldsync agent.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read by the agent
const EnvPrefix = "FIELDSYNC"

const (
	// StorageTypeFile keeps sync state in a JSON document under the data directory
	StorageTypeFile = "file"

	// StorageTypeDatabase keeps sync state in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	appDirName                 = "fieldsync"
	recordsFileName            = "records.db"
	defaultAPIAddress          = "127.0.0.1:8080"
	defaultRemoteTimeout       = 30 * time.Second
	defaultConnectivityTimeout = 5 * time.Second
	defaultConnectivityPoll    = 30 * time.Second
	defaultEligibleRole        = "teacher"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Device identifies this field device to the remote service
	Device DeviceConfig `yaml:"device"`

	// Session describes the principal active on the device
	Session *SessionConfig `yaml:"session,omitempty"`

	// Remote is the central service the records are pushed to
	Remote RemoteConfig `yaml:"remote"`

	Connectivity *ConnectivityConfig `yaml:"connectivity,omitempty"`
	Storage      *StorageConfig      `yaml:"storage,omitempty"`
	Records      *RecordsConfig      `yaml:"records,omitempty"`
	API          *APIConfig          `yaml:"api,omitempty"`
	Telemetry    *telemetry.Config   `yaml:"telemetry,omitempty"`
}

// DeviceConfig identifies the device
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// SessionConfig describes the active principal. An absent session means nobody is
// signed in and automatic syncs are skipped.
type SessionConfig struct {
	// PrincipalID is the user whose records are synchronized
	PrincipalID string `yaml:"principalId"`

	// Role is the principal's role on the device
	Role string `yaml:"role"`

	// EligibleRoles lists the roles allowed to sync. Defaults to ["teacher"].
	EligibleRoles []string `yaml:"eligibleRoles,omitempty"`
}

// RemoteConfig defines the central service ingest endpoints
type RemoteConfig struct {
	// BaseURL is the service base URL, e.g. "https://school.example.org"
	BaseURL string `yaml:"baseURL"`

	// TokenFile is the path to a file containing the bearer token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout bounds each bulk transfer request (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// Paths overrides the ingest path per record type
	Paths map[string]string `yaml:"paths,omitempty"`
}

// ConnectivityConfig defines how network reachability is probed
type ConnectivityConfig struct {
	// ProbeURL is fetched to decide whether the network is reachable.
	// Defaults to the remote base URL.
	ProbeURL string `yaml:"probeURL,omitempty"`

	// Interval is how often the monitor polls the probe (e.g. "30s")
	Interval string `yaml:"interval,omitempty"`

	// Timeout bounds a single probe request
	Timeout string `yaml:"timeout,omitempty"`
}

// StorageConfig defines where sync state (watermarks, audit log, preferences) lives
type StorageConfig struct {
	// Type is "file" (default) or "database"
	Type string `yaml:"type,omitempty"`

	// DataDir is the directory for file storage
	DataDir string `yaml:"dataDir,omitempty"`

	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// RecordsConfig defines the device-local record store
type RecordsConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path,omitempty"`
}

// APIConfig defines the local status API
type APIConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of pooled connections
	MaxConns int32 `yaml:"maxConns,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FIELDSYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)
	if d.MaxConns > 0 {
		connString += fmt.Sprintf("&pool_max_conns=%d", d.MaxConns)
	}

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates YAML configuration content
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}

	if err := validateRemote(&c.Remote); err != nil {
		return err
	}

	if c.Session != nil {
		if c.Session.PrincipalID == "" {
			return fmt.Errorf("session.principalId is required when session is set")
		}
	}

	if c.Connectivity != nil {
		if err := validateDuration(c.Connectivity.Interval, "connectivity.interval"); err != nil {
			return err
		}
		if err := validateDuration(c.Connectivity.Timeout, "connectivity.timeout"); err != nil {
			return err
		}
		if c.Connectivity.ProbeURL != "" {
			if _, err := url.ParseRequestURI(c.Connectivity.ProbeURL); err != nil {
				return fmt.Errorf("connectivity.probeURL is not a valid URL: %w", err)
			}
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return validateStorage(c.Storage)
}

func validateRemote(remote *RemoteConfig) error {
	if remote.BaseURL == "" {
		return fmt.Errorf("remote.baseURL is required")
	}
	u, err := url.ParseRequestURI(remote.BaseURL)
	if err != nil {
		return fmt.Errorf("remote.baseURL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.baseURL must use http or https, got %q", u.Scheme)
	}

	if err := validateDuration(remote.Timeout, "remote.timeout"); err != nil {
		return err
	}

	for name, path := range remote.Paths {
		if _, err := records.ParseType(name); err != nil {
			return fmt.Errorf("remote.paths: %w", err)
		}
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("remote.paths[%s]: path must start with '/'", name)
		}
	}

	return nil
}

func validateStorage(storage *StorageConfig) error {
	if storage == nil {
		return nil
	}

	switch storage.Type {
	case "", StorageTypeFile:
		return nil
	case StorageTypeDatabase:
		db := storage.Database
		if db == nil {
			return fmt.Errorf("storage.database is required when storage.type is %s", StorageTypeDatabase)
		}
		if db.Host == "" {
			return fmt.Errorf("storage.database.host is required")
		}
		if db.Port == 0 {
			return fmt.Errorf("storage.database.port is required")
		}
		if db.User == "" {
			return fmt.Errorf("storage.database.user is required")
		}
		if db.Database == "" {
			return fmt.Errorf("storage.database.database is required")
		}
		return nil
	default:
		return fmt.Errorf("storage.type must be %s or %s, got %q", StorageTypeFile, StorageTypeDatabase, storage.Type)
	}
}

func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

// GetStorageType returns the configured storage type, defaulting to file
func (c *Config) GetStorageType() string {
	if c.Storage == nil || c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// DefaultDataDir is the data directory used when storage.dataDir is unset: the
// fieldsync directory under the XDG data home ($XDG_DATA_HOME, or
// ~/.local/share on Linux).
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, appDirName)
}

// GetDataDir returns the directory used for file storage
func (c *Config) GetDataDir() string {
	if c.Storage == nil || c.Storage.DataDir == "" {
		return DefaultDataDir()
	}
	return c.Storage.DataDir
}

// GetRecordsPath returns the path of the local record database. It defaults to
// records.db in the default data directory.
func (c *Config) GetRecordsPath() string {
	if c.Records == nil || c.Records.Path == "" {
		return filepath.Join(DefaultDataDir(), recordsFileName)
	}
	return c.Records.Path
}

// GetAPIAddress returns the listen address of the status API
func (c *Config) GetAPIAddress() string {
	if c.API == nil || c.API.Address == "" {
		return defaultAPIAddress
	}
	return c.API.Address
}

// MetricsEnabled reports whether the Prometheus metrics endpoint is served
func (c *Config) MetricsEnabled() bool {
	return c.Telemetry.MetricsEnabled()
}

// GetRemoteTimeout returns the bulk transfer request timeout
func (r *RemoteConfig) GetRemoteTimeout() time.Duration {
	return parseDurationOr(r.Timeout, defaultRemoteTimeout)
}

// GetIngestURL returns the full ingest URL for the record type
func (r *RemoteConfig) GetIngestURL(t records.Type) string {
	path := t.IngestPath()
	if override, ok := r.Paths[string(t)]; ok && override != "" {
		path = override
	}
	return strings.TrimRight(r.BaseURL, "/") + path
}

// GetToken returns the bearer token from TokenFile or FIELDSYNC_REMOTE_TOKEN.
// An empty token is allowed and means requests are sent unauthenticated.
func (r *RemoteConfig) GetToken() (string, error) {
	if r.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(r.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", r.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv(EnvPrefix + "_REMOTE_TOKEN"), nil
}

// GetProbeURL returns the connectivity probe URL
func (c *Config) GetProbeURL() string {
	if c.Connectivity != nil && c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Remote.BaseURL
}

// GetConnectivityInterval returns how often connectivity is polled
func (c *Config) GetConnectivityInterval() time.Duration {
	if c.Connectivity == nil {
		return defaultConnectivityPoll
	}
	return parseDurationOr(c.Connectivity.Interval, defaultConnectivityPoll)
}

// GetConnectivityTimeout returns the timeout of a single probe
func (c *Config) GetConnectivityTimeout() time.Duration {
	if c.Connectivity == nil {
		return defaultConnectivityTimeout
	}
	return parseDurationOr(c.Connectivity.Timeout, defaultConnectivityTimeout)
}

// GetEligibleRoles returns the roles allowed to sync
func (s *SessionConfig) GetEligibleRoles() []string {
	if s == nil || len(s.EligibleRoles) == 0 {
		return []string{defaultEligibleRole}
	}
	return slices.Clone(s.EligibleRoles)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
