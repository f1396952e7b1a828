// Package config loads and validates the nodesync configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nodesync/nodesync/pkg/registry"
	"github.com/nodesync/nodesync/pkg/telemetry"
)

// DefaultPath is where nodesync looks for its configuration when no
// --config flag is given.
const DefaultPath = "/etc/nodesync/nodesync.yaml"

// RegistryConfig holds Registry appliance connection settings. The API
// token is the service key and secret key concatenated.
type RegistryConfig struct {
	URL        string `yaml:"url" validate:"required,url"`
	ServiceKey string `yaml:"service_key" validate:"required"`
	SecretKey  string `yaml:"secret_key" validate:"required"`

	// UnknownOSGroupID, when non-zero, receives nodes whose operating
	// system could not be classified.
	UnknownOSGroupID int64 `yaml:"unknown_os_group_id"`

	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// FactDBConfig holds fact-database connection settings.
type FactDBConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	CertFile string        `yaml:"cert_file"`
	KeyFile  string        `yaml:"key_file"`
	CAFile   string        `yaml:"ca_file"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Domain is one DNS suffix within a site, with the ordered
// connection-profile candidates that reach nodes under it, split by OS
// family.
type Domain struct {
	Name string `yaml:"name" validate:"required"`

	WindowsProfiles []registry.ConnectionProfile `yaml:"windows_connection_manager_groups"`
	SSHProfiles     []registry.ConnectionProfile `yaml:"ssh_connection_manager_groups"`
}

// Site describes one datacenter's connection topology. Sites and their
// domains are matched in declaration order; first match wins.
type Site struct {
	Name    string   `yaml:"name" validate:"required"`
	Domains []Domain `yaml:"domains" validate:"dive"`
}

// ProvisionConfig tunes the provisioning workflow.
type ProvisionConfig struct {
	// SleepAfterCreate delays the first scan of a freshly created node
	// so the appliance can finish registering it.
	SleepAfterCreate time.Duration `yaml:"sleep_after_create"`

	// IgnoreHostnameSubstring skips nodes whose hostname contains the
	// substring, typically ephemeral build hosts.
	IgnoreHostnameSubstring string `yaml:"ignore_hostname_substring"`

	// TestMode gates provisioning on unchanged runs instead of
	// changed or failed ones, and enables fact fixtures.
	TestMode bool `yaml:"test_mode"`
}

// QueueConfig locates the offline queue file.
type QueueConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// SpoolConfig tunes the run-record spool directory watcher.
type SpoolConfig struct {
	Dir        string        `yaml:"dir"`
	ArchiveDir string        `yaml:"archive_dir"`
	Debounce   time.Duration `yaml:"debounce"`
}

// HistoryConfig locates the provisioning history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// FixturesConfig supplies canned test values used when TestMode is on.
type FixturesConfig struct {
	OS              string `yaml:"os"`
	NodeName        string `yaml:"node_name"`
	WindowsHostname string `yaml:"windows_hostname"`
	LinuxHostname   string `yaml:"linux_hostname"`
	Role            string `yaml:"role"`
	Environment     string `yaml:"environment"`
	Datacenter      string `yaml:"datacenter"`
}

// Config is the root nodesync configuration.
type Config struct {
	Registry  RegistryConfig   `yaml:"registry" validate:"required"`
	FactDB    FactDBConfig     `yaml:"fact_db"`
	Sites     []Site           `yaml:"sites" validate:"dive"`
	Provision ProvisionConfig  `yaml:"provision"`
	Queue     QueueConfig      `yaml:"queue"`
	Spool     SpoolConfig      `yaml:"spool"`
	History   HistoryConfig    `yaml:"history"`
	Fixtures  FixturesConfig   `yaml:"fixtures"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Registry.ProbeTimeout <= 0 {
		c.Registry.ProbeTimeout = 20 * time.Second
	}
	if c.FactDB.Timeout <= 0 {
		c.FactDB.Timeout = 15 * time.Second
	}
	if c.Provision.SleepAfterCreate <= 0 {
		c.Provision.SleepAfterCreate = 30 * time.Second
	}
	if c.Queue.Path == "" {
		c.Queue.Path = "/var/lib/nodesync/offline-queue.json"
	}
	if c.Spool.Debounce <= 0 {
		c.Spool.Debounce = 2 * time.Second
	}
	if c.Fixtures.OS == "" {
		c.Fixtures.OS = "centos"
	}

	def := telemetry.DefaultConfig()
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = def.ServiceName
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging = def.Logging
	}
	if c.Telemetry.Tracing.Exporter == "" {
		c.Telemetry.Tracing = def.Tracing
	}
	if c.Telemetry.Metrics.ListenAddress == "" {
		c.Telemetry.Metrics = def.Metrics
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for _, site := range c.Sites {
		if _, dup := seen[site.Name]; dup {
			return fmt.Errorf("validate config: duplicate site %q", site.Name)
		}
		seen[site.Name] = struct{}{}
	}
	return nil
}
