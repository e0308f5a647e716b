package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN) for the audit store
	DatabaseURL string `mapstructure:"database_url"`

	// Server bind address (host:port) for the ingest and audit API
	ServerAddr string `mapstructure:"server_addr"`

	// Browser origins allowed to call the API; empty keeps the local defaults
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	Discord       DiscordConfig       `mapstructure:"discord"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Platform      PlatformConfig      `mapstructure:"platform"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Policy        PolicyConfig        `mapstructure:"policy"`
}

// DiscordConfig holds the platform connection settings.
// The token is opaque to the reconciliation core.
type DiscordConfig struct {
	Token             string  `mapstructure:"token"`
	GuildID           string  `mapstructure:"guild_id"`
	LogChannelID      string  `mapstructure:"log_channel_id"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// AuditConfig selects the audit store backend.
type AuditConfig struct {
	Backend  string `mapstructure:"backend"` // "db" or "file"
	FilePath string `mapstructure:"file_path"`
}

// ReconcileConfig tunes the dispatcher and the conflict tie-break.
type ReconcileConfig struct {
	QueueSize         int           `mapstructure:"queue_size"`
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout"`
	TieBreak          string        `mapstructure:"tie_break"`

	// RevalidateOnPrerequisiteLoss also checks held dependent roles when one
	// of their prerequisites is removed.
	RevalidateOnPrerequisiteLoss bool `mapstructure:"revalidate_on_prerequisite_loss"`
}

// PlatformConfig bounds remote calls.
type PlatformConfig struct {
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MutationRetries int           `mapstructure:"mutation_retries"`
	NameCacheSize   int           `mapstructure:"name_cache_size"`
}

// ObservabilityConfig holds OpenTelemetry settings. An empty endpoint
// disables export.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`

	// TraceSampleRatio is the fraction of root spans sampled, 0 to 1.
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
}

// PolicyConfig is the raw role policy as written in the config file.
// Role ids are decimal snowflake strings.
type PolicyConfig struct {
	Roles           []RoleConfig       `mapstructure:"roles"`
	ExclusiveGroups []GroupConfig      `mapstructure:"exclusive_groups"`
	Dependencies    []DependencyConfig `mapstructure:"dependencies"`
}

// RoleConfig names a role for notifications.
type RoleConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// GroupConfig is an exclusive role group. Order matters for the
// group-order tie-break.
type GroupConfig struct {
	Name  string   `mapstructure:"name"`
	Roles []string `mapstructure:"roles"`
}

// DependencyConfig states that Role may be held only with one of Requires.
type DependencyConfig struct {
	Role     string   `mapstructure:"role"`
	Requires []string `mapstructure:"requires"`
}

// Supported audit backends
const (
	AuditBackendDB   = "db"
	AuditBackendFile = "file"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ROLEWARDEN"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:rolewarden.db?cache=shared")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("debug", false)
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.log_channel_id", "")
	v.SetDefault("discord.requests_per_second", 5.0)
	v.SetDefault("audit.backend", AuditBackendDB)
	v.SetDefault("audit.file_path", "role_data.json")
	v.SetDefault("reconcile.queue_size", 256)
	v.SetDefault("reconcile.worker_idle_timeout", time.Minute)
	v.SetDefault("reconcile.tie_break", "lowest-id")
	v.SetDefault("reconcile.revalidate_on_prerequisite_loss", true)
	v.SetDefault("platform.call_timeout", 10*time.Second)
	v.SetDefault("platform.mutation_retries", 0)
	v.SetDefault("platform.name_cache_size", 512)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "rolewarden")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.trace_sample_ratio", 1.0)
}

// Load reads configuration from the global viper instance: config file (if
// one was read), ROLEWARDEN_ environment variables and bound flags.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from the given viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges. Policy contents are
// validated separately when the policy is built.
func (c *Config) Validate() error {
	switch c.Audit.Backend {
	case AuditBackendDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the %q audit backend", AuditBackendDB)
		}
	case AuditBackendFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit.file_path is required for the %q audit backend", AuditBackendFile)
		}
	default:
		return fmt.Errorf("unknown audit.backend %q (want %q or %q)", c.Audit.Backend, AuditBackendDB, AuditBackendFile)
	}

	if c.Reconcile.QueueSize <= 0 {
		return fmt.Errorf("reconcile.queue_size must be positive, got %d", c.Reconcile.QueueSize)
	}
	if c.Reconcile.WorkerIdleTimeout <= 0 {
		return fmt.Errorf("reconcile.worker_idle_timeout must be positive")
	}
	if c.Platform.CallTimeout <= 0 {
		return fmt.Errorf("platform.call_timeout must be positive")
	}
	if c.Platform.MutationRetries < 0 {
		return fmt.Errorf("platform.mutation_retries must not be negative")
	}
	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability.trace_sample_ratio must be between 0 and 1, got %g", r)
	}
	return nil
}
