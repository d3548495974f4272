// Package config holds the Production configuration records described
// in the engine's data model, plus the koanf-based loader that builds
// them from defaults, a config file, and environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the whole Production configuration tree.
type Config struct {
	App         AppConfig          `koanf:"app"`
	Engine      EngineConfig       `koanf:"engine"`
	Log         LogConfig          `koanf:"log"`
	Metrics     MetricsConfig      `koanf:"metrics"`
	Tracing     TracingConfig      `koanf:"tracing"`
	WAL         WALConfig          `koanf:"wal"`
	Store       StoreConfig        `koanf:"store"`
	ExtQueue    ExtQueueConfig     `koanf:"ext_queue"`
	Items       []ItemConfig       `koanf:"items"`
	Routing     []RuleConfig       `koanf:"routing"`
	Connections []ConnectionConfig `koanf:"connections"`
}

// AppConfig carries process-wide identity.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

// EngineConfig governs the Production supervisor.
type EngineConfig struct {
	StartupDelay       time.Duration `koanf:"startup_delay"`
	MonitoringInterval time.Duration `koanf:"monitoring_interval"`
	DrainTimeout       time.Duration `koanf:"drain_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	StartDisabledItems bool          `koanf:"start_disabled_items"`
	WorkspacesRoot     string        `koanf:"workspaces_root"`
	// ExecutionMode names a worker-pool scheduling mode (async, the
	// default, thread_pool, or multiprocess). It is loaded and reported
	// by the validate command; the supervisor does not read it, so every
	// Host runs its worker pool the same way whatever the value.
	ExecutionMode string `koanf:"execution_mode"`
}

// ConnectionConfig names a directed link between two configured Items,
// tagged by the channel it represents. Routing rules express where a
// Process sends a message conditionally; a Connection documents the
// static topology two Items are wired into regardless of any rule,
// mirroring the engine design's "standard"/"error"/"async" link taxonomy.
// The Production build step checks each target_config_names entry
// against the declared connections and logs a warning for any that is
// missing; it does not reject the config.
type ConnectionConfig struct {
	From string `koanf:"from"`
	To   string `koanf:"to"`
	Kind string `koanf:"kind"` // standard|error|async
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Directory       string        `koanf:"directory"`
	Durability      string        `koanf:"durability"` // fsync|async|none
	SyncInterval    time.Duration `koanf:"sync_interval"`
	MaxFileSize     int64         `koanf:"max_file_size"`
	TTL             time.Duration `koanf:"ttl"`
	CheckpointEvery time.Duration `koanf:"checkpoint_every"`
}

// StoreConfig selects and configures the message store backend.
type StoreConfig struct {
	Driver          string        `koanf:"driver"` // postgres|memory
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// ExtQueueConfig selects and configures the optional external queue a
// Host can delegate submit/get to instead of its in-process Managed
// Queue, for cross-process deployments.
type ExtQueueConfig struct {
	Driver            string        `koanf:"driver"` // ""|redis
	Addr              string        `koanf:"addr"`
	Password          string        `koanf:"password"`
	DB                int           `koanf:"db"`
	PoolSize          int           `koanf:"pool_size"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout"`
}

// ItemConfig is one configured Host (Service, Process, or Operation).
type ItemConfig struct {
	Name            string         `koanf:"name"`
	ClassName       string         `koanf:"class_name"`
	PoolSize        int            `koanf:"pool_size"`
	Enabled         bool           `koanf:"enabled"`
	AdapterSettings map[string]any `koanf:"adapter_settings"`
	HostSettings    HostSettings   `koanf:"host_settings"`
}

// HostSettings is the business-logic configuration of a Host.
type HostSettings struct {
	TargetConfigNames     []string      `koanf:"target_config_names"`
	QueueType             string        `koanf:"queue_type"`        // fifo|lifo|priority|unordered
	QueueSize             int           `koanf:"queue_size"`
	OverflowStrategy      string        `koanf:"overflow_strategy"` // block|drop_oldest|drop_newest|redirect
	RestartPolicy         string        `koanf:"restart_policy"`    // never|on_failure|always
	MaxRestarts           int           `koanf:"max_restarts"`
	RestartDelay          time.Duration `koanf:"restart_delay"`
	MessageSchemaCategory string        `koanf:"message_schema_category"`
	ReplyCodeActions      string        `koanf:"reply_code_actions"`
	AckMode               string        `koanf:"ack_mode"`
	MessagingPattern      string        `koanf:"messaging_pattern"` // async|sync
	Timeout               time.Duration `koanf:"timeout"`
	Validation            string        `koanf:"validation"` // none|warn|error
	// ExternalQueueName, when set, routes this Host's submit and worker
	// get through the Production's external queue instead of its local
	// Managed Queue, naming the queue the external backend delivers on.
	ExternalQueueName string `koanf:"external_queue_name"`
}

// RuleConfig is one configured routing rule.
type RuleConfig struct {
	Name        string   `koanf:"name"`
	Priority    int      `koanf:"priority"`
	Condition   string   `koanf:"condition"`
	Action      string   `koanf:"action"` // send|transform|delete
	Targets     []string `koanf:"targets"`
	TransformID string   `koanf:"transform_id"`
	Enabled     bool     `koanf:"enabled"`
}

// Validate checks structural invariants the loader cannot express as
// plain defaults: unique, non-empty Item names, a non-empty class_name
// and a pool_size of at least 1 per Item. Whether a class_name resolves
// to a registered class is not checked here.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		if item.Name == "" {
			return fmt.Errorf("config: item missing name")
		}
		if seen[item.Name] {
			return fmt.Errorf("config: duplicate item name %q", item.Name)
		}
		seen[item.Name] = true
		if item.ClassName == "" {
			return fmt.Errorf("config: item %q missing class_name", item.Name)
		}
		if item.PoolSize < 1 {
			return fmt.Errorf("config: item %q pool_size must be >= 1", item.Name)
		}
	}
	return nil
}
