package config

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "IONBRIDGE_"
	configEnvVar = "IONBRIDGE_CONFIG_PATH"
)

// Loader builds a Config from layered sources.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader constructs a Loader with the given options applied over
// its defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/ionbridge/config.yaml",
		},
		envPrefix: envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoaderOption customizes a Loader before Load runs.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the search paths used to locate a config
// file (YAML, JSON, or XML, by extension).
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// Load layers defaults, then a config file (YAML, JSON, or XML — by
// extension), then environment overrides, and returns a validated
// Config.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "config: warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "ionbridge",
		"app.version":     "0.1.0",
		"app.environment": "development",

		"engine.startup_delay":        0 * time.Second,
		"engine.monitoring_interval":  10 * time.Second,
		"engine.drain_timeout":        30 * time.Second,
		"engine.shutdown_timeout":     30 * time.Second,
		"engine.start_disabled_items": false,
		"engine.workspaces_root":      "./workspaces",
		"engine.execution_mode":       "async",

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "ionbridge",
		"metrics.subsystem": "engine",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "ionbridge",
		"tracing.sample_rate":  0.1,

		"wal.enabled":          true,
		"wal.directory":        "./data/wal",
		"wal.durability":       "fsync",
		"wal.sync_interval":    time.Second,
		"wal.max_file_size":    64 * 1024 * 1024,
		"wal.ttl":              24 * time.Hour,
		"wal.checkpoint_every": time.Minute,

		"store.driver":             "memory",
		"store.host":               "localhost",
		"store.port":               5432,
		"store.database":           "ionbridge",
		"store.username":           "ionbridge",
		"store.password":           "",
		"store.ssl_mode":           "disable",
		"store.max_open_conns":     10,
		"store.max_idle_conns":     5,
		"store.conn_max_lifetime":  time.Hour,
		"store.conn_max_idle_time": 10 * time.Minute,
		"store.auto_migrate":       true,

		"ext_queue.driver":             "",
		"ext_queue.addr":               "localhost:6379",
		"ext_queue.db":                 0,
		"ext_queue.pool_size":          10,
		"ext_queue.visibility_timeout": 30 * time.Second,
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile locates a config file via IONBRIDGE_CONFIG_PATH or
// the search list, parsing it by extension (.yaml/.yml, .json, .xml).
func (l *Loader) loadConfigFile() error {
	if p := os.Getenv(configEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return l.loadFile(p)
		}
	}

	for _, path := range l.configPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return l.loadFile(abs)
		}
	}
	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadFile(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xml":
		m, err := xmlConfigToMap(path)
		if err != nil {
			return fmt.Errorf("config: parse xml: %w", err)
		}
		return l.k.Load(confmap.Provider(m, "."), nil)
	case ".json":
		return l.k.Load(file.Provider(path), jsonParser{})
	default:
		return l.k.Load(file.Provider(path), yaml.Parser())
	}
}

// jsonParser adapts encoding/json to koanf's Parser interface so a
// .json config file layers the same way a .yaml one does.
type jsonParser struct{}

func (jsonParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (jsonParser) Marshal(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

// xmlDocument carries the scalar sections of the configuration (app,
// engine, log, metrics, tracing, wal, store, ext_queue) when it is
// authored as XML. Items, routing rules and connections are not read
// from an XML file.
type xmlDocument struct {
	XMLName  xml.Name   `xml:"ionbridge"`
	App      xmlSection `xml:"app"`
	Engine   xmlSection `xml:"engine"`
	Log      xmlSection `xml:"log"`
	Metrics  xmlSection `xml:"metrics"`
	Tracing  xmlSection `xml:"tracing"`
	WAL      xmlSection `xml:"wal"`
	Store    xmlSection `xml:"store"`
	ExtQueue xmlSection `xml:"ext_queue"`
}

type xmlSection struct {
	Fields []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// xmlConfigToMap reads an XML config document and flattens it into the
// same dotted-key shape the YAML/JSON providers produce, so it merges
// into the same koanf instance without a separate code path.
func xmlConfigToMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]any)
	sections := map[string]xmlSection{
		"app": doc.App, "engine": doc.Engine, "log": doc.Log,
		"metrics": doc.Metrics, "tracing": doc.Tracing, "wal": doc.WAL, "store": doc.Store,
		"ext_queue": doc.ExtQueue,
	}
	for name, sec := range sections {
		for _, f := range sec.Fields {
			out[name+"."+strings.ToLower(f.XMLName.Local)] = f.Value
		}
	}
	return out, nil
}

// loadEnv layers environment overrides, e.g. IONBRIDGE_WAL_DURABILITY
// -> wal.durability.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, l.envPrefix)),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads a Config or panics, for use in command-line entry
// points where a bad config is a fatal startup error.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

// Load loads a Config using default search paths and the IONBRIDGE_
// environment prefix.
func Load() (*Config, error) {
	return NewLoader().Load()
}
