package realm

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"

	"github.com/GoCodeAlone/realm/routing"
)

const (
	defaultShutdownGrace = "5s"
	defaultTracerName    = "github.com/GoCodeAlone/realm"
)

// Config holds the settings of a Model. Files are fed first, then
// environment variables, then defaults fill whatever is still empty.
type Config struct {
	// RootURL is the URL of the root component.
	RootURL string `yaml:"root_url" toml:"root_url" json:"root_url" env:"REALM_ROOT_URL"`

	// ShutdownGrace is how long background tasks get to finish during
	// Shutdown, as a time.ParseDuration string.
	ShutdownGrace string `yaml:"shutdown_grace" toml:"shutdown_grace" json:"shutdown_grace" env:"REALM_SHUTDOWN_GRACE"`

	// LogEvents installs a hook that logs every component event.
	LogEvents bool `yaml:"log_events" toml:"log_events" json:"log_events" env:"REALM_LOG_EVENTS"`

	TracerName string `yaml:"tracer_name" toml:"tracer_name" json:"tracer_name" env:"REALM_TRACER_NAME"`

	// FrameworkCapabilities can be used from "framework" by any component.
	FrameworkCapabilities []routing.Builtin `yaml:"framework_capabilities" toml:"framework_capabilities" json:"framework_capabilities"`

	// RootParentCapabilities are offered to the root by its parent.
	RootParentCapabilities []routing.Builtin `yaml:"root_parent_capabilities" toml:"root_parent_capabilities" json:"root_parent_capabilities"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ShutdownGrace == "" {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.TracerName == "" {
		c.TracerName = defaultTracerName
	}
}

// Grace parses ShutdownGrace.
func (c *Config) Grace() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil {
		return 0, fmt.Errorf("%w: shutdown_grace %q: %w", ErrInvalidConfig, c.ShutdownGrace, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: shutdown_grace must not be negative", ErrInvalidConfig)
	}
	return d, nil
}

// Validate checks the parsed settings.
func (c *Config) Validate() error {
	if _, err := c.Grace(); err != nil {
		return err
	}
	for _, b := range append(append([]routing.Builtin{}, c.FrameworkCapabilities...), c.RootParentCapabilities...) {
		if !b.Kind.Valid() || b.Name == "" {
			return fmt.Errorf("%w: builtin capability %q of kind %q", ErrInvalidConfig, b.Name, b.Kind)
		}
	}
	return nil
}

// LoadConfig reads path (YAML, TOML or JSON, chosen by extension) and the
// REALM_* environment variables into a Config. An empty path reads only the
// environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	builder := config.New()
	if path != "" {
		f, err := fileFeeder(path)
		if err != nil {
			return nil, err
		}
		builder.AddFeeder(f)
	}
	builder.AddFeeder(feeder.Env{})
	builder.AddStruct(cfg)
	if err := builder.Feed(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigFeed, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fileFeeder(path string) (config.Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return feeder.Yaml{Path: path}, nil
	case ".toml":
		return feeder.Toml{Path: path}, nil
	case ".json":
		return feeder.Json{Path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFormat, path)
}
