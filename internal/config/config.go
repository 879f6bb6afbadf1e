// ABOUTME: talkerd configuration
// ABOUTME: YAML file loading with defaults and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/internal/worker"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
)

const (
	DefaultType   = "talkerd"
	DefaultListen = "127.0.0.1:7777"
)

// Config is the daemon's configuration file
type Config struct {
	Type           string        `yaml:"type"`
	Category       string        `yaml:"category"`
	Backend        string        `yaml:"backend"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	BrowseInterval time.Duration `yaml:"browse_interval"`
	PeerLifetime   time.Duration `yaml:"peer_lifetime"`
	Listen         string        `yaml:"listen"`
	Metrics        bool          `yaml:"metrics"`
	Log            LogConfig     `yaml:"log"`
}

// LogConfig selects the log level and an optional log file
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	c := &Config{Metrics: true}
	c.setDefaults()
	return c
}

// Load reads path over the defaults. An empty path yields the defaults.
// Settings left out of the file are derived from the ones present, so a
// browse_interval alone also sets peer_lifetime.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c := &Config{Metrics: true}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) setDefaults() {
	if c.Type == "" {
		c.Type = DefaultType
	}
	if c.Category == "" {
		c.Category = discovery.DefaultCategory
	}
	if c.Backend == "" {
		c.Backend = discovery.BackendMDNS
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = worker.DefaultResolveTimeout
	}
	if c.BrowseInterval == 0 {
		c.BrowseInterval = discovery.DefaultInterval
	}
	if c.PeerLifetime == 0 {
		c.PeerLifetime = 3 * c.BrowseInterval
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first setting the daemon cannot run with
func (c *Config) Validate() error {
	if _, err := descriptor.Encode(c.Type); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	switch c.Backend {
	case discovery.BackendMDNS, discovery.BackendZeroconf, discovery.BackendMemory:
	default:
		return fmt.Errorf("backend: unknown backend %q", c.Backend)
	}
	if c.ResolveTimeout < 0 || c.BrowseInterval < 0 || c.PeerLifetime < 0 {
		return errors.New("durations must not be negative")
	}
	if c.PeerLifetime < c.BrowseInterval {
		return fmt.Errorf("peer_lifetime %s is shorter than browse_interval %s", c.PeerLifetime, c.BrowseInterval)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// DiscoveryOptions maps the file settings onto backend options
func (c *Config) DiscoveryOptions() discovery.Options {
	return discovery.Options{
		Interval: c.BrowseInterval,
		Lifetime: c.PeerLifetime,
	}
}
