// Package config provides configuration management for cartograph.
//
// The config file holds how cartograph behaves during an engagement: which
// probes may run, how hard they push and where the graph is stored. The
// graph itself lives in the database and can be reset independently.
//
// Config file locations (priority order):
//  1. $CARTOGRAPH_CONFIG
//  2. ./cartograph.yaml
//  3. ~/.config/cartograph/config.yaml
//  4. /etc/cartograph/config.yaml
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path. Keys missing from the
// file keep their default values.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns sensible defaults for a new engagement
func DefaultConfig() *Config {
	return &Config{
		Version:   1,
		Posture:   PostureBalanced,
		Database:  DatabaseConfig{Path: "./cartograph.db"},
		Server:    ServerConfig{Addr: "127.0.0.1:3000"},
		Log:       LogConfig{Level: "info", Format: "console"},
		Resolver:  ResolverConfig{MaxHops: 16},
		Reconcile: ReconcileConfig{MaxTries: 5},
		Probes:    DefaultProbes(),
	}
}

// applyDefaults fills in values left empty by the file
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Posture == "" {
		c.Posture = def.Posture
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Resolver.MaxHops == 0 {
		c.Resolver.MaxHops = def.Resolver.MaxHops
	}
	if c.Reconcile.MaxTries == 0 {
		c.Reconcile.MaxTries = def.Reconcile.MaxTries
	}

	probes := def.Probes
	if c.Probes.PortScan.MinMode == "" {
		c.Probes.PortScan.MinMode = probes.PortScan.MinMode
	}
	if c.Probes.TCPScan.MinMode == "" {
		c.Probes.TCPScan.MinMode = probes.TCPScan.MinMode
	}
	if c.Probes.ScanDomain.MinMode == "" {
		c.Probes.ScanDomain.MinMode = probes.ScanDomain.MinMode
	}
	if c.Probes.SSHLogin.MinMode == "" {
		c.Probes.SSHLogin.MinMode = probes.SSHLogin.MinMode
	}
	if len(c.Probes.SSHLogin.Ports) == 0 {
		c.Probes.SSHLogin.Ports = probes.SSHLogin.Ports
	}
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EffectiveMode returns the mode to use (override > default)
func (c *Config) EffectiveMode() Mode {
	if c.Mode != nil {
		return *c.Mode
	}
	return ModeMonitor
}

// EffectiveBehavior returns behavior profile with overrides applied
func (c *Config) EffectiveBehavior() BehaviorProfile {
	base := c.Posture.GetProfile()

	if c.Behavior == nil {
		return base
	}

	if c.Behavior.ProbeTimeout != nil {
		base.ProbeTimeout = c.Behavior.ProbeTimeout.Duration()
	}
	if c.Behavior.MaxConcurrentJobs != nil {
		base.MaxConcurrentJobs = *c.Behavior.MaxConcurrentJobs
	}
	if c.Behavior.DNSQueriesPerSecond != nil {
		base.DNSQueriesPerSecond = *c.Behavior.DNSQueriesPerSecond
	}
	if c.Behavior.ConnectConcurrency != nil {
		base.ConnectConcurrency = *c.Behavior.ConnectConcurrency
	}

	return base
}

// EnabledProbes returns the names of the probes allowed in the current mode
func (c *Config) EnabledProbes() []string {
	mode := c.EffectiveMode()
	var enabled []string

	for _, p := range c.Probes.ListProbes() {
		if p.Enabled && p.Available && mode.Allows(p.MinMode) {
			enabled = append(enabled, p.Name)
		}
	}

	return enabled
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	mode := c.EffectiveMode()
	behavior := c.EffectiveBehavior()
	probes := c.EnabledProbes()

	summary := fmt.Sprintf("Mode: %s, Posture: %s\n", mode, c.Posture)
	summary += fmt.Sprintf("Probe timeout: %s, Jobs: %d, DNS qps: %g\n",
		behavior.ProbeTimeout, behavior.MaxConcurrentJobs, behavior.DNSQueriesPerSecond)
	summary += fmt.Sprintf("Enabled probes (%d):", len(probes))
	for _, p := range probes {
		summary += fmt.Sprintf(" %s", p)
	}

	return summary
}
