package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int               `yaml:"version" validate:"eq=1"`
	Mode      *Mode             `yaml:"mode,omitempty" validate:"omitempty,oneof=passive monitor discovery"` // nil = monitor
	Posture   Posture           `yaml:"posture" validate:"oneof=stealth cautious balanced aggressive"`
	Behavior  *BehaviorOverride `yaml:"behavior,omitempty"`
	Database  DatabaseConfig    `yaml:"database"`
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Resolver  ResolverConfig    `yaml:"resolver"`
	Reconcile ReconcileConfig   `yaml:"reconcile"`
	Probes    ProbesConfig      `yaml:"probes"`
}

// BehaviorOverride allows overriding posture defaults
type BehaviorOverride struct {
	ProbeTimeout        *Duration `yaml:"probe_timeout,omitempty"`
	MaxConcurrentJobs   *int      `yaml:"max_concurrent_jobs,omitempty" validate:"omitempty,min=1"`
	DNSQueriesPerSecond *float64  `yaml:"dns_queries_per_second,omitempty" validate:"omitempty,min=0"`
	ConnectConcurrency  *int      `yaml:"connect_concurrency,omitempty" validate:"omitempty,min=1"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig selects the logger
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// ResolverConfig bounds name resolution
type ResolverConfig struct {
	// Servers are nameservers (host or host:port); empty means resolv.conf
	Servers    []string  `yaml:"servers,omitempty" validate:"dive,hostname_port|ip|hostname"`
	ResolvConf string    `yaml:"resolv_conf,omitempty"`
	Timeout    *Duration `yaml:"timeout,omitempty"`
	MaxHops    int       `yaml:"max_hops" validate:"min=1"`
}

// ReconcileConfig tunes the merge engine
type ReconcileConfig struct {
	// MaxTries is how often a transaction is attempted when the store
	// reports a conflict
	MaxTries int `yaml:"max_tries" validate:"min=1"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DurationOf returns a *Duration for d
func DurationOf(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
