package config

import "time"

// Mode is the ceiling on how intrusive the running probes may be
type Mode string

const (
	ModePassive   Mode = "passive"   // no probes; the graph grows from add and import only
	ModeMonitor   Mode = "monitor"   // + TCP connect scan and DNS records
	ModeDiscovery Mode = "discovery" // + nmap and SSH login attempts
)

// ParseMode converts a string to Mode, defaulting to ModeMonitor
func ParseMode(s string) Mode {
	switch s {
	case "passive":
		return ModePassive
	case "monitor":
		return ModeMonitor
	case "discovery":
		return ModeDiscovery
	default:
		return ModeMonitor
	}
}

// Level returns numeric level for comparison (higher = more intrusive)
func (m Mode) Level() int {
	switch m {
	case ModePassive:
		return 0
	case ModeMonitor:
		return 1
	case ModeDiscovery:
		return 2
	default:
		return 1
	}
}

// Allows returns true if this mode allows the given mode's probes
func (m Mode) Allows(required Mode) bool {
	return m.Level() >= required.Level()
}

// Posture defines behavioral aggressiveness
type Posture string

const (
	PostureStealth    Posture = "stealth"    // one job at a time, slow DNS
	PostureCautious   Posture = "cautious"   // conservative, respect rate limits
	PostureBalanced   Posture = "balanced"   // default engagement behavior
	PostureAggressive Posture = "aggressive" // fast, unthrottled DNS
)

// ParsePosture converts a string to Posture, defaulting to PostureBalanced
func ParsePosture(s string) Posture {
	switch s {
	case "stealth":
		return PostureStealth
	case "cautious":
		return PostureCautious
	case "balanced":
		return PostureBalanced
	case "aggressive":
		return PostureAggressive
	default:
		return PostureBalanced
	}
}

// BehaviorProfile defines timing and concurrency settings
type BehaviorProfile struct {
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	MaxConcurrentJobs   int           `yaml:"max_concurrent_jobs"`
	DNSQueriesPerSecond float64       `yaml:"dns_queries_per_second"` // 0 = unlimited
	ConnectConcurrency  int           `yaml:"connect_concurrency"`    // parallel dials per machine
}

// PostureProfiles maps postures to their default behavior profiles
var PostureProfiles = map[Posture]BehaviorProfile{
	PostureStealth: {
		ProbeTimeout:        2 * time.Hour,
		MaxConcurrentJobs:   1,
		DNSQueriesPerSecond: 1,
		ConnectConcurrency:  2,
	},
	PostureCautious: {
		ProbeTimeout:        time.Hour,
		MaxConcurrentJobs:   2,
		DNSQueriesPerSecond: 10,
		ConnectConcurrency:  8,
	},
	PostureBalanced: {
		ProbeTimeout:        30 * time.Minute,
		MaxConcurrentJobs:   4,
		DNSQueriesPerSecond: 50,
		ConnectConcurrency:  32,
	},
	PostureAggressive: {
		ProbeTimeout:        15 * time.Minute,
		MaxConcurrentJobs:   16,
		DNSQueriesPerSecond: 0,
		ConnectConcurrency:  128,
	},
}

// GetProfile returns the behavior profile for a posture
func (p Posture) GetProfile() BehaviorProfile {
	if profile, ok := PostureProfiles[p]; ok {
		return profile
	}
	return PostureProfiles[PostureBalanced]
}
