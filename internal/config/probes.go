package config

import "os/exec"

// Probe names as registered with the adapter registry
const (
	ProbePortScan   = "port_scan"
	ProbeTCPScan    = "tcp_scan"
	ProbeScanDomain = "scan_domain"
	ProbeSSHLogin   = "ssh_login"
)

// ProbeConfig defines settings shared by every probe
type ProbeConfig struct {
	Enabled bool `yaml:"enabled"`
	MinMode Mode `yaml:"min_mode,omitempty" validate:"omitempty,oneof=passive monitor discovery"`
}

// PortScanConfig configures the nmap probe
type PortScanConfig struct {
	ProbeConfig `yaml:",inline"`
	BinaryPath  *string `yaml:"binary_path,omitempty"`
	// Ports is an nmap port list ("22,80,443" or "1-1024"), or "common"
	// for the usual service ports; empty means nmap's default list
	Ports string `yaml:"ports,omitempty"`
	// TopPorts picks a preset of the N most common ports when Ports is empty
	TopPorts          int  `yaml:"top_ports,omitempty" validate:"min=0"`
	Fast              bool `yaml:"fast,omitempty"`
	SkipHostDiscovery bool `yaml:"skip_host_discovery,omitempty"`
}

// TCPScanConfig configures the connect scanner
type TCPScanConfig struct {
	ProbeConfig `yaml:",inline"`
	Ports       []int     `yaml:"ports,omitempty" validate:"dive,min=1,max=65535"`
	Timeout     *Duration `yaml:"timeout,omitempty"`
}

// ScanDomainConfig configures the DNS records probe
type ScanDomainConfig struct {
	ProbeConfig  `yaml:",inline"`
	ZoneTransfer bool `yaml:"zone_transfer"`
	// Whois records the registry's answer for the domain
	Whois bool `yaml:"whois"`
}

// CredentialPair is a username and password tried by the SSH login probe
type CredentialPair struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
}

// SSHLoginConfig configures the SSH login probe
type SSHLoginConfig struct {
	ProbeConfig `yaml:",inline"`
	Ports       []int            `yaml:"ports,omitempty" validate:"dive,min=1,max=65535"`
	Timeout     *Duration        `yaml:"timeout,omitempty"`
	Credentials []CredentialPair `yaml:"credentials,omitempty" validate:"dive"`
}

// ProbesConfig holds all probe settings
type ProbesConfig struct {
	// Auto starts every allowed probe against each new machine, domain
	// and service
	Auto       bool             `yaml:"auto"`
	PortScan   PortScanConfig   `yaml:"port_scan"`
	TCPScan    TCPScanConfig    `yaml:"tcp_scan"`
	ScanDomain ScanDomainConfig `yaml:"scan_domain"`
	SSHLogin   SSHLoginConfig   `yaml:"ssh_login"`
}

// DefaultProbes returns the default probe configuration
func DefaultProbes() ProbesConfig {
	return ProbesConfig{
		Auto: true,
		PortScan: PortScanConfig{
			ProbeConfig: ProbeConfig{Enabled: true, MinMode: ModeDiscovery},
		},
		TCPScan: TCPScanConfig{
			ProbeConfig: ProbeConfig{Enabled: true, MinMode: ModeMonitor},
		},
		ScanDomain: ScanDomainConfig{
			ProbeConfig: ProbeConfig{Enabled: true, MinMode: ModeMonitor},
			Whois:       true,
		},
		SSHLogin: SSHLoginConfig{
			ProbeConfig: ProbeConfig{Enabled: false, MinMode: ModeDiscovery}, // Sends passwords
			Ports:       []int{22},
		},
	}
}

// ProbeInfo provides runtime info about a probe
type ProbeInfo struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"` // Has required deps
	MinMode     Mode   `json:"min_mode"`
	Description string `json:"description"`
}

// lookPath finds external binaries; replaced in tests
var lookPath = exec.LookPath

// ListProbes returns info about all probes
func (c *ProbesConfig) ListProbes() []ProbeInfo {
	nmapBinary := "nmap"
	if c.PortScan.BinaryPath != nil {
		nmapBinary = *c.PortScan.BinaryPath
	}
	_, err := lookPath(nmapBinary)

	return []ProbeInfo{
		{
			Name:        ProbePortScan,
			Enabled:     c.PortScan.Enabled,
			Available:   err == nil,
			MinMode:     c.PortScan.MinMode,
			Description: "Port and service fingerprinting via nmap",
		},
		{
			Name:        ProbeTCPScan,
			Enabled:     c.TCPScan.Enabled,
			Available:   true, // Pure Go
			MinMode:     c.TCPScan.MinMode,
			Description: "TCP connect scan with banner grabbing",
		},
		{
			Name:        ProbeScanDomain,
			Enabled:     c.ScanDomain.Enabled,
			Available:   true,
			MinMode:     c.ScanDomain.MinMode,
			Description: "NS, MX and TXT records, optional zone transfer",
		},
		{
			Name:        ProbeSSHLogin,
			Enabled:     c.SSHLogin.Enabled,
			Available:   true, // Pure Go SSH client
			MinMode:     c.SSHLogin.MinMode,
			Description: "Password login attempts against SSH services",
		},
	}
}

// IsEnabled checks if a probe is enabled and available for the given mode
func (c *ProbesConfig) IsEnabled(name string, currentMode Mode) bool {
	for _, p := range c.ListProbes() {
		if p.Name == name {
			return p.Enabled && p.Available && currentMode.Allows(p.MinMode)
		}
	}
	return false
}
