package adapter

import (
	"time"

	"go.uber.org/zap"
)

// NmapOption is a functional option for configuring NmapProbe
type NmapOption func(*NmapProbe)

// WithTimeout bounds both scan passes together
func WithTimeout(d time.Duration) NmapOption {
	return func(n *NmapProbe) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithPortRange sets the ports of the discovery pass. Invalid ranges are
// ignored and nmap's default port list is used.
// Format: "80,443,8080" or "1-1000" or "22,80-443,8080"
func WithPortRange(ports string) NmapOption {
	return func(n *NmapProbe) {
		if validated, err := parsePorts(ports); err == nil {
			n.portRange = validated
		}
	}
}

// WithServiceDetection enables or disables the service pass (-sV, -sC)
func WithServiceDetection(enabled bool) NmapOption {
	return func(n *NmapProbe) {
		n.serviceDetection = enabled
	}
}

// WithSkipHostDiscovery sets whether to skip ping and treat the host as
// online (-Pn)
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(n *NmapProbe) {
		n.skipHostDiscovery = skip
	}
}

// WithCommonPorts configures scanning of common service ports
func WithCommonPorts() NmapOption {
	return func(n *NmapProbe) {
		n.portRange = "21,22,25,53,80,88,110,135,139,143,389,443,445,636,993,995,1433,3306,3389,5432,5900,5985,8080,8443"
	}
}

// WithTopPorts configures scanning of top N ports
// Common values: 10, 100, 1000
func WithTopPorts(count int) NmapOption {
	return func(n *NmapProbe) {
		switch {
		case count <= 10:
			n.portRange = "21,22,23,25,80,110,139,443,445,3389"
		case count <= 100:
			n.portRange = "21-23,25,53,80,88,110,111,135,139,143,389,443,445,993,995,1723,3306,3389,5900,8080"
		default:
			n.portRange = "1-1024"
		}
	}
}

// WithFastScan scans few ports and skips the service pass
func WithFastScan() NmapOption {
	return func(n *NmapProbe) {
		n.portRange = "22,80,443,445"
		n.serviceDetection = false
		n.timeout = 5 * time.Minute
	}
}

// WithNmapLogger sets the logger
func WithNmapLogger(logger *zap.Logger) NmapOption {
	return func(n *NmapProbe) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithBinaryPath runs the nmap binary at path instead of the one on $PATH
func WithBinaryPath(path string) NmapOption {
	return func(n *NmapProbe) {
		n.binaryPath = path
	}
}

// WithScanFunc replaces the nmap runner
func WithScanFunc(fn ScanFunc) NmapOption {
	return func(n *NmapProbe) {
		if fn != nil {
			n.scan = fn
		}
	}
}
