package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"go.uber.org/zap"

	"cartograph/internal/domain"
)

const nmapSource = "nmap"

// ScanFunc runs one nmap scan
type ScanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)

// NmapProbe port scans machines with nmap. A first pass finds the open
// ports; a second pass runs service detection and the default scripts on
// them only.
type NmapProbe struct {
	portRange         string
	serviceDetection  bool
	skipHostDiscovery bool
	timeout           time.Duration
	binaryPath        string
	scan              ScanFunc
	logger            *zap.Logger
}

// NewNmapProbe creates an nmap probe
func NewNmapProbe(opts ...NmapOption) *NmapProbe {
	p := &NmapProbe{
		serviceDetection:  true,
		skipHostDiscovery: true,
		timeout:           10 * time.Minute,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("nmap")
	if p.scan == nil {
		p.scan = p.runNmap
	}
	return p
}

// Name returns the probe identifier
func (n *NmapProbe) Name() string {
	return "port_scan"
}

// Accepts reports whether t is a machine
func (n *NmapProbe) Accepts(t Target) bool {
	return t.Handle.Kind == domain.KindMachine && t.IP != ""
}

// Run scans t and reconciles every host nmap reports
func (n *NmapProbe) Run(ctx context.Context, t Target, sink Sink) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	opts := []nmap.Option{nmap.WithTargets(t.IP)}
	if n.portRange != "" {
		opts = append(opts, nmap.WithPorts(n.portRange))
	}
	if n.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	n.logger.Debug("discovery scan", zap.String("target", t.IP), zap.String("ports", n.portRange))
	result, err := n.scan(ctx, opts...)
	if err != nil {
		return fmt.Errorf("scan of %s failed: %w", t.IP, err)
	}
	if err := n.reconcile(ctx, result, sink); err != nil {
		return err
	}

	ports := openPorts(result)
	if !n.serviceDetection {
		return nil
	}
	if len(ports) == 0 {
		n.logger.Info("no open port found", zap.String("target", t.IP))
		return nil
	}

	opts = []nmap.Option{
		nmap.WithTargets(t.IP),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithServiceInfo(),
		nmap.WithDefaultScript(),
	}
	if n.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	n.logger.Debug("service scan", zap.String("target", t.IP), zap.Ints("ports", ports))
	result, err = n.scan(ctx, opts...)
	if err != nil {
		return fmt.Errorf("service scan of %s failed: %w", t.IP, err)
	}
	return n.reconcile(ctx, result, sink)
}

func (n *NmapProbe) reconcile(ctx context.Context, result *nmap.Run, sink Sink) error {
	for _, obs := range MachineObservations(result) {
		if _, err := sink.Reconcile(ctx, obs); err != nil {
			return fmt.Errorf("failed to record %s: %w", obs.IP, err)
		}
		n.logger.Info("host scanned", zap.String("ip", obs.IP), zap.Int("services", len(obs.Services)))
	}
	return nil
}

func (n *NmapProbe) runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	if n.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(n.binaryPath))
	}
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, err
	}
	if warnings != nil && len(*warnings) > 0 {
		n.logger.Debug("nmap warnings", zap.Strings("warnings", *warnings))
	}
	return result, nil
}

// MachineObservations converts an nmap run into one machine observation per
// host that is up
func MachineObservations(result *nmap.Run) []*domain.MachineObservation {
	if result == nil {
		return nil
	}

	var out []*domain.MachineObservation
	for _, host := range result.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		ip := hostIP(host)
		if ip == "" {
			continue
		}

		obs := &domain.MachineObservation{IP: ip, Source: nmapSource}
		for _, h := range host.Hostnames {
			if h.Name == "" {
				continue
			}
			obs.Domains = append(obs.Domains, &domain.DomainObservation{Name: h.Name, Source: nmapSource})
		}
		for _, port := range host.Ports {
			obs.Services = append(obs.Services, serviceObservation(ip, port))
		}
		out = append(out, obs)
	}
	return out
}

// hostIP returns the host's IPv4 address, else its IPv6 address
func hostIP(host nmap.Host) string {
	var v6 string
	for _, addr := range host.Addresses {
		switch addr.AddrType {
		case "ipv4":
			return addr.Addr
		case "ipv6":
			if v6 == "" {
				v6 = addr.Addr
			}
		}
	}
	return v6
}

func serviceObservation(ip string, port nmap.Port) *domain.ServiceObservation {
	obs := &domain.ServiceObservation{
		Port:     int(port.ID),
		Protocol: optional(port.Protocol),
		Name:     optional(port.Service.Name),
		Product:  optional(strings.TrimSpace(port.Service.Product)),
		Version:  optional(strings.TrimSpace(port.Service.Version)),
		Status:   optional(port.State.State),
		Source:   nmapSource,
	}

	if scheme := httpScheme(port.Service); scheme != "" {
		obs.Kind = domain.ServiceKindHTTP
		obs.URL = domain.String(fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(ip, strconv.Itoa(int(port.ID)))))
	}

	for _, script := range port.Scripts {
		obs.Notes = append(obs.Notes, &domain.NoteObservation{
			Title:    script.ID + " (nmap)",
			Content:  strings.TrimSpace(script.Output),
			Interest: domain.InterestDetail,
			Source:   nmapSource,
		})
	}
	return obs
}

// httpScheme returns the URL scheme of a web service, "" otherwise
func httpScheme(s nmap.Service) string {
	name := strings.ToLower(s.Name)
	switch {
	case name == "https" || name == "ssl/http" || name == "https-alt":
		return "https"
	case strings.HasPrefix(name, "http"):
		if s.Tunnel == "ssl" {
			return "https"
		}
		return "http"
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func openPorts(result *nmap.Run) []int {
	if result == nil {
		return nil
	}
	seen := make(map[int]bool)
	var ports []int
	for _, host := range result.Hosts {
		for _, p := range host.Ports {
			if p.State.State != "open" || seen[int(p.ID)] {
				continue
			}
			seen[int(p.ID)] = true
			ports = append(ports, int(p.ID))
		}
	}
	return ports
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// parsePorts validates a port list in nmap format
func parsePorts(portRange string) (string, error) {
	// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080"
	parts := strings.Split(portRange, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return "", fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[1])
			}
		} else {
			port, err := strconv.Atoi(part)
			if err != nil || port < 1 || port > 65535 {
				return "", fmt.Errorf("invalid port number: %s", part)
			}
		}
	}
	return portRange, nil
}
