package adapter

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartograph/internal/domain"
)

const connectSource = "tcp"

// NoteBanner is the title of the note holding a service's greeting line
const NoteBanner = "Banner"

// wellKnownPorts maps common ports to their usual service names
var wellKnownPorts = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "domain",
	80:   "http",
	88:   "kerberos-sec",
	110:  "pop3",
	135:  "msrpc",
	139:  "netbios-ssn",
	143:  "imap",
	389:  "ldap",
	443:  "https",
	445:  "microsoft-ds",
	636:  "ldapssl",
	993:  "imaps",
	995:  "pop3s",
	1433: "ms-sql-s",
	3306: "mysql",
	3389: "ms-wbt-server",
	5432: "postgresql",
	5900: "vnc",
	5985: "wsman",
	8080: "http-proxy",
	8443: "https-alt",
}

// ConnectScanConfig holds configuration for the TCP connect scanner
type ConnectScanConfig struct {
	// Ports are the TCP ports probed on each machine
	Ports []int
	// Timeout for individual connection attempts
	Timeout time.Duration
	// BannerTimeout for reading service banners
	BannerTimeout time.Duration
	// MaxConcurrent limits parallel connection attempts per machine
	MaxConcurrent int
}

// DefaultConnectScanConfig returns the common-ports configuration
func DefaultConnectScanConfig() ConnectScanConfig {
	ports := make([]int, 0, len(wellKnownPorts))
	for p := range wellKnownPorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ConnectScanConfig{
		Ports:         ports,
		Timeout:       time.Second,
		BannerTimeout: time.Second,
		MaxConcurrent: 32,
	}
}

// ConnectScanProbe finds open TCP ports without nmap. It is a fallback for
// hosts where the nmap binary is missing or raw sockets are not allowed.
type ConnectScanProbe struct {
	config ConnectScanConfig
	dial   DialFunc
	logger *zap.Logger
}

// NewConnectScanProbe creates a TCP connect scanner. A nil dial uses
// net.Dialer.
func NewConnectScanProbe(config ConnectScanConfig, dial DialFunc, logger *zap.Logger) *ConnectScanProbe {
	defaults := DefaultConnectScanConfig()
	if len(config.Ports) == 0 {
		config.Ports = defaults.Ports
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BannerTimeout == 0 {
		config.BannerTimeout = defaults.BannerTimeout
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if dial == nil {
		dialer := &net.Dialer{Timeout: config.Timeout}
		dial = dialer.DialContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectScanProbe{config: config, dial: dial, logger: logger.Named("tcp")}
}

// Name returns the probe identifier
func (s *ConnectScanProbe) Name() string {
	return "tcp_scan"
}

// Accepts reports whether t is a machine
func (s *ConnectScanProbe) Accepts(t Target) bool {
	return t.Handle.Kind == domain.KindMachine && t.IP != ""
}

// Run probes every configured port on t and reconciles the open ones
func (s *ConnectScanProbe) Run(ctx context.Context, t Target, sink Sink) error {
	var (
		mu       sync.Mutex
		services []*domain.ServiceObservation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for _, port := range s.config.Ports {
		g.Go(func() error {
			svc, ok := s.scanPort(gctx, t.IP, port)
			if ok {
				mu.Lock()
				services = append(services, svc)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	sort.Slice(services, func(i, j int) bool {
		return services[i].Port < services[j].Port
	})

	s.logger.Info("host scanned", zap.String("ip", t.IP), zap.Int("open", len(services)))
	if len(services) == 0 {
		return nil
	}
	obs := &domain.MachineObservation{IP: t.IP, Source: connectSource, Services: services}
	if _, err := sink.Reconcile(ctx, obs); err != nil {
		return fmt.Errorf("failed to record %s: %w", t.IP, err)
	}
	return nil
}

// scanPort connects to one port and reads its banner when it sends one
func (s *ConnectScanProbe) scanPort(ctx context.Context, ip string, port int) (*domain.ServiceObservation, bool) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	conn, err := s.dial(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, false
	}
	defer conn.Close()

	svc := &domain.ServiceObservation{
		Port:     port,
		Protocol: domain.String("tcp"),
		Status:   domain.String(string(domain.ServiceStatusOpen)),
		Name:     optional(wellKnownPorts[port]),
		Source:   connectSource,
	}

	if banner := s.grabBanner(conn, ip, port); banner != "" {
		svc.Notes = append(svc.Notes, &domain.NoteObservation{
			Title:    NoteBanner,
			Content:  banner,
			Interest: domain.InterestVerbose,
			Source:   connectSource,
		})
	}
	return svc, true
}

// grabBanner reads the first line a service sends. HTTP ports get a HEAD
// request first.
func (s *ConnectScanProbe) grabBanner(conn net.Conn, ip string, port int) string {
	conn.SetDeadline(time.Now().Add(s.config.BannerTimeout))

	if name := wellKnownPorts[port]; name == "http" || name == "http-proxy" {
		fmt.Fprintf(conn, "HEAD / HTTP/1.0\r\nHost: %s\r\n\r\n", ip)
	}

	buf := make([]byte, 256)
	n, _ := conn.Read(buf)
	if n == 0 {
		return ""
	}

	banner := string(buf[:n])
	if idx := strings.Index(banner, "\n"); idx > 0 {
		banner = banner[:idx]
	}
	banner = strings.TrimSpace(banner)
	if len(banner) > 100 {
		banner = banner[:100] + "..."
	}
	return banner
}
