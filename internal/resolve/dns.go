package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultResolvConf is read when no nameservers are configured
const DefaultResolvConf = "/etc/resolv.conf"

// DNSConfig configures a DNSLookup
type DNSConfig struct {
	// Servers are nameserver addresses (host or host:port). Empty means
	// the servers listed in ResolvConf.
	Servers    []string
	ResolvConf string
	Timeout    time.Duration
	// QueriesPerSecond caps outgoing queries. Zero disables the limit.
	QueriesPerSecond float64
	Burst            int
}

// DNSLookup queries nameservers directly with miekg/dns
type DNSLookup struct {
	client  *dns.Client
	servers []string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDNSLookup creates a DNSLookup
func NewDNSLookup(cfg DNSConfig, logger *zap.Logger) (*DNSLookup, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	servers, err := nameservers(cfg)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.QueriesPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), burst)
	}

	return &DNSLookup{
		client:  &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		servers: servers,
		limiter: limiter,
		logger:  logger.Named("dns"),
	}, nil
}

func nameservers(cfg DNSConfig) ([]string, error) {
	if len(cfg.Servers) > 0 {
		out := make([]string, 0, len(cfg.Servers))
		for _, s := range cfg.Servers {
			if _, _, err := net.SplitHostPort(s); err != nil {
				s = net.JoinHostPort(s, "53")
			}
			out = append(out, s)
		}
		return out, nil
	}

	path := cfg.ResolvConf
	if path == "" {
		path = DefaultResolvConf
	}
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}
	out := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		out = append(out, net.JoinHostPort(s, conf.Port))
	}
	return out, nil
}

// Servers returns the nameservers queried, in order
func (l *DNSLookup) Servers() []string {
	return append([]string{}, l.servers...)
}

// LookupHop sends one A query and follows the first answer record:
// a CNAME yields the next name, an A or AAAA record an address.
func (l *DNSLookup) LookupHop(ctx context.Context, name string) (Hop, error) {
	answer, err := l.Query(ctx, name, dns.TypeA)
	if err != nil {
		return Hop{}, err
	}
	for _, rr := range answer {
		switch rec := rr.(type) {
		case *dns.CNAME:
			return Hop{Name: rec.Target}, nil
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A); ok {
				return Hop{IP: addr.Unmap()}, nil
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rec.AAAA); ok {
				return Hop{IP: addr}, nil
			}
		}
	}
	return Hop{}, nil
}

// Query returns the answer section for name and qtype. NXDOMAIN is an empty
// answer, not an error. Servers are tried in order until one answers.
func (l *DNSLookup) Query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	var errs []error
	for _, server := range l.servers {
		resp, _, err := l.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			l.logger.Debug("query failed", zap.String("server", server), zap.String("name", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp.Answer, nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			errs = append(errs, fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode]))
		}
	}
	return nil, fmt.Errorf("failed to query %s %s: %w", dns.TypeToString[qtype], name, errors.Join(errs...))
}
