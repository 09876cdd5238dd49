package adapter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"cartograph/internal/domain"
)

const dnsSource = "dns"

// Record note titles
const (
	NoteNameservers  = "Nameservers"
	NoteMailServers  = "Mail servers"
	NoteTextEntries  = "Text entries"
	NoteZoneTransfer = "Zone transfer"
	NoteWhois        = "Whois"
)

// DefaultWhoisTimeout bounds one whois exchange
const DefaultWhoisTimeout = 15 * time.Second

// RecordQuerier answers DNS queries. A missing name yields no records and
// no error.
type RecordQuerier interface {
	Query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error)
}

// TransferFunc requests a full zone transfer of zone from server (host:port)
type TransferFunc func(ctx context.Context, zone, server string) ([]dns.RR, error)

// WhoisFunc returns the raw registry answer for name
type WhoisFunc func(ctx context.Context, name string) (string, error)

// DNSRecordsProbe records a domain's NS, MX and TXT records as notes and
// feeds the name servers and mail exchangers back as new targets. When
// enabled, it also attempts a zone transfer from each name server and
// records the registry's whois answer.
type DNSRecordsProbe struct {
	records      RecordQuerier
	transfer     TransferFunc
	zoneTransfer bool
	whois        WhoisFunc
	lookupWhois  bool
	logger       *zap.Logger
}

// DNSOption configures a DNSRecordsProbe
type DNSOption func(*DNSRecordsProbe)

// WithZoneTransfer enables AXFR attempts against the domain's name servers
func WithZoneTransfer(enabled bool) DNSOption {
	return func(p *DNSRecordsProbe) {
		p.zoneTransfer = enabled
	}
}

// WithTransferFunc replaces the zone transfer client
func WithTransferFunc(fn TransferFunc) DNSOption {
	return func(p *DNSRecordsProbe) {
		if fn != nil {
			p.transfer = fn
		}
	}
}

// WithWhois enables the whois lookup
func WithWhois(enabled bool) DNSOption {
	return func(p *DNSRecordsProbe) {
		p.lookupWhois = enabled
	}
}

// WithWhoisFunc replaces the whois client
func WithWhoisFunc(fn WhoisFunc) DNSOption {
	return func(p *DNSRecordsProbe) {
		if fn != nil {
			p.whois = fn
		}
	}
}

// WithDNSLogger sets the logger
func WithDNSLogger(logger *zap.Logger) DNSOption {
	return func(p *DNSRecordsProbe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewDNSRecordsProbe creates a DNS records probe
func NewDNSRecordsProbe(records RecordQuerier, opts ...DNSOption) *DNSRecordsProbe {
	p := &DNSRecordsProbe{
		records:     records,
		transfer:    axfr,
		whois:       whoisLookup(DefaultWhoisTimeout),
		lookupWhois: true,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("dns")
	return p
}

// Name returns the probe identifier
func (p *DNSRecordsProbe) Name() string {
	return "scan_domain"
}

// Accepts reports whether t is a domain
func (p *DNSRecordsProbe) Accepts(t Target) bool {
	return t.Handle.Kind == domain.KindDomain && t.Name != ""
}

// Run queries t's records and reconciles them as notes on the domain
func (p *DNSRecordsProbe) Run(ctx context.Context, t Target, sink Sink) error {
	obs := &domain.DomainObservation{Name: t.Name, Source: dnsSource}

	nameservers, err := p.query(ctx, t.Name, dns.TypeNS)
	if err != nil {
		return err
	}
	var nsHosts []string
	if len(nameservers) > 0 {
		var lines []string
		for _, rr := range nameservers {
			if ns, ok := rr.(*dns.NS); ok {
				nsHosts = append(nsHosts, hostName(ns.Ns))
				lines = append(lines, ns.Ns)
			}
		}
		obs.Notes = append(obs.Notes, recordNote(NoteNameservers, lines, domain.InterestHigh))
	}

	if p.zoneTransfer {
		if note := p.tryZoneTransfer(ctx, t.Name, nsHosts); note != nil {
			obs.Notes = append(obs.Notes, note)
		}
	}

	mailservers, err := p.query(ctx, t.Name, dns.TypeMX)
	if err != nil {
		return err
	}
	var mxHosts []string
	if len(mailservers) > 0 {
		var lines []string
		for _, rr := range mailservers {
			if mx, ok := rr.(*dns.MX); ok {
				mxHosts = append(mxHosts, hostName(mx.Mx))
				lines = append(lines, fmt.Sprintf("%d %s", mx.Preference, mx.Mx))
			}
		}
		obs.Notes = append(obs.Notes, recordNote(NoteMailServers, lines, domain.InterestHigh))
	}

	texts, err := p.query(ctx, t.Name, dns.TypeTXT)
	if err != nil {
		return err
	}
	if len(texts) > 0 {
		var lines []string
		for _, rr := range texts {
			if txt, ok := rr.(*dns.TXT); ok {
				lines = append(lines, `"`+strings.Join(txt.Txt, `" "`)+`"`)
			}
		}
		obs.Notes = append(obs.Notes, recordNote(NoteTextEntries, lines, domain.InterestHigh))
	}

	if p.lookupWhois {
		// registries rate limit hard; a failed lookup only costs the note
		answer, err := p.whois(ctx, t.Name)
		switch {
		case err != nil:
			p.logger.Warn("whois lookup failed", zap.String("domain", t.Name), zap.Error(err))
		case strings.TrimSpace(answer) != "":
			obs.Notes = append(obs.Notes, &domain.NoteObservation{
				Title:    NoteWhois,
				Content:  strings.TrimSpace(answer),
				Interest: domain.InterestDetail,
				Source:   "whois",
			})
		}
	}

	if _, err := sink.Reconcile(ctx, obs); err != nil {
		return fmt.Errorf("failed to record %s: %w", t.Name, err)
	}

	for _, host := range append(nsHosts, mxHosts...) {
		if host == "" {
			continue
		}
		if err := sink.AddTarget(ctx, host); err != nil {
			p.logger.Warn("failed to add discovered host", zap.String("domain", t.Name), zap.String("host", host), zap.Error(err))
		}
	}

	p.logger.Info("records collected",
		zap.String("domain", t.Name),
		zap.Int("ns", len(nsHosts)),
		zap.Int("mx", len(mxHosts)),
		zap.Int("txt", len(texts)))
	return nil
}

func (p *DNSRecordsProbe) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	rrs, err := p.records.Query(ctx, name, qtype)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	return rrs, nil
}

// tryZoneTransfer returns a note with the first zone a name server hands
// out, nil when every server refuses
func (p *DNSRecordsProbe) tryZoneTransfer(ctx context.Context, zone string, nameservers []string) *domain.NoteObservation {
	for _, ns := range nameservers {
		addrs, err := p.records.Query(ctx, ns, dns.TypeA)
		if err != nil {
			p.logger.Debug("name server lookup failed", zap.String("ns", ns), zap.Error(err))
			continue
		}
		for _, rr := range addrs {
			a, ok := rr.(*dns.A)
			if !ok {
				continue
			}
			server := net.JoinHostPort(a.A.String(), "53")
			records, err := p.transfer(ctx, zone, server)
			if err != nil || len(records) == 0 {
				p.logger.Debug("zone transfer refused", zap.String("zone", zone), zap.String("server", server), zap.Error(err))
				continue
			}

			lines := make([]string, len(records))
			for i, r := range records {
				lines[i] = r.String()
			}
			p.logger.Warn("zone transfer allowed", zap.String("zone", zone), zap.String("server", server), zap.Int("records", len(records)))
			return recordNote(NoteZoneTransfer, lines, domain.InterestCritical)
		}
	}
	return nil
}

func recordNote(title string, lines []string, interest int) *domain.NoteObservation {
	return &domain.NoteObservation{
		Title:    title,
		Content:  strings.Join(lines, "\n"),
		Interest: interest,
		Source:   dnsSource,
	}
}

func hostName(fqdn string) string {
	return domain.NormalizeDomainName(fqdn)
}

// axfr performs a zone transfer with miekg/dns. The transfer has no context
// support and is bounded by its timeouts once started.
func axfr(ctx context.Context, zone, server string) ([]dns.RR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetAxfr(dns.Fqdn(zone))

	tr := &dns.Transfer{
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	}
	envelopes, err := tr.In(m, server)
	if err != nil {
		return nil, fmt.Errorf("failed to start transfer: %w", err)
	}

	var (
		records []dns.RR
		failure error
	)
	for env := range envelopes {
		if env.Error != nil && failure == nil {
			failure = env.Error
		}
		records = append(records, env.RR...)
	}
	if failure != nil {
		return nil, failure
	}
	return records, nil
}

// whoisLookup queries the registry with likexian/whois. The client has no
// context support and is bounded by timeout once started.
func whoisLookup(timeout time.Duration) WhoisFunc {
	client := whois.NewClient().SetTimeout(timeout)
	return func(ctx context.Context, name string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return client.Whois(name)
	}
}
