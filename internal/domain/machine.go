package domain

import (
	"net/netip"
	"strings"
)

// Machine is a host on the network, keyed by IP address
type Machine struct {
	ID int64  `json:"id" yaml:"id"`
	IP string `json:"ip" yaml:"ip"`
}

// Handle returns the machine's handle
func (m Machine) Handle() Handle {
	return NewHandle(KindMachine, m.ID)
}

// Domain is a DNS name, keyed by its normalized form
type Domain struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Handle returns the domain's handle
func (d Domain) Handle() Handle {
	return NewHandle(KindDomain, d.ID)
}

// NormalizeIP returns the canonical text form of an IP literal.
// Values that do not parse are returned trimmed but otherwise unchanged.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	return addr.Unmap().String()
}

// IsIP reports whether s is an IPv4 or IPv6 literal
func IsIP(s string) bool {
	_, err := netip.ParseAddr(strings.TrimSpace(s))
	return err == nil
}

// NormalizeDomainName lowercases a DNS name and strips the root dot
func NormalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".")
	return strings.ToLower(name)
}
