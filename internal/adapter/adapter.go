package adapter

import (
	"context"
	"fmt"

	"cartograph/internal/domain"
)

// Target is the entity a probe runs against
type Target struct {
	Handle domain.Handle `json:"handle"`
	// IP is set for machines and services
	IP string `json:"ip,omitempty"`
	// Name is set for domains
	Name string `json:"name,omitempty"`
	// Port is set for services
	Port int `json:"port,omitempty"`
}

// MachineTarget creates a target for a stored machine
func MachineTarget(m domain.Machine) Target {
	return Target{Handle: m.Handle(), IP: m.IP}
}

// DomainTarget creates a target for a stored domain
func DomainTarget(d domain.Domain) Target {
	return Target{Handle: d.Handle(), Name: d.Name}
}

// ServiceTarget creates a target for a stored service on machine m
func ServiceTarget(m domain.Machine, s domain.Service) Target {
	return Target{Handle: s.Handle(), IP: m.IP, Port: s.Port}
}

func (t Target) String() string {
	switch t.Handle.Kind {
	case domain.KindService:
		return fmt.Sprintf("%s:%d", t.IP, t.Port)
	case domain.KindDomain:
		return t.Name
	}
	return t.IP
}

// Sink receives what probes find
type Sink interface {
	// Reconcile merges one observation into the graph
	Reconcile(ctx context.Context, obs domain.Observation) (domain.Handle, error)

	// AddTarget resolves a newly discovered host name or address and
	// records it
	AddTarget(ctx context.Context, target string) error
}

// Probe gathers observations about one kind of target
type Probe interface {
	// Name returns the unique identifier for this probe
	Name() string

	// Accepts reports whether the probe can run against t
	Accepts(t Target) bool

	// Run probes t and reports findings to sink
	Run(ctx context.Context, t Target, sink Sink) error
}
