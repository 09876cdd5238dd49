package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cartograph/internal/domain"
)

// DefaultMaxHops bounds the number of lookups per resolution
const DefaultMaxHops = 16

var (
	// ErrHopLimit is returned when a chain is longer than the hop limit
	ErrHopLimit = fmt.Errorf("hop limit exceeded: %w", domain.ErrResolutionUnbounded)

	// ErrCycle is returned when a chain revisits a name
	ErrCycle = fmt.Errorf("alias cycle: %w", domain.ErrResolutionUnbounded)

	// ErrEmptyTarget is returned for a blank target
	ErrEmptyTarget = errors.New("empty target")
)

// Hop is the answer to one lookup: the next name in the chain, an address,
// or neither when the name does not resolve.
type Hop struct {
	Name string
	IP   netip.Addr
}

// IsEmpty reports whether the lookup produced no answer
func (h Hop) IsEmpty() bool {
	return h.Name == "" && !h.IP.IsValid()
}

// Lookup resolves a single hop
type Lookup interface {
	LookupHop(ctx context.Context, name string) (Hop, error)
}

// Resolution is the equivalence class a target designates
type Resolution struct {
	Target  string       `json:"target"`
	IPs     []netip.Addr `json:"ips"`
	Aliases []string     `json:"aliases"`
}

// Exhausted reports whether the chain ended without an address. The target
// is then known only by name.
func (r Resolution) Exhausted() bool {
	return len(r.IPs) == 0
}

func (r Resolution) clone() Resolution {
	return Resolution{
		Target:  r.Target,
		IPs:     append([]netip.Addr{}, r.IPs...),
		Aliases: append([]string{}, r.Aliases...),
	}
}

// Resolver walks alias chains through a Lookup.
// Concurrent resolutions of the same target share one walk.
type Resolver struct {
	lookup  Lookup
	maxHops int
	logger  *zap.Logger
	group   singleflight.Group
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMaxHops sets the hop limit. Values below 1 keep the default.
func WithMaxHops(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxHops = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver
func New(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:  lookup,
		maxHops: DefaultMaxHops,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("resolve")
	return r
}

// Resolve resolves target. On ErrHopLimit, ErrCycle or a lookup failure the
// returned Resolution holds the aliases collected so far.
func (r *Resolver) Resolve(ctx context.Context, target string) (Resolution, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Resolution{}, ErrEmptyTarget
	}

	if addr, err := netip.ParseAddr(target); err == nil {
		return Resolution{
			Target:  target,
			IPs:     []netip.Addr{addr.Unmap()},
			Aliases: []string{},
		}, nil
	}

	// The shared walk is detached from any one caller, so a caller that
	// gives up does not fail the others waiting on it.
	key := domain.NormalizeDomainName(target)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.walk(context.WithoutCancel(ctx), target, key)
	})

	select {
	case <-ctx.Done():
		return Resolution{Target: target, IPs: []netip.Addr{}, Aliases: []string{}}, ctx.Err()
	case out := <-ch:
		if out.Shared {
			r.logger.Debug("resolution shared", zap.String("target", target))
		}
		res := out.Val.(Resolution).clone()
		res.Target = target
		return res, out.Err
	}
}

func (r *Resolver) walk(ctx context.Context, target, name string) (Resolution, error) {
	res := Resolution{Target: target, IPs: []netip.Addr{}, Aliases: []string{}}
	seen := make(map[string]bool)

	for {
		if seen[name] {
			r.logger.Warn("alias cycle", zap.String("target", target), zap.String("name", name))
			return res, fmt.Errorf("resolve %s: %w", target, ErrCycle)
		}
		if len(res.Aliases) >= r.maxHops {
			r.logger.Warn("hop limit exceeded", zap.String("target", target), zap.Int("max_hops", r.maxHops))
			return res, fmt.Errorf("resolve %s: %w", target, ErrHopLimit)
		}
		seen[name] = true
		res.Aliases = append(res.Aliases, name)

		hop, err := r.lookup.LookupHop(ctx, name)
		if err != nil {
			return res, fmt.Errorf("failed to resolve %s: %w", name, err)
		}

		switch {
		case hop.IP.IsValid():
			res.IPs = append(res.IPs, hop.IP.Unmap())
			r.logger.Debug("resolved",
				zap.String("target", target),
				zap.Strings("aliases", res.Aliases),
				zap.String("ip", hop.IP.String()))
			return res, nil
		case hop.Name == "":
			r.logger.Debug("resolution exhausted", zap.String("target", target), zap.Strings("aliases", res.Aliases))
			return res, nil
		}

		name = domain.NormalizeDomainName(hop.Name)
	}
}

// StaticLookup answers hops from a fixed table. A value is either an IP
// literal or the next name. Keys are matched after normalization.
type StaticLookup map[string]string

// LookupHop implements Lookup
func (s StaticLookup) LookupHop(_ context.Context, name string) (Hop, error) {
	next, ok := s[domain.NormalizeDomainName(name)]
	if !ok || next == "" {
		return Hop{}, nil
	}
	if addr, err := netip.ParseAddr(next); err == nil {
		return Hop{IP: addr}, nil
	}
	return Hop{Name: next}, nil
}
