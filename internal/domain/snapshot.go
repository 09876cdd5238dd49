package domain

import "time"

// Edge is one stored relation between two entities
type Edge struct {
	Owner    Handle `json:"owner" yaml:"owner"`
	Relation string `json:"relation" yaml:"relation"`
	Target   Handle `json:"target" yaml:"target"`
}

// Snapshot is a point-in-time copy of the whole graph
type Snapshot struct {
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Machines    []Machine          `json:"machines" yaml:"machines"`
	Domains     []Domain           `json:"domains" yaml:"domains"`
	Services    []Service          `json:"services" yaml:"services"`
	Users       []User             `json:"users" yaml:"users"`
	Groups      []Group            `json:"groups" yaml:"groups"`
	Credentials []Credential       `json:"credentials" yaml:"credentials"`
	Notes       []Note             `json:"notes" yaml:"notes"`
	Aliases     map[int64][]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Edges       []Edge             `json:"edges" yaml:"edges"`
}

// MachineDomains returns the names of the domains linked to machine id
func (s *Snapshot) MachineDomains(id int64) []string {
	names := make(map[int64]string, len(s.Domains))
	for _, d := range s.Domains {
		names[d.ID] = d.Name
	}

	var out []string
	for _, e := range s.Edges {
		if e.Owner.Kind == KindMachine && e.Owner.ID == id && e.Target.Kind == KindDomain {
			if name, ok := names[e.Target.ID]; ok {
				out = append(out, name)
			}
		}
	}
	return out
}
