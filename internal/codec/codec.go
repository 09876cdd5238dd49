package codec

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"cartograph/internal/domain"
)

// Document is a batch of observations to reconcile, as written by an
// operator or exported by another tool
type Document struct {
	Machines    []*domain.MachineObservation    `json:"machines,omitempty" yaml:"machines,omitempty"`
	Domains     []*domain.DomainObservation     `json:"domains,omitempty" yaml:"domains,omitempty"`
	Services    []*domain.ServiceObservation    `json:"services,omitempty" yaml:"services,omitempty"`
	Users       []*domain.UserObservation       `json:"users,omitempty" yaml:"users,omitempty"`
	Groups      []*domain.GroupObservation      `json:"groups,omitempty" yaml:"groups,omitempty"`
	Credentials []*domain.CredentialObservation `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// Observations flattens the document in field order
func (d *Document) Observations() []domain.Observation {
	var out []domain.Observation
	for _, o := range d.Machines {
		out = append(out, o)
	}
	for _, o := range d.Domains {
		out = append(out, o)
	}
	for _, o := range d.Services {
		out = append(out, o)
	}
	for _, o := range d.Users {
		out = append(out, o)
	}
	for _, o := range d.Groups {
		out = append(out, o)
	}
	for _, o := range d.Credentials {
		out = append(out, o)
	}
	return out
}

// Len returns the number of top-level observations
func (d *Document) Len() int {
	return len(d.Machines) + len(d.Domains) + len(d.Services) + len(d.Users) + len(d.Groups) + len(d.Credentials)
}

// Importer parses observation documents
type Importer interface {
	Parse(r io.Reader) (*Document, error)
	Format() string
}

// Exporter writes graph snapshots
type Exporter interface {
	Export(snapshot *domain.Snapshot, w io.Writer) error
	Format() string
}

// ErrUnsupportedFormat is returned for a format no codec handles
var ErrUnsupportedFormat = errors.New("unsupported format")

var (
	importers = map[string]Importer{}
	exporters = map[string]Exporter{}
)

func register(c interface{ Format() string }) {
	if i, ok := c.(Importer); ok {
		importers[c.Format()] = i
	}
	if e, ok := c.(Exporter); ok {
		exporters[c.Format()] = e
	}
}

func init() {
	register(NewJSONCodec())
	register(NewYAMLCodec())
	register(NewAnsibleCodec())
}

// ImporterFor returns the importer for format
func ImporterFor(format string) (Importer, error) {
	if i, ok := importers[format]; ok {
		return i, nil
	}
	return nil, fmt.Errorf("%w: cannot import %q (supported: %v)", ErrUnsupportedFormat, format, formats(importers))
}

// ExporterFor returns the exporter for format
func ExporterFor(format string) (Exporter, error) {
	if e, ok := exporters[format]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: cannot export %q (supported: %v)", ErrUnsupportedFormat, format, formats(exporters))
}

func formats[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
