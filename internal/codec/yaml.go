package codec

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"cartograph/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Parse reads an observation document. A stream of several YAML documents
// is merged into one.
func (c *YAMLCodec) Parse(r io.Reader) (*Document, error) {
	var merged Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	for {
		var doc Document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		merged.Machines = append(merged.Machines, doc.Machines...)
		merged.Domains = append(merged.Domains, doc.Domains...)
		merged.Services = append(merged.Services, doc.Services...)
		merged.Users = append(merged.Users, doc.Users...)
		merged.Groups = append(merged.Groups, doc.Groups...)
		merged.Credentials = append(merged.Credentials, doc.Credentials...)
	}

	return &merged, nil
}

// Export writes the snapshot as YAML
func (c *YAMLCodec) Export(snapshot *domain.Snapshot, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
