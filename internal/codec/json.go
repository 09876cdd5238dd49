package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"cartograph/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse reads an observation document, or a bare array of machine
// observations. Unknown fields are rejected so a misspelled relation does
// not silently drop observations.
func (c *JSONCodec) Parse(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	first, err := firstByte(br)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	decoder := json.NewDecoder(br)
	decoder.DisallowUnknownFields()

	var doc Document
	if first == '[' {
		err = decoder.Decode(&doc.Machines)
	} else {
		err = decoder.Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &doc, nil
}

// firstByte peeks past leading whitespace
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// Export writes the snapshot as indented JSON
func (c *JSONCodec) Export(snapshot *domain.Snapshot, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
