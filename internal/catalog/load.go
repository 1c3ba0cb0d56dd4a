package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flexinfer/goalflow/pkg/types"
)

// Document is the on-disk catalog format: the world-state schema plus the
// action definitions. Documents are JSON and are schema-validated by
// internal/validator before Parse is called on untrusted input.
type Document struct {
	Fields  []types.FieldSpec `json:"fields"`
	Actions []types.Action    `json:"actions"`
}

// Parse builds a validated catalog from a catalog document.
func Parse(doc *Document) (*Catalog, error) {
	schema, err := types.NewSchema(doc.Fields...)
	if err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	return New(schema, doc.Actions)
}

// Load reads and parses a catalog document from disk. The validate callback
// (typically internal/validator.ValidateCatalog) runs against the raw bytes
// before decoding; pass nil to skip structural validation.
func Load(path string, validate func([]byte) error) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if validate != nil {
		if err := validate(raw); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return Parse(&doc)
}
