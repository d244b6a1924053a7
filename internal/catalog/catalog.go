// Package catalog is the read side of the origin catalog: records and their
// (attribute, value, unit of measure) rows, plus the cached destination
// vocabulary used to suggest value mappings.
package catalog

import (
	"context"

	"pimbridge/internal/similarity"
)

// AttributeValue is one origin (attribute, value, uom) row of a record.
// UOM is nil when the origin has no unit of measure.
type AttributeValue struct {
	Attribute string  `json:"attribute"`
	Value     string  `json:"value"`
	UOM       *string `json:"uom,omitempty"`
}

// Record is one origin product.
type Record struct {
	// ID is the internal identifier. Always set.
	ID string `json:"id"`
	// Identifier is the preferred external identifier (SKU). May be empty.
	Identifier string           `json:"identifier,omitempty"`
	Values     []AttributeValue `json:"values"`
}

// ExportIdentifier is the identifier written to export artifacts: the
// external identifier, falling back to the internal id.
func (r Record) ExportIdentifier() string {
	if r.Identifier != "" {
		return r.Identifier
	}
	return r.ID
}

// Store is the read-only Catalog Store collaborator.
type Store interface {
	CountRecords(ctx context.Context) (int, error)
	// ListRecordIDs returns internal ids in a stable order.
	ListRecordIDs(ctx context.Context, offset, limit int) ([]string, error)
	// FetchRecords returns the records for ids in request order. Unknown ids
	// are skipped.
	FetchRecords(ctx context.Context, ids []string) ([]Record, error)
}

// Vocabulary lists the destination options known for a destination attribute.
type Vocabulary interface {
	ListOptions(ctx context.Context, attributeCode string) ([]similarity.Option, error)
}
