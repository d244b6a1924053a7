package mapping

import "context"

// Store persists mappings. It is the Mapping Store collaborator: implementations
// store what they are given and do not enforce target-mode exclusivity or the
// value->attribute precondition; Resolver does.
//
// Errors:
//   - Get* and Delete* return an error wrapping errs.ErrNotFound for unknown keys/ids.
type Store interface {
	GetAttributeMapping(ctx context.Context, originAttribute string) (AttributeMapping, error)
	// UpsertAttributeMapping inserts or replaces the mapping keyed by
	// OriginAttribute and returns the stored row (with its id).
	UpsertAttributeMapping(ctx context.Context, m AttributeMapping) (AttributeMapping, error)
	DeleteAttributeMapping(ctx context.Context, id int64) error
	ListAttributeMappings(ctx context.Context, q Query) (AttributePage, error)

	GetValueMapping(ctx context.Context, key ValueKey) (ValueMapping, error)
	// UpsertValueMapping inserts or replaces the mapping keyed by m.Key().
	UpsertValueMapping(ctx context.Context, m ValueMapping) (ValueMapping, error)
	DeleteValueMapping(ctx context.Context, id int64) error
	ListValueMappings(ctx context.Context, q Query) (ValuePage, error)

	// AllMappings returns every stored mapping. Used to build an Index.
	AllMappings(ctx context.Context) ([]AttributeMapping, []ValueMapping, error)
}
