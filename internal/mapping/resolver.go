package mapping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"pimbridge/internal/errs"
)

// Logger is the minimal logging interface used by the resolver.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Resolver answers "what does this origin attribute/value map to" and guards
// every mapping write.
//
// Resolver never performs network I/O of its own; every call goes to Store.
type Resolver struct {
	Store  Store
	Logger Logger

	// now is a seam for deterministic timestamps in tests.
	now func() time.Time
}

// NewResolver returns a Resolver over store. A nil logger discards output.
func NewResolver(store Store, logger Logger) *Resolver {
	return &Resolver{Store: store, Logger: logger, now: time.Now}
}

func (r *Resolver) logf(format string, v ...any) {
	if r.Logger == nil {
		log.New(discardWriter{}, "", 0).Printf(format, v...)
		return
	}
	r.Logger.Printf(format, v...)
}

func (r *Resolver) clock() time.Time {
	if r.now == nil {
		return time.Now().UTC()
	}
	return r.now().UTC()
}

// ResolveAttribute returns the destination target of an origin attribute, or
// an Unmapped resolution when none is stored.
func (r *Resolver) ResolveAttribute(ctx context.Context, name string) (Resolution, error) {
	m, err := r.Store.GetAttributeMapping(ctx, name)
	if errors.Is(err, errs.ErrNotFound) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("mapping: resolve attribute %q: %w", name, err)
	}
	return attributeResolution(m), nil
}

// ResolveValue returns the destination target of one origin value. A nil
// and an empty uom are equivalent. An attribute without an attribute mapping
// is always Unmapped, whatever value mappings exist.
func (r *Resolver) ResolveValue(ctx context.Context, attribute, value string, uom *string) (Resolution, error) {
	attr, err := r.ResolveAttribute(ctx, attribute)
	if err != nil {
		return Resolution{}, err
	}
	if !attr.Mapped() {
		return Resolution{}, nil
	}

	m, err := r.Store.GetValueMapping(ctx, NewValueKey(attribute, value, uom))
	if errors.Is(err, errs.ErrNotFound) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("mapping: resolve value %q/%q: %w", attribute, value, err)
	}
	return valueResolution(m), nil
}

// SaveAttributeMapping upserts m by origin attribute name. The inactive
// mode's fields are cleared before the write.
func (r *Resolver) SaveAttributeMapping(ctx context.Context, m AttributeMapping) (AttributeMapping, error) {
	m.OriginAttribute = strings.TrimSpace(m.OriginAttribute)
	if m.OriginAttribute == "" {
		return AttributeMapping{}, fmt.Errorf("mapping: origin_attribute is required: %w", errs.ErrValidation)
	}

	m = m.exclusive()
	if strings.TrimSpace(m.Code()) == "" {
		return AttributeMapping{}, fmt.Errorf("mapping: %s attribute mapping for %q needs a code: %w",
			m.Mode(), m.OriginAttribute, errs.ErrValidation)
	}
	if m.IsNew && strings.TrimSpace(m.NewType) == "" {
		return AttributeMapping{}, fmt.Errorf("mapping: new attribute %q needs a type: %w",
			m.OriginAttribute, errs.ErrValidation)
	}

	m.UpdatedAt = r.clock()
	saved, err := r.Store.UpsertAttributeMapping(ctx, m)
	if err != nil {
		return AttributeMapping{}, fmt.Errorf("mapping: save attribute %q: %w", m.OriginAttribute, err)
	}
	return saved, nil
}

// SaveValueMapping upserts a value mapping keyed by (attribute, value, uom).
// It fails with errs.ErrPreconditionFailed when the attribute has no
// attribute mapping.
func (r *Resolver) SaveValueMapping(ctx context.Context, in ValueMappingInput) (ValueMapping, error) {
	if strings.TrimSpace(in.OriginAttribute) == "" {
		return ValueMapping{}, fmt.Errorf("mapping: origin_attribute is required: %w", errs.ErrValidation)
	}

	_, err := r.Store.GetAttributeMapping(ctx, in.OriginAttribute)
	if errors.Is(err, errs.ErrNotFound) {
		return ValueMapping{}, fmt.Errorf("mapping: attribute %q has no attribute mapping: %w",
			in.OriginAttribute, errs.ErrPreconditionFailed)
	}
	if err != nil {
		return ValueMapping{}, fmt.Errorf("mapping: check attribute %q: %w", in.OriginAttribute, err)
	}

	m := ValueMapping{
		OriginAttribute: in.OriginAttribute,
		OriginValue:     in.OriginValue,
		OriginUOM:       NormalizeUOM(in.OriginUOM),
		IsNew:           r.inferIsNew(in),
		ExistingCode:    in.ExistingCode,
		ExistingLabel:   in.ExistingLabel,
		NewCode:         in.NewCode,
		NewLabel:        in.NewLabel,
	}
	m = m.exclusive()
	if strings.TrimSpace(m.Code()) == "" {
		return ValueMapping{}, fmt.Errorf("mapping: value mapping %q/%q needs a code: %w",
			m.OriginAttribute, m.OriginValue, errs.ErrValidation)
	}

	m.UpdatedAt = r.clock()
	saved, err := r.Store.UpsertValueMapping(ctx, m)
	if err != nil {
		return ValueMapping{}, fmt.Errorf("mapping: save value %q/%q: %w", m.OriginAttribute, m.OriginValue, err)
	}
	return saved, nil
}

// inferIsNew decides the target mode of a value mapping input.
//
// The ambiguous case (both or neither code set, no explicit flag) defaults
// to existing. It is logged rather than rejected.
func (r *Resolver) inferIsNew(in ValueMappingInput) bool {
	if in.IsNew != nil {
		return *in.IsNew
	}

	hasNew := strings.TrimSpace(in.NewCode) != ""
	hasExisting := strings.TrimSpace(in.ExistingCode) != ""
	switch {
	case hasNew && !hasExisting:
		return true
	case hasExisting && !hasNew:
		return false
	default:
		r.logf("mapping: warning ambiguous is_new attribute=%q value=%q new_code=%q existing_code=%q; defaulting to existing",
			in.OriginAttribute, in.OriginValue, in.NewCode, in.ExistingCode)
		return false
	}
}

// DeleteAttributeMapping removes the mapping with id. Value mappings of the
// attribute are kept; they resolve as Unmapped until the attribute is mapped again.
func (r *Resolver) DeleteAttributeMapping(ctx context.Context, id int64) error {
	if err := r.Store.DeleteAttributeMapping(ctx, id); err != nil {
		return fmt.Errorf("mapping: delete attribute mapping %d: %w", id, err)
	}
	return nil
}

// DeleteValueMapping removes the value mapping with id.
func (r *Resolver) DeleteValueMapping(ctx context.Context, id int64) error {
	if err := r.Store.DeleteValueMapping(ctx, id); err != nil {
		return fmt.Errorf("mapping: delete value mapping %d: %w", id, err)
	}
	return nil
}

// ListAttributeMappings returns one page of attribute mappings.
func (r *Resolver) ListAttributeMappings(ctx context.Context, q Query) (AttributePage, error) {
	return r.Store.ListAttributeMappings(ctx, q.Normalize())
}

// ListValueMappings returns one page of value mappings.
func (r *Resolver) ListValueMappings(ctx context.Context, q Query) (ValuePage, error) {
	return r.Store.ListValueMappings(ctx, q.Normalize())
}

// Snapshot loads every mapping into an immutable Index. Exports resolve
// against one snapshot for their whole run; edits made afterwards are not
// seen by that run.
func (r *Resolver) Snapshot(ctx context.Context) (*Index, error) {
	attrs, values, err := r.Store.AllMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapping: snapshot: %w", err)
	}
	return NewIndex(attrs, values), nil
}
