package mapping

// Index is an in-memory, read-only view of all mappings. Lookups never block.
type Index struct {
	attrs  map[string]AttributeMapping
	values map[ValueKey]ValueMapping
}

// NewIndex builds an Index. Later entries win on duplicate keys.
func NewIndex(attrs []AttributeMapping, values []ValueMapping) *Index {
	ix := &Index{
		attrs:  make(map[string]AttributeMapping, len(attrs)),
		values: make(map[ValueKey]ValueMapping, len(values)),
	}
	for _, a := range attrs {
		ix.attrs[a.OriginAttribute] = a
	}
	for _, v := range values {
		ix.values[v.Key()] = v
	}
	return ix
}

// ResolveAttribute mirrors Resolver.ResolveAttribute against the snapshot.
func (ix *Index) ResolveAttribute(name string) Resolution {
	a, ok := ix.attrs[name]
	if !ok {
		return Resolution{}
	}
	return attributeResolution(a)
}

// ResolveValue mirrors Resolver.ResolveValue. uom must already be normalized
// ("" for none).
func (ix *Index) ResolveValue(attribute, value, uom string) Resolution {
	if _, ok := ix.attrs[attribute]; !ok {
		return Resolution{}
	}
	v, ok := ix.values[ValueKey{Attribute: attribute, Value: value, UOM: uom}]
	if !ok {
		return Resolution{}
	}
	return valueResolution(v)
}

// Len returns the number of attribute and value mappings in the snapshot.
func (ix *Index) Len() (attributes, values int) {
	return len(ix.attrs), len(ix.values)
}
