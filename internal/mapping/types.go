// Package mapping holds the operator-maintained correspondence between the
// origin catalog vocabulary and the destination PIM vocabulary.
//
// Both attribute and value mappings carry exactly one target mode: "existing"
// (point at a destination code that already exists) or "new" (declare a code
// to be created on import). The fields of the inactive mode are always
// cleared before a mapping is stored.
package mapping

import (
	"strings"
	"time"
)

// Mode is the target mode of a mapping.
type Mode string

const (
	ModeExisting Mode = "existing"
	ModeNew      Mode = "new"
)

// AttributeMapping maps one origin attribute (keyed by name) to a destination
// attribute code.
type AttributeMapping struct {
	ID              int64  `json:"id"`
	OriginAttribute string `json:"origin_attribute"`
	IsNew           bool   `json:"is_new"`

	ExistingCode  string `json:"existing_code,omitempty"`
	ExistingLabel string `json:"existing_label,omitempty"`

	NewCode  string `json:"new_code,omitempty"`
	NewLabel string `json:"new_label,omitempty"`
	NewType  string `json:"new_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mode returns the active target mode.
func (m AttributeMapping) Mode() Mode {
	if m.IsNew {
		return ModeNew
	}
	return ModeExisting
}

// Code returns the destination code of the active mode.
func (m AttributeMapping) Code() string {
	if m.IsNew {
		return m.NewCode
	}
	return m.ExistingCode
}

// Label returns the destination label of the active mode.
func (m AttributeMapping) Label() string {
	if m.IsNew {
		return m.NewLabel
	}
	return m.ExistingLabel
}

// exclusive clears the fields of the inactive mode.
func (m AttributeMapping) exclusive() AttributeMapping {
	if m.IsNew {
		m.ExistingCode, m.ExistingLabel = "", ""
	} else {
		m.NewCode, m.NewLabel, m.NewType = "", "", ""
	}
	return m
}

// ValueMapping maps one (attribute, value, unit of measure) triple to a
// destination option code.
type ValueMapping struct {
	ID              int64  `json:"id"`
	OriginAttribute string `json:"origin_attribute"`
	OriginValue     string `json:"origin_value"`
	OriginUOM       string `json:"origin_uom"`
	IsNew           bool   `json:"is_new"`

	ExistingCode  string `json:"existing_code,omitempty"`
	ExistingLabel string `json:"existing_label,omitempty"`

	NewCode  string `json:"new_code,omitempty"`
	NewLabel string `json:"new_label,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the normalized lookup key of the mapping.
func (m ValueMapping) Key() ValueKey {
	return ValueKey{Attribute: m.OriginAttribute, Value: m.OriginValue, UOM: m.OriginUOM}
}

// Code returns the destination code of the active mode.
func (m ValueMapping) Code() string {
	if m.IsNew {
		return m.NewCode
	}
	return m.ExistingCode
}

// Label returns the destination label of the active mode.
func (m ValueMapping) Label() string {
	if m.IsNew {
		return m.NewLabel
	}
	return m.ExistingLabel
}

func (m ValueMapping) exclusive() ValueMapping {
	if m.IsNew {
		m.ExistingCode, m.ExistingLabel = "", ""
	} else {
		m.NewCode, m.NewLabel = "", ""
	}
	return m
}

// ValueMappingInput is what callers submit to save a value mapping.
//
// IsNew is authoritative when set. When nil the mode is inferred from which
// code field is populated; when both or neither are populated the mapping
// defaults to "existing" and the resolver logs a warning.
type ValueMappingInput struct {
	OriginAttribute string  `json:"origin_attribute"`
	OriginValue     string  `json:"origin_value"`
	OriginUOM       *string `json:"origin_uom"`
	IsNew           *bool   `json:"is_new"`

	ExistingCode  string `json:"existing_code"`
	ExistingLabel string `json:"existing_label"`
	NewCode       string `json:"new_code"`
	NewLabel      string `json:"new_label"`
}

// ValueKey identifies a value mapping. UOM is always normalized: a nil and an
// empty unit of measure are the same key.
type ValueKey struct {
	Attribute string
	Value     string
	UOM       string
}

// NewValueKey builds a normalized key.
func NewValueKey(attribute, value string, uom *string) ValueKey {
	return ValueKey{Attribute: attribute, Value: value, UOM: NormalizeUOM(uom)}
}

// NormalizeUOM maps nil to "". Any other value is kept as is.
func NormalizeUOM(uom *string) string {
	if uom == nil {
		return ""
	}
	return *uom
}

// Kind classifies a Resolution.
type Kind int

const (
	Unmapped Kind = iota
	Existing
	New
)

func (k Kind) String() string {
	switch k {
	case Existing:
		return "existing"
	case New:
		return "new"
	default:
		return "unmapped"
	}
}

// Resolution is the destination target of an attribute or a value.
// Type is only set for new attributes.
type Resolution struct {
	Kind  Kind   `json:"kind"`
	Code  string `json:"code,omitempty"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Mapped reports whether the resolution carries a destination code.
func (r Resolution) Mapped() bool { return r.Kind != Unmapped }

func attributeResolution(m AttributeMapping) Resolution {
	if m.IsNew {
		return Resolution{Kind: New, Code: m.NewCode, Label: m.NewLabel, Type: m.NewType}
	}
	return Resolution{Kind: Existing, Code: m.ExistingCode, Label: m.ExistingLabel}
}

func valueResolution(m ValueMapping) Resolution {
	if m.IsNew {
		return Resolution{Kind: New, Code: m.NewCode, Label: m.NewLabel}
	}
	return Resolution{Kind: Existing, Code: m.ExistingCode, Label: m.ExistingLabel}
}

const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// Query selects a page of mappings. Search is a case-insensitive substring
// matched against origin names and destination codes and labels.
// OriginAttribute restricts value mapping listings to one attribute.
type Query struct {
	Search          string `json:"search"`
	OriginAttribute string `json:"origin_attribute"`
	Page            int    `json:"page"`
	PerPage         int    `json:"per_page"`
}

// Normalize applies paging defaults and bounds.
func (q Query) Normalize() Query {
	q.Search = strings.TrimSpace(q.Search)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return q
}

// Offset is the row offset of the (normalized) page.
func (q Query) Offset() int {
	n := q.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Limit is the page size of the (normalized) query.
func (q Query) Limit() int { return q.Normalize().PerPage }

// AttributePage is one page of attribute mappings.
type AttributePage struct {
	Items   []AttributeMapping `json:"items"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

// ValuePage is one page of value mappings.
type ValuePage struct {
	Items   []ValueMapping `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}
