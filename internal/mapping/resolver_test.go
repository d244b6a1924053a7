package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pimbridge/internal/errs"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *captureLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func newTestResolver() (*Resolver, *captureLogger) {
	lg := &captureLogger{}
	r := NewResolver(NewMemStore(), lg)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r, lg
}

func mustSaveAttr(t *testing.T, r *Resolver, m AttributeMapping) AttributeMapping {
	t.Helper()
	saved, err := r.SaveAttributeMapping(context.Background(), m)
	if err != nil {
		t.Fatalf("SaveAttributeMapping(%q): %v", m.OriginAttribute, err)
	}
	return saved
}

func TestSaveAttributeMapping_ModesAreExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	saved := mustSaveAttr(t, r, AttributeMapping{
		OriginAttribute: "Farbe",
		IsNew:           true,
		ExistingCode:    "color",
		ExistingLabel:   "Color",
		NewCode:         "farbe",
		NewLabel:        "Farbe",
		NewType:         "pim_catalog_simpleselect",
	})
	if saved.ExistingCode != "" || saved.ExistingLabel != "" {
		t.Fatalf("new mode kept existing fields: %+v", saved)
	}
	if saved.Code() != "farbe" {
		t.Fatalf("Code()=%q, want farbe", saved.Code())
	}

	// Switch to existing: new fields must be cleared, same row updated.
	again := mustSaveAttr(t, r, AttributeMapping{
		OriginAttribute: "Farbe",
		ExistingCode:    "color",
		ExistingLabel:   "Color",
		NewCode:         "stale",
		NewType:         "stale",
	})
	if again.ID != saved.ID {
		t.Fatalf("upsert created a new row: id %d vs %d", again.ID, saved.ID)
	}
	if again.NewCode != "" || again.NewLabel != "" || again.NewType != "" {
		t.Fatalf("existing mode kept new fields: %+v", again)
	}

	stored, err := r.Store.GetAttributeMapping(ctx, "Farbe")
	if err != nil {
		t.Fatalf("GetAttributeMapping: %v", err)
	}
	if stored.IsNew || stored.ExistingCode != "color" || stored.NewCode != "" {
		t.Fatalf("stored=%+v, want existing color only", stored)
	}
}

func TestSaveAttributeMapping_Validation(t *testing.T) {
	t.Parallel()
	r, _ := newTestResolver()

	tests := []struct {
		name string
		in   AttributeMapping
	}{
		{name: "missing_origin", in: AttributeMapping{ExistingCode: "color"}},
		{name: "existing_without_code", in: AttributeMapping{OriginAttribute: "a", NewCode: "x", NewType: "t"}},
		{name: "new_without_code", in: AttributeMapping{OriginAttribute: "a", IsNew: true, ExistingCode: "x", NewType: "t"}},
		{name: "new_without_type", in: AttributeMapping{OriginAttribute: "a", IsNew: true, NewCode: "x"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.SaveAttributeMapping(context.Background(), tc.in)
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("err=%v, want ErrValidation", err)
			}
		})
	}
}

func TestResolveAttribute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color", ExistingLabel: "Color"})
	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "Gewicht", IsNew: true, NewCode: "weight", NewLabel: "Weight", NewType: "pim_catalog_metric"})

	got, err := r.ResolveAttribute(ctx, "color")
	if err != nil {
		t.Fatalf("ResolveAttribute: %v", err)
	}
	if got.Kind != Existing || got.Code != "color" || got.Label != "Color" {
		t.Fatalf("color=%+v", got)
	}

	got, _ = r.ResolveAttribute(ctx, "Gewicht")
	if got.Kind != New || got.Code != "weight" || got.Type != "pim_catalog_metric" {
		t.Fatalf("Gewicht=%+v", got)
	}

	got, _ = r.ResolveAttribute(ctx, "unknown")
	if got.Mapped() {
		t.Fatalf("unknown=%+v, want Unmapped", got)
	}
}

func TestSaveValueMapping_RequiresAttributeMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	_, err := r.SaveValueMapping(ctx, ValueMappingInput{
		OriginAttribute: "size",
		OriginValue:     "XL",
		ExistingCode:    "xl",
	})
	if !errors.Is(err, errs.ErrPreconditionFailed) {
		t.Fatalf("err=%v, want ErrPreconditionFailed", err)
	}

	res, err := r.ResolveValue(ctx, "size", "XL", nil)
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if res.Mapped() {
		t.Fatalf("ResolveValue without attribute mapping=%+v, want Unmapped", res)
	}
}

func TestResolveValue_NilAndEmptyUOMAreEquivalent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})

	first, err := r.SaveValueMapping(ctx, ValueMappingInput{
		OriginAttribute: "color",
		OriginValue:     "Rot",
		OriginUOM:       nil,
		ExistingCode:    "red",
	})
	if err != nil {
		t.Fatalf("SaveValueMapping: %v", err)
	}

	// Saving with "" must update the same row, not add a second one.
	second, err := r.SaveValueMapping(ctx, ValueMappingInput{
		OriginAttribute: "color",
		OriginValue:     "Rot",
		OriginUOM:       strPtr(""),
		ExistingCode:    "dark_red",
	})
	if err != nil {
		t.Fatalf("SaveValueMapping: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("uom nil and empty produced different rows: %d vs %d", first.ID, second.ID)
	}

	a, _ := r.ResolveValue(ctx, "color", "Rot", nil)
	b, _ := r.ResolveValue(ctx, "color", "Rot", strPtr(""))
	if a != b {
		t.Fatalf("resolve nil uom=%+v, empty uom=%+v", a, b)
	}
	if a.Code != "dark_red" {
		t.Fatalf("code=%q, want dark_red", a.Code)
	}

	// A real unit is a different key.
	if res, _ := r.ResolveValue(ctx, "color", "Rot", strPtr("kg")); res.Mapped() {
		t.Fatalf("uom=kg resolved to %+v, want Unmapped", res)
	}
}

func TestSaveValueMapping_IsNewInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       ValueMappingInput
		wantNew  bool
		wantCode string
		wantWarn bool
	}{
		{
			name:     "explicit_new_wins",
			in:       ValueMappingInput{IsNew: boolPtr(true), ExistingCode: "red", NewCode: "rot"},
			wantNew:  true,
			wantCode: "rot",
		},
		{
			name:     "explicit_existing_wins",
			in:       ValueMappingInput{IsNew: boolPtr(false), ExistingCode: "red", NewCode: "rot"},
			wantNew:  false,
			wantCode: "red",
		},
		{
			name:     "only_new_code",
			in:       ValueMappingInput{NewCode: "rot", NewLabel: "Rot"},
			wantNew:  true,
			wantCode: "rot",
		},
		{
			name:     "only_existing_code",
			in:       ValueMappingInput{ExistingCode: "red"},
			wantNew:  false,
			wantCode: "red",
		},
		{
			name:     "both_codes_default_existing",
			in:       ValueMappingInput{ExistingCode: "red", NewCode: "rot"},
			wantNew:  false,
			wantCode: "red",
			wantWarn: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			r, lg := newTestResolver()
			mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})

			in := tc.in
			in.OriginAttribute = "color"
			in.OriginValue = "Rot"
			got, err := r.SaveValueMapping(ctx, in)
			if err != nil {
				t.Fatalf("SaveValueMapping: %v", err)
			}
			if got.IsNew != tc.wantNew {
				t.Fatalf("IsNew=%v, want %v", got.IsNew, tc.wantNew)
			}
			if got.Code() != tc.wantCode {
				t.Fatalf("Code()=%q, want %q", got.Code(), tc.wantCode)
			}
			if got.IsNew && (got.ExistingCode != "" || got.ExistingLabel != "") {
				t.Fatalf("new value kept existing fields: %+v", got)
			}
			if !got.IsNew && (got.NewCode != "" || got.NewLabel != "") {
				t.Fatalf("existing value kept new fields: %+v", got)
			}
			warned := strings.Contains(lg.joined(), "ambiguous is_new")
			if warned != tc.wantWarn {
				t.Fatalf("warning logged=%v, want %v (log=%q)", warned, tc.wantWarn, lg.joined())
			}
		})
	}
}

func TestSaveValueMapping_NeitherCodeIsValidationError(t *testing.T) {
	t.Parallel()
	r, lg := newTestResolver()
	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})

	_, err := r.SaveValueMapping(context.Background(), ValueMappingInput{OriginAttribute: "color", OriginValue: "Rot"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	if !strings.Contains(lg.joined(), "defaulting to existing") {
		t.Fatalf("expected ambiguity warning, log=%q", lg.joined())
	}
}

func TestDelete_NotFoundAndIdempotentRemoval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	if err := r.DeleteAttributeMapping(ctx, 42); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("DeleteAttributeMapping(42)=%v, want ErrNotFound", err)
	}
	if err := r.DeleteValueMapping(ctx, 42); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("DeleteValueMapping(42)=%v, want ErrNotFound", err)
	}

	a := mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})
	v, err := r.SaveValueMapping(ctx, ValueMappingInput{OriginAttribute: "color", OriginValue: "Rot", ExistingCode: "red"})
	if err != nil {
		t.Fatalf("SaveValueMapping: %v", err)
	}

	if err := r.DeleteValueMapping(ctx, v.ID); err != nil {
		t.Fatalf("DeleteValueMapping: %v", err)
	}
	if err := r.DeleteValueMapping(ctx, v.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second delete=%v, want ErrNotFound", err)
	}

	if err := r.DeleteAttributeMapping(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAttributeMapping: %v", err)
	}
	if res, _ := r.ResolveAttribute(ctx, "color"); res.Mapped() {
		t.Fatalf("deleted attribute still resolves: %+v", res)
	}
}

func TestSnapshot_MatchesResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})
	mustSaveAttr(t, r, AttributeMapping{OriginAttribute: "weight", IsNew: true, NewCode: "weight", NewType: "pim_catalog_metric"})
	if _, err := r.SaveValueMapping(ctx, ValueMappingInput{OriginAttribute: "color", OriginValue: "Rot", ExistingCode: "red"}); err != nil {
		t.Fatalf("SaveValueMapping: %v", err)
	}
	if _, err := r.SaveValueMapping(ctx, ValueMappingInput{OriginAttribute: "weight", OriginValue: "5", OriginUOM: strPtr("kg"), NewCode: "5_kg"}); err != nil {
		t.Fatalf("SaveValueMapping: %v", err)
	}

	ix, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if a, v := ix.Len(); a != 2 || v != 2 {
		t.Fatalf("Len()=(%d,%d), want (2,2)", a, v)
	}

	cases := []struct {
		attr, value string
		uom         *string
	}{
		{"color", "Rot", nil},
		{"color", "Rot", strPtr("")},
		{"color", "Blau", nil},
		{"weight", "5", strPtr("kg")},
		{"weight", "5", nil},
		{"size", "XL", nil},
	}
	for _, c := range cases {
		want, err := r.ResolveValue(ctx, c.attr, c.value, c.uom)
		if err != nil {
			t.Fatalf("ResolveValue: %v", err)
		}
		got := ix.ResolveValue(c.attr, c.value, NormalizeUOM(c.uom))
		if got != want {
			t.Fatalf("index %s/%s=%+v, resolver=%+v", c.attr, c.value, got, want)
		}
	}
}

func TestList_SearchAndPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newTestResolver()

	for _, name := range []string{"color", "colour_code", "size", "material", "Color Family"} {
		mustSaveAttr(t, r, AttributeMapping{OriginAttribute: name, ExistingCode: strings.ReplaceAll(strings.ToLower(name), " ", "_")})
	}

	page, err := r.ListAttributeMappings(ctx, Query{Search: "COLO", PerPage: 2})
	if err != nil {
		t.Fatalf("ListAttributeMappings: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("Total=%d, want 3", page.Total)
	}
	if len(page.Items) != 2 || page.Items[0].OriginAttribute != "Color Family" || page.Items[1].OriginAttribute != "color" {
		t.Fatalf("page1=%+v", page.Items)
	}

	page, _ = r.ListAttributeMappings(ctx, Query{Search: "colo", Page: 2, PerPage: 2})
	if len(page.Items) != 1 || page.Items[0].OriginAttribute != "colour_code" {
		t.Fatalf("page2=%+v", page.Items)
	}

	page, _ = r.ListAttributeMappings(ctx, Query{Page: 9})
	if len(page.Items) != 0 || page.Total != 5 {
		t.Fatalf("out of range page=%+v", page)
	}
}

func TestQueryNormalize(t *testing.T) {
	t.Parallel()

	q := Query{Page: -1, PerPage: 10_000, Search: "  red "}.Normalize()
	if q.Page != 1 || q.PerPage != MaxPerPage || q.Search != "red" {
		t.Fatalf("Normalize=%+v", q)
	}
	if got := (Query{Page: 3, PerPage: 20}).Offset(); got != 40 {
		t.Fatalf("Offset=%d, want 40", got)
	}
	if got := (Query{}).Limit(); got != DefaultPerPage {
		t.Fatalf("Limit=%d, want %d", got, DefaultPerPage)
	}
}
