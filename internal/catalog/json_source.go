package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EnvelopeKey is the field of a root JSON object that holds the records.
const EnvelopeKey = "records"

// LoadJSON streams catalog records into dst. The root is either an array of
// records or an object whose "records" field holds that array; other fields
// of the object are skipped without being decoded. Records are decoded one at
// a time.
//
// A record is {"id", "identifier", "values": [{"attribute", "value", "uom"}]}.
// Scalars may be strings, numbers or booleans. Records that do not match that
// shape or carry no id are reported to onErr (with their 1-based position)
// and skipped; malformed JSON stops the load.
//
// It returns the number of attribute values loaded.
func LoadJSON(ctx context.Context, src io.Reader, dst *MemStore, onErr func(pos int, err error)) (int, error) {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: read json root: %w", err)
	}

	l := &jsonLoader{dec: dec, dst: dst, onErr: onErr}
	switch tok {
	case json.Delim('['):
		if err := l.streamArray(ctx); err != nil {
			return l.n, err
		}
		return l.n, expectDelim(dec, ']')
	case json.Delim('{'):
		found, err := l.streamEnvelope(ctx)
		if err != nil {
			return l.n, err
		}
		if !found {
			return l.n, fmt.Errorf("catalog: json object has no %q array", EnvelopeKey)
		}
		return l.n, expectDelim(dec, '}')
	default:
		return 0, fmt.Errorf("catalog: unsupported json root %v (want array or object)", tok)
	}
}

type jsonLoader struct {
	dec   *json.Decoder
	dst   *MemStore
	onErr func(pos int, err error)
	pos   int
	n     int
}

func (l *jsonLoader) report(err error) {
	if l.onErr != nil {
		l.onErr(l.pos, err)
	}
}

// streamArray decodes the elements of the current array ('[' consumed).
func (l *jsonLoader) streamArray(ctx context.Context) error {
	for l.dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.pos++

		var jr jsonRecord
		if err := l.dec.Decode(&jr); err != nil {
			var syn *json.SyntaxError
			if errors.As(err, &syn) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("catalog: decode record %d: %w", l.pos, err)
			}
			// The decoder consumed the whole element; carry on with the next.
			l.report(err)
			continue
		}
		rec, err := jr.record()
		if err != nil {
			l.report(err)
			continue
		}
		l.dst.Put(rec)
		l.n += len(rec.Values)
	}
	return nil
}

// streamEnvelope walks the root object ('{' consumed) and streams its
// records array. Every other field is skipped.
func (l *jsonLoader) streamEnvelope(ctx context.Context) (bool, error) {
	found := false
	for l.dec.More() {
		keyTok, err := l.dec.Token()
		if err != nil {
			return found, fmt.Errorf("catalog: read json key: %w", err)
		}
		key, _ := keyTok.(string)
		if key != EnvelopeKey || found {
			if err := skipNextValue(l.dec); err != nil {
				return found, err
			}
			continue
		}

		valTok, err := l.dec.Token()
		if err != nil {
			return found, fmt.Errorf("catalog: read %q: %w", EnvelopeKey, err)
		}
		if valTok != json.Delim('[') {
			return found, fmt.Errorf("catalog: %q is not an array", EnvelopeKey)
		}
		if err := l.streamArray(ctx); err != nil {
			return found, err
		}
		if err := expectDelim(l.dec, ']'); err != nil {
			return found, err
		}
		found = true
	}
	return found, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("catalog: read json %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("catalog: expected json %q, got %v", want, tok)
	}
	return nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("catalog: skip json value: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("catalog: skip json key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("catalog: unexpected json delimiter %q", d)
	}
}

// jsonText is a JSON scalar read as text. null reads as "".
type jsonText string

func (t *jsonText) UnmarshalJSON(b []byte) error {
	switch {
	case len(b) == 0 || string(b) == "null":
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = jsonText(s)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("want a scalar, got %c...", b[0])
	default:
		*t = jsonText(b)
	}
	return nil
}

func (t jsonText) String() string { return strings.TrimSpace(string(t)) }

type jsonValue struct {
	Attribute jsonText  `json:"attribute"`
	Value     jsonText  `json:"value"`
	UOM       *jsonText `json:"uom"`
}

type jsonRecord struct {
	ID         jsonText    `json:"id"`
	Identifier jsonText    `json:"identifier"`
	Values     []jsonValue `json:"values"`
}

func (jr jsonRecord) record() (Record, error) {
	rec := Record{ID: jr.ID.String(), Identifier: jr.Identifier.String()}
	if rec.ID == "" {
		return Record{}, fmt.Errorf("missing id")
	}
	for _, v := range jr.Values {
		attr := v.Attribute.String()
		if attr == "" {
			continue
		}
		av := AttributeValue{Attribute: attr, Value: v.Value.String()}
		if v.UOM != nil {
			if u := v.UOM.String(); u != "" {
				av.UOM = &u
			}
		}
		rec.Values = append(rec.Values, av)
	}
	return rec, nil
}
