// Package canonjson produces RFC 8785-style canonical JSON: a
// deterministic UTF-8 byte encoding of JSON values used everywhere the
// engine needs bit-identical bytes for hashing, HMAC signing, JSONL
// segment lines, and dedupe-key recipes.
//
// Marshal accepts the same value shapes encoding/json would accept from
// an Unmarshal into any (nil, bool, float64/json.Number, string,
// []any, map[string]any) plus Go maps/slices/structs convertible to
// those via encoding/json. It never re-orders based on struct field
// declaration order; object keys are always sorted by UTF-16 code-unit
// order per RFC 8785 §3.2.3.
package canonjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Error codes per spec.md §4.1.
var (
	// ErrNonFiniteNumber is returned when a NaN or +/-Inf float is encountered.
	ErrNonFiniteNumber = errors.New("CANONICAL_JSON_NON_FINITE_NUMBER")
	// ErrUnsupportedValue is returned for values with no JSON representation
	// (functions, channels, undefined array holes, unsupported types).
	ErrUnsupportedValue = errors.New("CANONICAL_JSON_UNSUPPORTED_VALUE")
)

// Marshal encodes v as canonical JSON bytes.
//
// v is first normalized through encoding/json (Marshal then Unmarshal
// into `any`) so that Go structs, maps and slices are accepted the same
// way they would be by any JSON-producing caller; the canonical encoder
// then walks the resulting generic value tree so object key order and
// number formatting are fully under this package's control.
func Marshal(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toGeneric normalizes v into the any/map[string]any/[]any/string/
// float64/bool/nil shape that encoding/json itself would produce,
// so struct field tags and custom MarshalJSON methods are honored
// before canonicalization.
func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64, map[string]any, []any:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return generic, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case float64:
		return encodeFloat(buf, val)
	case []any:
		return encodeArray(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	default:
		generic, err := toGeneric(v)
		if err != nil {
			return err
		}
		return encodeValue(buf, generic)
	}
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNonFiniteNumber
	}
	return encodeNumber(buf, json.Number(strconv.FormatFloat(f, 'g', -1, 64)))
}

// encodeNumber re-serializes a JSON number in its shortest round-trip
// decimal form. Integral values below 1e21 in magnitude are emitted
// without a decimal point or exponent; other values use Go's shortest
// round-trip float formatting.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNonFiniteNumber
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// encodeString writes s as a canonical JSON string literal: NFC
// normalized, HTML characters unescaped, only control characters,
// backslash and quote escaped, per RFC 8785.
func encodeString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var enc bytes.Buffer
	jsonEnc := json.NewEncoder(&enc)
	jsonEnc.SetEscapeHTML(false)
	if err := jsonEnc.Encode(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	out := enc.Bytes()
	// json.Encoder always appends a trailing newline.
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	out = unescapeLineSeparators(out)
	buf.Write(out)
	return nil
}

// unescapeLineSeparators reverses Go's JS-safety escaping of U+2028 and
// U+2029, which RFC 8785 requires to appear literally in the output.
// An escape sequence is only unescaped when an even number of
// backslashes precede it (i.e. it is a real escape, not literal text
// produced by an escaped backslash followed by "u2028"/"u2029").

func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	var out []byte
	i := 0
	for i < len(data) {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := i - 1; j >= 0 && data[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if out == nil {
					out = make([]byte, 0, len(data))
					out = append(out, data[:i]...)
				}
				if data[i+5] == '8' {
					out = append(out, " "...)
				} else {
					out = append(out, " "...)
				}
				i += 6
				continue
			}
		}
		if out != nil {
			out = append(out, data[i])
		}
		i++
	}
	if out == nil {
		return data
	}
	return out
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// encodeObject writes obj with keys sorted by UTF-16 code-unit order
// (RFC 8785 §3.2.3), which for the BMP-only keys this system uses
// coincides with a direct UTF-16 code unit comparison of the decoded
// rune sequence.
func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return less16(keys[i], keys[j])
	})

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// less16 compares two strings by UTF-16 code-unit order, matching RFC
// 8785's key-ordering rule. Characters outside the Basic Multilingual
// Plane are compared via their surrogate-pair code units.
func less16(a, b string) bool {
	ua := utf16Units(a)
	ub := utf16Units(b)
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r > 0xFFFF {
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}

// SplitJSONLLines splits a JSONL byte blob into its individual lines,
// dropping a single trailing empty line (the newline every encoded
// line ends with) but treating any other empty line as malformed.
func SplitJSONLLines(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	trimmed := data
	if trimmed[len(trimmed)-1] == '\n' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		return nil, nil
	}
	parts := bytes.Split(trimmed, []byte{'\n'})
	for _, p := range parts {
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: blank line in JSONL blob", ErrUnsupportedValue)
		}
	}
	return parts, nil
}

// UnmarshalInto decodes canonical JSON bytes into v. Canonical JSON is
// always valid JSON, so this is a thin wrapper over encoding/json
// provided for symmetry with Marshal at call sites that round-trip a
// canonicalized payload (e.g. verifying a signed token body).
func UnmarshalInto(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Equal reports whether two canonical byte encodings of a and b are
// byte-identical, a convenience for property tests (spec.md §8 item 5).
func Equal(a, b any) (bool, error) {
	ab, err := Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
