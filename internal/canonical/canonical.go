// Package canonical produces a deterministic JSON encoding used as the signing
// input for tickets. Object keys are sorted recursively, no whitespace is emitted
// and numbers are normalised to a plain decimal string, so the same logical value
// always yields the same bytes no matter which service version produced it.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var ErrTrailingData = errors.New("canonical: trailing data after JSON value")

// Encode returns the canonical encoding of v. v is first projected through
// encoding/json, so struct tags decide field names and omission.
//
// Object keys are ordered by their UTF-8 bytes. That equals JavaScript's UTF-16
// order except when keys mix characters above U+FFFF with ones in
// U+E000-U+FFFF, so signers in other languages should keep keys in the BMP.
func Encode(v any) (string, error) {
	b, err := EncodeBytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeBytes is Encode returning the raw bytes.
func EncodeBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal value: %w", err)
	}
	return EncodeJSON(raw)
}

// EncodeJSON canonicalises an already serialized JSON document.
func EncodeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode value: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		n, err := normalizeNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case string:
		writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value of type %T", v)
	}
	return nil
}

// normalizeNumber drops exponents, trailing fractional zeros and negative zero.
func normalizeNumber(n json.Number) (string, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return "", fmt.Errorf("canonical: invalid number %q: %w", n.String(), err)
	}
	return d.String(), nil
}

const hexDigits = "0123456789abcdef"

// writeString matches ECMAScript JSON.stringify: only quote, backslash and C0
// control characters are escaped.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[r>>4])
			buf.WriteByte(hexDigits[r&0xF])
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
