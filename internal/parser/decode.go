package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// normalizeEncoding strips a UTF-8 BOM or transparently re-decodes a UTF-16
// (LE or BE) buffer to UTF-8. Buffers with neither BOM pass through
// unchanged.
func normalizeEncoding(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		return raw[len(utf8BOM):], nil
	case bytes.HasPrefix(raw, utf16LEBOM):
		return decodeUTF16(raw, unicode.LittleEndian)
	case bytes.HasPrefix(raw, utf16BEBOM):
		return decodeUTF16(raw, unicode.BigEndian)
	default:
		return raw, nil
	}
}

func decodeUTF16(raw []byte, endian unicode.Endianness) ([]byte, error) {
	dec := unicode.UTF16(endian, unicode.ExpectBOM).NewDecoder()
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return nil, fmt.Errorf("utf-16 decode: %w", err)
	}
	return out, nil
}

// tolerantUnmarshal parses raw as JSON into v. Some host versions append a
// single trailing non-JSON sentinel after an otherwise well-formed document;
// on a syntax error, it retries on progressively shorter prefixes ending at
// each `}` or `]` found by scanning backward, stopping at the first prefix
// that parses. If no such prefix parses either (a genuine mid-write
// truncation, e.g. a message array cut off before its closing `]`), it falls
// back to walking the top-level array element by element and keeping
// whatever elements parsed before the cut, so a truncated file still yields
// its parseable leading messages instead of zero.
func tolerantUnmarshal(raw []byte, v any) error {
	firstErr := json.Unmarshal(raw, v)
	if firstErr == nil {
		return nil
	}

	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != '}' && raw[i] != ']' {
			continue
		}
		candidate := raw[:i+1]
		if err := json.Unmarshal(candidate, v); err == nil {
			return nil
		}
	}

	if rebuilt, ok := recoverTruncatedArray(raw); ok {
		if err := json.Unmarshal(rebuilt, v); err == nil {
			return nil
		}
	}

	return firstErr
}

// recoverTruncatedArray decodes raw as a top-level JSON array one element at
// a time, keeping every element that parsed before the stream broke off, and
// re-serializes the surviving elements as a complete array. Returns ok=false
// if raw isn't array-shaped or not even one element parsed.
func recoverTruncatedArray(raw []byte) ([]byte, bool) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := dec.Token(); err != nil { // consume the opening '['
		return nil, false
	}

	var elems []json.RawMessage
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			break
		}
		elems = append(elems, elem)
	}
	if len(elems) == 0 {
		return nil, false
	}

	rebuilt, err := json.Marshal(elems)
	if err != nil {
		return nil, false
	}
	return rebuilt, true
}

// decodeJSONDocument normalizes encoding then tolerantly unmarshals raw into v.
func decodeJSONDocument(raw []byte, v any) error {
	normalized, err := normalizeEncoding(raw)
	if err != nil {
		return err
	}
	return tolerantUnmarshal(normalized, v)
}
