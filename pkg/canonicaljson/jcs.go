// Package canonicaljson provides RFC 8785 (JSON Canonicalization Scheme)
// style serialization so hosts can verify the purity invariant (spec §3:
// "repeated evaluations yield byte-identical rule-hit sequences") by
// hashing two Decisions and comparing.
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON representation of v: map keys sorted
// lexicographically by UTF-8 bytes, HTML escaping disabled, numbers
// preserved exactly as the standard decoder read them.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v, prefixed
// "sha256:".
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// writeCanonical appends the canonical encoding of v to buf. Unlike a
// naive per-node marshal, it threads a single buffer through the whole
// walk so nested objects and arrays never allocate an intermediate
// []byte for their children.
func writeCanonical(buf *bytes.Buffer, v any) error {
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
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case string:
		return writeCanonicalString(buf, val)
	case []any:
		return writeCanonicalArray(buf, val)
	case map[string]any:
		return writeCanonicalObject(buf, val)
	default:
		// Anything else (shouldn't occur after a json.Decode round-trip)
		// falls back to the standard encoder.
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

func writeCanonicalArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString appends s as a JSON string literal with HTML
// escaping disabled, trimming the trailing newline json.Encoder always
// emits.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	before := buf.Len()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		buf.Truncate(before)
		return err
	}
	buf.Truncate(buf.Len() - 1) // drop the trailing '\n'
	return nil
}
