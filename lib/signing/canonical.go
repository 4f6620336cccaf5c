// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Top-level fields excluded from the signed bytes.
const (
	fieldSignatures = "signatures"
	fieldUnsigned   = "unsigned"
)

// Canonicalize returns the canonical JSON form of value: object keys
// sorted by codepoint at every level, no insignificant whitespace, no
// HTML escaping, and the top-level "signatures" and "unsigned" fields
// removed. value may be any JSON-marshalable Go value, a []byte of
// JSON, or a json.RawMessage.
func Canonicalize(value any) ([]byte, error) {
	generic, err := toGeneric(value)
	if err != nil {
		return nil, err
	}
	if object, ok := generic.(map[string]any); ok {
		delete(object, fieldSignatures)
		delete(object, fieldUnsigned)
	}
	var buffer bytes.Buffer
	if err := writeCanonical(&buffer, generic); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// toGeneric round-trips value through encoding/json into maps, slices
// and json.Number so struct field order and float formatting do not
// leak into the canonical bytes.
func toGeneric(value any) (any, error) {
	var raw []byte
	switch typed := value.(type) {
	case json.RawMessage:
		raw = typed
	case []byte:
		raw = typed
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding value for canonicalization: %w", err)
		}
		raw = encoded
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decoding value for canonicalization: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("decoding value for canonicalization: trailing data after JSON value")
	}
	return generic, nil
}

func writeCanonical(buffer *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case nil:
		buffer.WriteString("null")
	case bool:
		if typed {
			buffer.WriteString("true")
		} else {
			buffer.WriteString("false")
		}
	case json.Number:
		buffer.WriteString(typed.String())
	case string:
		return writeString(buffer, typed)
	case []any:
		buffer.WriteByte('[')
		for i, element := range typed {
			if i > 0 {
				buffer.WriteByte(',')
			}
			if err := writeCanonical(buffer, element); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		buffer.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buffer.WriteByte(',')
			}
			if err := writeString(buffer, key); err != nil {
				return err
			}
			buffer.WriteByte(':')
			if err := writeCanonical(buffer, typed[key]); err != nil {
				return err
			}
		}
		buffer.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unexpected type %T", value)
	}
	return nil
}

// writeString emits a JSON string literal without HTML escaping.
func writeString(buffer *bytes.Buffer, value string) error {
	var encoded bytes.Buffer
	encoder := json.NewEncoder(&encoded)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encoding string: %w", err)
	}
	// Encode appends a newline.
	buffer.Write(bytes.TrimSuffix(encoded.Bytes(), []byte{'\n'}))
	return nil
}
