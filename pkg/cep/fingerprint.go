package cep

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical fingerprinting
//
// A fingerprint is the SHA-256 hex digest of the canonical JSON form of a
// request: object keys sorted lexicographically, no HTML escaping, numbers
// preserved via json.Number. Field order in the Go struct is irrelevant, so
// two logically identical requests always produce the same digest. The
// fingerprint doubles as the idempotency key for the store's create-or-get
// primitives and as the seed of externally visible entity IDs.

// Entity ID prefixes.
const (
	PrefixIntent     = "int"
	PrefixOffer      = "off"
	PrefixEnvelope   = "env"
	PrefixSettlement = "stl"
	PrefixReceipt    = "rcp"
)

// idHexLen is how many fingerprint hex characters an entity ID carries.
const idHexLen = 24

// CanonicalJSON returns the canonical (sorted-key, unescaped) JSON form of v.
func CanonicalJSON(v any) ([]byte, error) {
	// Marshal once so struct tags apply, then re-decode generically to take
	// control of key order and number formatting.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode failed: %w", err)
	}

	return marshalCanonical(generic)
}

// Fingerprint returns the SHA-256 hex digest of the canonical JSON form of v.
func Fingerprint(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// EntityID derives the externally visible ID for a fingerprint.
// Format: {prefix}_{first 24 hex chars of fingerprint}.
func EntityID(prefix, fingerprint string) string {
	if len(fingerprint) < idHexLen {
		return fmt.Sprintf("%s_%s", prefix, fingerprint)
	}
	return fmt.Sprintf("%s_%s", prefix, fingerprint[:idHexLen])
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func marshalCanonical(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeJSONString(t)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeJSONString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("canonical marshal: unsupported type %T", v)
	}
}

// encodeJSONString encodes a string without HTML escaping.
func encodeJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	// json.Encoder appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
