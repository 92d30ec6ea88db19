// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of Mirror entities. The same
// logical value, serialized twice on any platform, yields byte-identical
// output.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
)

// ErrNonCanonical is returned when a value cannot be represented in
// canonical JSON (NaN, Infinity, or non-UTF-8 map keys).
var ErrNonCanonical = errors.New("canonicalize: value has no canonical JSON form")

// JCS returns the RFC 8785 canonical JSON of v: keys sorted by UTF-8 bytes,
// no whitespace, no HTML escaping, shortest-form numbers.
func JCS(v any) ([]byte, error) {
	if err := validate(reflect.ValueOf(v)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform failed: %w", err)
	}
	return out, nil
}

// JCSString returns the canonical form as a string.
func JCSString(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// validate walks v rejecting values JSON cannot canonically express.
// NaN/Infinity and non-UTF-8 map keys get the distinct ErrNonCanonical kind
// instead of encoding/json's generic failure.
func validate(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: NaN or Infinity", ErrNonCanonical)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if key.Kind() == reflect.String && !utf8.ValidString(key.String()) {
				return fmt.Errorf("%w: non-UTF-8 map key", ErrNonCanonical)
			}
			if err := validate(v.MapIndex(key)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := validate(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := validate(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			return validate(v.Elem())
		}
	}
	return nil
}
