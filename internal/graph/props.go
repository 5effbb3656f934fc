// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package graph

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"

	"github.com/samber/oops"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Props holds node properties. Values are strings, int64s or bools; other
// integer kinds are widened to int64 by Normalize.
type Props map[string]any

// Normalize validates keys and value types and returns a copy with every
// integer widened to int64.
func Normalize(p Props) (Props, error) {
	out := make(Props, len(p))
	for k, v := range p {
		if !keyPattern.MatchString(k) {
			return nil, oops.Code("GRAPH_INVALID_PROPERTY").With("key", k).Errorf("invalid property key")
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, oops.Code("GRAPH_INVALID_PROPERTY").With("key", k).Wrap(err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case string, bool, int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, oops.Errorf("integer %d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, oops.Errorf("integer %d overflows int64", v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, oops.Wrapf(err, "non-integer number %s", v)
		}
		return n, nil
	default:
		return nil, oops.Errorf("unsupported property type %T", v)
	}
}

// Clone returns a shallow copy of p.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with the entries of other applied on top.
func (p Props) Merge(other Props) Props {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every entry of match is present in p with an
// equal value. Both maps are expected to be normalized.
func (p Props) Contains(match Props) bool {
	for k, want := range match {
		got, ok := p[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// String returns the string stored under key, or "".
func (p Props) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int64 returns the integer stored under key, or 0.
func (p Props) Int64(key string) int64 {
	n, _ := p[key].(int64)
	return n
}

// EncodeProps marshals props as a JSON object.
func EncodeProps(p Props) ([]byte, error) {
	if p == nil {
		p = Props{}
	}
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, oops.Code("GRAPH_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

// DecodeProps unmarshals a JSON object produced by EncodeProps.
func DecodeProps(data []byte) (Props, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, oops.Code("GRAPH_DECODE_FAILED").Wrap(err)
	}
	return Normalize(raw)
}
