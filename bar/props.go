// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bar

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/creachadair/barwire/tokens"
	"github.com/creachadair/mds/value"
)

// Props is a set of item or bar properties. Values may be strings, numbers,
// booleans, or nested Props (or map[string]any) for dotted sub-properties:
//
//	bar.Props{"icon": bar.Props{"color": 0xffffffff}, "drawing": true}
//
// encodes as the tokens "drawing=on" and "icon.color=0xffffffff".
type Props map[string]any

// Tokens returns the encoded key=value tokens of p, sorted by key.
func (p Props) Tokens() []string {
	var out []string
	flattenProps("", map[string]any(p), &out)
	slices.Sort(out)
	return out
}

// push pushes the tokens of p onto buf so that they appear in sorted order on
// the wire, and returns buf.
func (p Props) push(buf *tokens.Buffer) *tokens.Buffer {
	toks := p.Tokens()
	for i := len(toks) - 1; i >= 0; i-- {
		buf.Push(toks[i])
	}
	return buf
}

// flattenProps appends "prefix.key=value" tokens for m to out.
func flattenProps(prefix string, m map[string]any, out *[]string) {
	for key, v := range m {
		full := value.Cond(prefix == "", key, prefix+"."+key)
		switch t := v.(type) {
		case Props:
			flattenProps(full, map[string]any(t), out)
		case map[string]any:
			flattenProps(full, t, out)
		case []any:
			sub := make(map[string]any, len(t))
			for i, e := range t {
				sub[strconv.Itoa(i+1)] = e
			}
			flattenProps(full, sub, out)
		default:
			*out = append(*out, full+"="+propValue(key, v))
		}
	}
}

// isColorKey reports whether key names a property whose numeric values are
// written in hexadecimal.
func isColorKey(key string) bool { return key == "color" || key == "border_color" }

// propValue renders a scalar property value.
func propValue(key string, v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		return value.Cond(t, "on", "off")
	case string:
		return t
	case float64:
		if isColorKey(key) {
			return fmt.Sprintf("0x%x", uint32(int64(t)))
		}
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return propValue(key, float64(t))
	case int:
		return intValue(key, int64(t))
	case int8:
		return intValue(key, int64(t))
	case int16:
		return intValue(key, int64(t))
	case int32:
		return intValue(key, int64(t))
	case int64:
		return intValue(key, t)
	case uint:
		return uintValue(key, uint64(t))
	case uint8:
		return intValue(key, int64(t))
	case uint16:
		return intValue(key, int64(t))
	case uint32:
		return intValue(key, int64(t))
	case uint64:
		return uintValue(key, t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func intValue(key string, v int64) string {
	if isColorKey(key) {
		return fmt.Sprintf("0x%x", uint32(v))
	}
	return strconv.FormatInt(v, 10)
}

func uintValue(key string, v uint64) string {
	if isColorKey(key) {
		return fmt.Sprintf("0x%x", uint32(v))
	}
	return strconv.FormatUint(v, 10)
}
