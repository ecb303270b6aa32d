package settings

import (
	"os"
	"strconv"
	"strings"
)

// envOverrides scans the process environment for variables beginning
// with prefix, strips the prefix, lowercases the remainder, and splits
// on underscores to build nested keys where defaults itself declares
// nesting — a flat schema key keeps its underscores rather than being
// split. Type coercion is guided by the type already present in
// defaults at the matching key: booleans accept
// {true,false,1,0,yes,no}, numbers parse as int or float, lists accept
// comma-separated values, anything else is left as a string.
//
// A per-module, runtime-determined prefix makes this a poor fit for a
// static-struct decoder like envdecode (used for the kernel's own
// ambient config in pkg/config): the set of keys isn't known until a
// module registers its schema, so the walk below is hand-rolled
// instead.
func envOverrides(prefix string, defaults map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if prefix == "" {
		return out
	}
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name, raw := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.ToLower(strings.TrimPrefix(name, prefix))
		if rest == "" {
			continue
		}
		parts := strings.Split(rest, "_")
		setNested(out, defaults, parts, raw)
	}
	return out
}

// setNested descends into dst/defaults one level at a time, greedily
// matching the longest underscore-joined prefix of parts against a key
// already present in defaults at the current level before ever
// treating an underscore as a nesting boundary. This is what keeps a
// flat schema key like "timeout_seconds" intact instead of splitting
// it into env["timeout"]["seconds"]: nesting only happens where the
// schema's own defaults declare a nested map.
func setNested(dst map[string]interface{}, defaults map[string]interface{}, parts []string, raw string) {
	for l := len(parts); l >= 1; l-- {
		key := strings.Join(parts[:l], "_")
		val, ok := defaultValueAt(defaults, key)
		if !ok {
			continue
		}
		if l == len(parts) {
			dst[key] = coerce(raw, val)
			return
		}
		nestedDefaults, isMap := val.(map[string]interface{})
		if !isMap {
			continue
		}
		child, _ := dst[key].(map[string]interface{})
		if child == nil {
			child = make(map[string]interface{})
			dst[key] = child
		}
		setNested(child, nestedDefaults, parts[l:], raw)
		return
	}
	// No prefix of parts matches a declared schema key: fall back to
	// the full joined remainder as a single flat key, coerced as a
	// plain string since there is no default to guide coercion.
	dst[strings.Join(parts, "_")] = coerce(raw, nil)
}

func defaultValueAt(defaults map[string]interface{}, key string) (interface{}, bool) {
	if defaults == nil {
		return nil, false
	}
	v, ok := defaults[key]
	return v, ok
}

// coerce converts raw into the same dynamic type as sample, when
// sample's type is recognized; otherwise raw is returned as a string.
func coerce(raw string, sample interface{}) interface{} {
	switch sample.(type) {
	case bool:
		return coerceBool(raw)
	case int, int64:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return int(i)
		}
	case float32, float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case []string:
		if raw == "" {
			return []string{}
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return raw
}

func coerceBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return false
}
