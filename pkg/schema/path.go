package schema

import "strings"

// SplitPath splits a dot-notation path into segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ValueAt resolves a dot path against a nested value map.
func ValueAt(values map[string]any, path string) (any, bool) {
	segs := SplitPath(path)
	cur := any(values)
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetValueAt writes a value at a dot path, creating intermediate maps as
// needed. It reports false when an intermediate segment exists but is not a
// map.
func SetValueAt(values map[string]any, path string, v any) bool {
	segs := SplitPath(path)
	cur := values
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		cur = m
	}
	cur[segs[len(segs)-1]] = v
	return true
}

// HasPrefix reports whether path is equal to, or a descendant of, prefix.
func HasPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// TrimPrefix strips a parent prefix from a descendant path.
func TrimPrefix(path, prefix string) string {
	if path == prefix {
		return ""
	}
	return strings.TrimPrefix(path, prefix+".")
}
