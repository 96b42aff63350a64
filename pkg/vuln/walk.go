package vuln

import (
	"fmt"
	"sort"
)

// visitor is called once for every key/value pair encountered while
// walking a JSON structural sample. path is the dotted/bracketed field
// path ("body.a.__proto__", "body.items[2]"); key is the object key that
// produced this node ("" for array elements).
type visitor func(path, key string, value any)

// walk performs a deterministic, depth-first traversal of v. Object keys
// are visited in sorted order so that scanner output never depends on Go's
// randomized map iteration — this is required for the pipeline's
// byte-identical-output invariant (spec §3).
func walk(v any, path string, fn visitor) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			fn(child, k, t[k])
			walk(t[k], child, fn)
		}
	case []any:
		for i, elem := range t {
			child := fmt.Sprintf("%s[%d]", path, i)
			fn(child, "", elem)
			walk(elem, child, fn)
		}
	}
}

// sortedPaths returns the keys of a path-keyed set in sorted order; since
// each scanner records one entry per field path, this implements the
// "aggregated per (type, field-path)" rule (spec §4.2).
func sortedPaths(m map[string]bool) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
