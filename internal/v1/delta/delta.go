// Package delta produces and applies minimal descriptions of state changes.
//
// A Delta addresses nested values by dotted paths ("round.scores.p1").
// State keys therefore must not contain dots; game state is produced by
// plugins, which own their key space and keep to this contract.
package delta

import (
	"reflect"
	"sort"
	"strings"
)

// Delta describes what changed between two states: new values per changed
// path plus an explicit set of deleted paths.
type Delta struct {
	Changed map[string]any `json:"changed,omitempty"`
	Deleted []string       `json:"deleted,omitempty"`
}

// Empty reports whether applying the delta would change nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Changed) == 0 && len(d.Deleted) == 0)
}

// Diff computes the minimal delta transforming prev into next. Nested maps
// are descended into; slices and atomic values are replaced wholesale unless
// value-equal. The round-trip law holds: Apply(prev, Diff(prev, next))
// equals next.
func Diff(prev, next map[string]any) *Delta {
	d := &Delta{Changed: make(map[string]any)}
	diffInto(d, "", prev, next)
	sort.Strings(d.Deleted)
	return d
}

func diffInto(d *Delta, prefix string, prev, next map[string]any) {
	for key, nextVal := range next {
		path := joinPath(prefix, key)
		prevVal, existed := prev[key]
		if !existed {
			d.Changed[path] = deepCopy(nextVal)
			continue
		}

		prevMap, prevIsMap := prevVal.(map[string]any)
		nextMap, nextIsMap := nextVal.(map[string]any)
		if prevIsMap && nextIsMap {
			diffInto(d, path, prevMap, nextMap)
			continue
		}

		if !reflect.DeepEqual(prevVal, nextVal) {
			d.Changed[path] = deepCopy(nextVal)
		}
	}

	for key := range prev {
		if _, kept := next[key]; !kept {
			d.Deleted = append(d.Deleted, joinPath(prefix, key))
		}
	}
}

// Apply returns a new state: base with the delta's deletions removed and its
// changed paths set. The base is not mutated; callers receive copies.
func Apply(base map[string]any, d *Delta) map[string]any {
	out, _ := deepCopy(base).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}
	if d == nil {
		return out
	}

	for _, path := range d.Deleted {
		deletePath(out, strings.Split(path, "."))
	}
	for path, val := range d.Changed {
		setPath(out, strings.Split(path, "."), deepCopy(val))
	}
	return out
}

// Merge composes two deltas into one: applying the result equals applying
// first and then second.
func Merge(first, second *Delta) *Delta {
	out := &Delta{Changed: make(map[string]any)}
	if first != nil {
		for path, val := range first.Changed {
			out.Changed[path] = val
		}
	}

	deleted := make(map[string]struct{})
	if first != nil {
		for _, path := range first.Deleted {
			deleted[path] = struct{}{}
		}
	}

	if second != nil {
		for _, path := range second.Deleted {
			deleted[path] = struct{}{}
			// A deletion supersedes earlier changes at or below the path.
			for changed := range out.Changed {
				if changed == path || strings.HasPrefix(changed, path+".") {
					delete(out.Changed, changed)
				}
			}
		}
		for path, val := range second.Changed {
			out.Changed[path] = val
			// An exact re-add cancels the deletion. A deleted parent stays
			// deleted: Apply removes it first, then sets the child path.
			delete(deleted, path)
		}
	}

	for path := range deleted {
		out.Deleted = append(out.Deleted, path)
	}
	sort.Strings(out.Deleted)
	return out
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func setPath(m map[string]any, parts []string, val any) {
	for len(parts) > 1 {
		child, ok := m[parts[0]].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[parts[0]] = child
		}
		m = child
		parts = parts[1:]
	}
	m[parts[0]] = val
}

func deletePath(m map[string]any, parts []string) {
	for len(parts) > 1 {
		child, ok := m[parts[0]].(map[string]any)
		if !ok {
			return
		}
		m = child
		parts = parts[1:]
	}
	delete(m, parts[0])
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
