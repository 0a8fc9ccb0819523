package source

import (
	"fmt"
	"sort"
)

// changeTracker implements the value/dirty bookkeeping shared by adapter
// instances. The zero value is not usable; seed with newChangeTracker.
type changeTracker struct {
	values   Record
	modified map[string]struct{}
}

func newChangeTracker(data Record) changeTracker {
	return changeTracker{values: copyRecord(data), modified: make(map[string]struct{})}
}

func (c *changeTracker) Get(name string) any { return c.values[name] }

func (c *changeTracker) Set(name string, v any) {
	c.values[name] = v
	c.modified[name] = struct{}{}
}

// setClean writes a value without dirtying the instance (generated ids,
// post-flush refreshes).
func (c *changeTracker) setClean(name string, v any) { c.values[name] = v }

func (c *changeTracker) Values() Record { return copyRecord(c.values) }

func (c *changeTracker) IsModified() bool { return len(c.modified) > 0 }

func (c *changeTracker) ModifiedFields() []string {
	out := make([]string, 0, len(c.modified))
	for name := range c.modified {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *changeTracker) clearModified() { c.modified = make(map[string]struct{}) }

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// matchQuery reports whether a record satisfies every query term. A []any
// term matches by membership, anything else by loose equality.
func matchQuery(rec Record, q Query) bool {
	for k, want := range q {
		got, ok := rec[k]
		if !ok {
			return false
		}
		if keys, isSet := want.([]any); isSet {
			found := false
			for _, key := range keys {
				if looseEqual(got, key) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares values with numeric widening, so that a JSON-decoded
// float64 key matches an int stored by a Go caller.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// sortRecords orders records by the options' sort field. Records missing
// the field sort last.
func sortRecords(recs []Record, opts Options) {
	if opts.SortField == "" {
		return
	}
	desc := opts.SortOrder == SortDesc
	sort.SliceStable(recs, func(i, j int) bool {
		a, aok := recs[i][opts.SortField]
		b, bok := recs[j][opts.SortField]
		if !aok || !bok {
			return aok && !bok
		}
		less := lessValue(a, b)
		if desc {
			return lessValue(b, a)
		}
		return less
	})
}

func lessValue(a, b any) bool {
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return af < bf
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// applyPage slices a sorted result set by offset and limit.
func applyPage(recs []Record, opts Options) []Record {
	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			return []Record{}
		}
		recs = recs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	return recs
}
