package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// Rule is a reusable constraint predicate registered under a name so that
// raw (YAML) definitions can reference it.
type Rule struct {
	Check   func(v any, args ...any) bool
	Message func(field string, args ...any) string
}

// Built-in rule table. Raw definitions reference these by name; typed
// definitions may attach arbitrary Constraint predicates directly.
var rules = map[string]Rule{
	"min_length": {
		Check: func(v any, args ...any) bool {
			s, ok := v.(string)
			return ok && len(s) >= argInt(args, 0)
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s must be at least %d characters", field, argInt(args, 0))
		},
	},
	"max_length": {
		Check: func(v any, args ...any) bool {
			s, ok := v.(string)
			return ok && len(s) <= argInt(args, 0)
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s must be at most %d characters", field, argInt(args, 0))
		},
	},
	"pattern": {
		Check: func(v any, args ...any) bool {
			s, ok := v.(string)
			if !ok || len(args) == 0 {
				return false
			}
			pat, ok := args[0].(string)
			if !ok {
				return false
			}
			re, err := regexp.Compile(pat)
			return err == nil && re.MatchString(s)
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s has an invalid format", field)
		},
	},
	"min": {
		Check: func(v any, args ...any) bool {
			f, ok := toFloat(v)
			return ok && f >= argFloat(args, 0)
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s must be >= %v", field, argAt(args, 0))
		},
	},
	"max": {
		Check: func(v any, args ...any) bool {
			f, ok := toFloat(v)
			return ok && f <= argFloat(args, 0)
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s must be <= %v", field, argAt(args, 0))
		},
	},
	"one_of": {
		Check: func(v any, args ...any) bool {
			for _, a := range args {
				if v == a {
					return true
				}
			}
			return false
		},
		Message: func(field string, args ...any) string {
			return fmt.Sprintf("%s must be one of %v", field, args)
		},
	},
}

// LookupRule returns a built-in rule by name.
func LookupRule(name string) (Rule, bool) {
	r, ok := rules[name]
	return r, ok
}

func constraintsFromRaw(raw map[string]any, path string) ([]Constraint, error) {
	// Sorted for a deterministic evaluation order; first failure wins.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var cons []Constraint
	for _, name := range names {
		rawArgs := raw[name]
		rule, ok := rules[name]
		if !ok {
			return nil, fmt.Errorf("schema: unknown constraint %q at %q", name, path)
		}
		var args []any
		switch a := rawArgs.(type) {
		case []any:
			args = a
		case nil:
		default:
			args = []any{a}
		}
		c := Constraint{Name: name, Args: args, Check: rule.Check}
		c.Message = rule.Message(path, args...)
		cons = append(cons, c)
	}
	return cons, nil
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argInt(args []any, i int) int {
	switch n := argAt(args, i).(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func argFloat(args []any, i int) float64 {
	f, _ := toFloat(argAt(args, i))
	return f
}

func toFloat(v any) (float64, bool) {
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
