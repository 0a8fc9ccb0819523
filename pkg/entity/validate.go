package entity

import (
	"fmt"
	"sort"

	"github.com/orneryd/fusedb/pkg/schema"
)

// Validate recursively walks the field definition tree in lock-step with
// the instance values and metadata. Sub-documents recurse; array fields
// delegate to per-element validation; required leaves with an unset value
// receive their default (invoking the generator if provided) before being
// evaluated; constraints evaluate in order and the first failure stops
// evaluation for that field. Keys present on the instance but absent from
// the definition are stripped during the same walk, except reserved
// structural keys. Returns a ValidationError before any source I/O when
// anything failed.
func (in *Instance) Validate() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	var errs []FieldError
	in.validateSubDoc(in.typ.tree.Root(), "", in.values, &errs)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func (in *Instance) validateSubDoc(n *schema.Node, path string, values map[string]any, errs *[]FieldError) {
	// Unknown-field stripping.
	for key := range values {
		if key == DestroyKey {
			continue
		}
		if _, ok := n.Children[key]; !ok {
			delete(values, key)
		}
	}

	for _, name := range sortedChildNames(n) {
		child := n.Children[name]
		p := childPath(path, name)

		switch child.Kind {
		case schema.KindLeaf:
			in.validateLeaf(child.Spec, p, name, values, errs)
		case schema.KindSubDocument:
			sub, ok := values[name].(map[string]any)
			if !ok {
				if values[name] != nil {
					// A non-map value under a sub-document definition is
					// unknown shape; strip it.
					delete(values, name)
				}
				// Walk an empty map so required descendants still report
				// and defaults still apply.
				sub = make(map[string]any)
			}
			in.validateSubDoc(child, p, sub, errs)
			if len(sub) > 0 {
				values[name] = sub
			}
		case schema.KindArray:
			arr, ok := values[name].([]any)
			if !ok {
				if values[name] != nil {
					delete(values, name)
				}
				continue
			}
			for i, rawEl := range arr {
				el, ok := rawEl.(map[string]any)
				if !ok {
					continue
				}
				if destroy, _ := el[DestroyKey].(bool); destroy {
					// Elements queued for removal are not validated.
					continue
				}
				if child.Elem.Kind == schema.KindSubDocument {
					in.validateSubDoc(child.Elem, fmt.Sprintf("%s[%d]", p, i), el, errs)
				}
			}
		}
	}
}

func (in *Instance) validateLeaf(spec *schema.FieldSpec, path, name string, values map[string]any, errs *[]FieldError) {
	if spec.Type == schema.TypeVirtual {
		// Virtual fields are computed on projection, never bound.
		delete(values, name)
		return
	}

	// Read-only fields ignore caller input entirely: a bound change is
	// rolled back to the value the field held before the bind.
	if spec.ReadOnly {
		if _, indexed := in.typ.tree.Resolve(path); indexed {
			if m := in.meta[path]; m != nil && m.Changed {
				if m.Previous == nil {
					delete(values, name)
				} else {
					values[name] = m.Previous
				}
				m.Changed = false
			}
		}
	}

	v, present := values[name]
	if (!present || v == nil) && !spec.ReadOnly {
		if dv, ok := schema.DefaultFor(spec); ok {
			values[name] = dv
			v = dv
			present = true
			if _, indexed := in.typ.tree.Resolve(path); indexed {
				in.markChanged(path)
			}
		}
	}

	fail := func(rule, msg string) {
		fe := FieldError{Field: path, Rule: rule, Message: msg}
		*errs = append(*errs, fe)
		if _, indexed := in.typ.tree.Resolve(path); indexed {
			m := in.meta[path]
			if m == nil {
				m = &fieldMeta{}
				in.meta[path] = m
			}
			m.Err = &fe
		}
	}

	if spec.Required && (!present || v == nil) {
		fail("required", fmt.Sprintf("%s is required", path))
		return
	}
	if !present || v == nil {
		return
	}
	if !schema.CheckType(spec.Type, v) {
		fail("type", fmt.Sprintf("%s must be a %s", path, spec.Type))
		return
	}
	for _, c := range spec.Constraints {
		if c.Check == nil {
			continue
		}
		if !c.Check(v, c.Args...) {
			msg := c.Message
			if msg == "" {
				msg = fmt.Sprintf("%s failed %s", path, c.Name)
			}
			// First failing constraint wins; evaluation stops for this
			// field, not for the entity.
			fail(c.Name, msg)
			return
		}
	}
}

func sortedChildNames(n *schema.Node) []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func childPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
