package schema

import (
	"fmt"
)

// Attribute keys recognized on a raw leaf definition. Any other map-valued
// key makes the definition a sub-document.
var leafAttrKeys = map[string]bool{
	"type":        true,
	"required":    true,
	"read_only":   true,
	"identity":    true,
	"default":     true,
	"views":       true,
	"constraints": true,
	"mapping":     true,
}

// IsSubDocument classifies a raw field definition. A definition is a
// sub-document iff it has no "type" key and at least one child map- or
// list-valued key outside {constraints, views, mapping}. The function is
// total and side-effect-free; every other component consults it through
// FromMap.
func IsSubDocument(def map[string]any) bool {
	if _, ok := def["type"]; ok {
		return false
	}
	for key, val := range def {
		if key == "constraints" || key == "views" || key == "mapping" {
			continue
		}
		switch val.(type) {
		case map[string]any, []any:
			return true
		}
	}
	return false
}

// FromMap builds a compiled tree from a raw, YAML- or JSON-decoded entity
// definition. Raw conventions:
//
//   - a list value is an array placeholder whose single element describes
//     the element definition
//   - a map with a "type" key is a leaf
//   - any other map with child structures is a sub-document
//
// Constraint entries reference the built-in rule table by name.
func FromMap(def map[string]any) (*Tree, error) {
	root, err := nodeFromRaw(def, "")
	if err != nil {
		return nil, err
	}
	if root.Kind != KindSubDocument {
		return nil, fmt.Errorf("schema: entity definition must be a sub-document")
	}
	return Compile(root)
}

func nodeFromRaw(raw any, path string) (*Node, error) {
	switch def := raw.(type) {
	case []any:
		if len(def) != 1 {
			return nil, fmt.Errorf("schema: array definition at %q must have exactly one element", path)
		}
		elem, err := nodeFromRaw(def[0], path+"[]")
		if err != nil {
			return nil, err
		}
		return Array(elem), nil
	case map[string]any:
		if IsSubDocument(def) {
			children := make(map[string]*Node, len(def))
			for name, childRaw := range def {
				if leafAttrKeys[name] {
					continue
				}
				child, err := nodeFromRaw(childRaw, joinPath(path, name))
				if err != nil {
					return nil, err
				}
				children[name] = child
			}
			return SubDocument(children), nil
		}
		return leafFromRaw(def, path)
	default:
		return nil, fmt.Errorf("schema: unsupported definition at %q (%T)", path, raw)
	}
}

func leafFromRaw(def map[string]any, path string) (*Node, error) {
	spec := FieldSpec{Type: TypeString}
	if ts, ok := def["type"].(string); ok {
		spec.Type = FieldType(ts)
		switch spec.Type {
		case TypeString, TypeInteger, TypeFloat, TypeDate, TypeBoolean:
		case TypeVirtual:
			// A raw definition has no way to attach a getter.
			return nil, fmt.Errorf("schema: virtual field at %q: virtual fields are registered in code, not declared", path)
		default:
			return nil, fmt.Errorf("schema: unknown type %q at %q", ts, path)
		}
	}
	spec.Required, _ = def["required"].(bool)
	spec.ReadOnly, _ = def["read_only"].(bool)
	spec.Identity, _ = def["identity"].(bool)
	spec.Default = def["default"]

	if views, ok := def["views"].([]any); ok {
		for _, v := range views {
			name, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("schema: non-string view name at %q", path)
			}
			spec.Views = append(spec.Views, name)
		}
	}

	if rawCons, ok := def["constraints"].(map[string]any); ok {
		cons, err := constraintsFromRaw(rawCons, path)
		if err != nil {
			return nil, err
		}
		spec.Constraints = cons
	}

	if rawMap, ok := def["mapping"].(map[string]any); ok {
		m := &Mapping{}
		m.Source, _ = rawMap["source"].(string)
		m.Alias, _ = rawMap["alias"].(string)
		m.PrimaryKey, _ = rawMap["primary_key"].(bool)
		if m.Source == "" {
			return nil, fmt.Errorf("schema: mapping at %q has no source", path)
		}
		spec.Mapping = m
	}

	return Leaf(spec), nil
}
