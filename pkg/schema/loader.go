package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative form of one entity, as loaded from a YAML
// schema file. Fields hold the raw definition consumed by FromMap; Bindings
// describe the source bindings the runtime must construct adapters for.
type Definition struct {
	Entity   string         `yaml:"entity"`
	Fields   map[string]any `yaml:"fields"`
	Bindings []BindingDecl  `yaml:"bindings"`
}

// BindingDecl declares one source binding of an entity.
type BindingDecl struct {
	Name         string                    `yaml:"name"`
	Adapter      string                    `yaml:"adapter"` // memory | badger | postgres | search | fsblob
	Table        string                    `yaml:"table"`
	Relationship string                    `yaml:"relationship"` // one_to_one | one_to_one_ref | one_to_many | search
	Primary      bool                      `yaml:"primary"`
	LocalKey     string                    `yaml:"local_key"`
	ForeignKey   string                    `yaml:"foreign_key"`
	Field        string                    `yaml:"field"`
	TextFields   []string                  `yaml:"text_fields"`
	Queries      map[string]map[string]any `yaml:"queries"`
}

// LoadFile parses one entity definition file.
func LoadFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", path, err)
	}
	if def.Entity == "" {
		return nil, fmt.Errorf("schema: %s: missing entity name", path)
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("schema: %s: entity %q has no fields", path, def.Entity)
	}
	return &def, nil
}

// LoadDir parses every .yaml/.yml file in a directory, sorted by file name.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		def, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
