package migrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/types"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// MappingFile is the declarative correspondence between a source and a
// destination model. The zero value is the inferred mapping: entities and
// attributes correspond by name.
type MappingFile struct {
	Entities map[string]EntityMapping `yaml:"entities"`
}

// EntityMapping describes how one destination entity is populated.
type EntityMapping struct {
	// Source entity name; defaults to the destination name.
	Source string `yaml:"source"`
	// Attributes maps destination attribute -> source attribute.
	Attributes map[string]string `yaml:"attributes"`
	// Defaults are constants for destination attributes with no source.
	Defaults map[string]any `yaml:"defaults"`
	// Expressions compute a destination attribute from the source row.
	Expressions map[string]string `yaml:"expressions"`
	// Skip creates the destination table without copying rows.
	Skip bool `yaml:"skip"`
}

// LoadMapping reads a mapping file.
func LoadMapping(path string) (*MappingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes mapping YAML, rejecting unknown fields.
func ParseMapping(data []byte) (*MappingFile, error) {
	var mf MappingFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	return &mf, nil
}

// columnSource says where a destination column's value comes from.
type columnSource struct {
	attr      Attribute
	sourceCol int         // index into the source select list, -1 if none
	program   *vm.Program // expression, if any
	constant  any         // used when sourceCol < 0 and program == nil
	fallback  any         // replaces a NULL bound for a required attribute
}

// entityCopy is the compiled plan for one destination entity.
type entityCopy struct {
	dest    *Entity
	source  *Entity // nil: new entity, nothing to copy
	columns []columnSource
}

// compileMapping resolves mf against the two models. Every destination
// attribute must end up with a value source; anything referring to an
// entity or attribute that does not exist is an error.
func compileMapping(mf *MappingFile, src, dst *Model) ([]entityCopy, error) {
	for _, name := range slices.Sorted(maps.Keys(mf.Entities)) {
		if _, ok := dst.Entity(name); !ok {
			return nil, fmt.Errorf("mapping names unknown destination entity %q", name)
		}
	}

	plans := make([]entityCopy, 0, len(dst.Entities))
	for i := range dst.Entities {
		d := &dst.Entities[i]
		em := mf.Entities[d.Name]

		sourceName := d.Name
		if em.Source != "" {
			sourceName = em.Source
		}
		s, ok := src.Entity(sourceName)
		if !ok && em.Source != "" {
			return nil, fmt.Errorf("entity %s: unknown source entity %q", d.Name, em.Source)
		}
		if em.Skip {
			s = nil
		}

		plan := entityCopy{dest: d, source: s}
		if s == nil {
			plans = append(plans, plan)
			continue
		}

		for attr, from := range em.Attributes {
			if _, ok := d.Attribute(attr); !ok {
				return nil, fmt.Errorf("entity %s: rename targets unknown attribute %q", d.Name, attr)
			}
			if _, ok := s.Attribute(from); !ok {
				return nil, fmt.Errorf("entity %s: rename source %q not in %s", d.Name, from, s.Name)
			}
		}
		for attr := range em.Defaults {
			if _, ok := d.Attribute(attr); !ok {
				return nil, fmt.Errorf("entity %s: default for unknown attribute %q", d.Name, attr)
			}
		}
		for attr := range em.Expressions {
			if _, ok := d.Attribute(attr); !ok {
				return nil, fmt.Errorf("entity %s: expression for unknown attribute %q", d.Name, attr)
			}
		}
		env := expressionEnv(s)

		for _, a := range d.Attributes {
			col := columnSource{attr: a, sourceCol: -1}
			fallback, hasFallback, err := attributeDefault(em, a)
			if err != nil {
				return nil, fmt.Errorf("entity %s: attribute %s: default: %w", d.Name, a.Name, err)
			}
			col.fallback = fallback
			if code, ok := em.Expressions[a.Name]; ok {
				prog, err := expr.Compile(code, expr.Env(env))
				if err != nil {
					return nil, fmt.Errorf("entity %s: attribute %s: expression: %w", d.Name, a.Name, err)
				}
				col.program = prog
			} else if from, ok := em.Attributes[a.Name]; ok {
				col.sourceCol = sourceIndex(s, from)
			} else if _, ok := s.Attribute(a.Name); ok {
				col.sourceCol = sourceIndex(s, a.Name)
			} else if hasFallback {
				col.constant = fallback
			} else if !a.Optional {
				return nil, fmt.Errorf("entity %s: required attribute %s has no source, default or expression", d.Name, a.Name)
			}
			plan.columns = append(plan.columns, col)
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// expressionEnv declares the names an expression may read: the source pk
// and every source attribute. Values are untyped since stored columns may
// be NULL.
func expressionEnv(s *Entity) types.Map {
	env := types.Map{pkColumn: types.Any}
	for _, a := range s.Attributes {
		env[a.Name] = types.Any
	}
	return env
}

// attributeDefault returns the mapping default for a, else its schema default.
func attributeDefault(em EntityMapping, a Attribute) (any, bool, error) {
	v, ok := em.Defaults[a.Name]
	if !ok {
		v = a.Default
	}
	if v == nil {
		return nil, false, nil
	}
	cv, err := coerceValue(v, a.Type)
	if err != nil {
		return nil, false, err
	}
	return cv, true, nil
}

// sourceIndex returns the select-list position of a source attribute.
// Position 0 is the pk column.
func sourceIndex(s *Entity, name string) int {
	for i, a := range s.Attributes {
		if a.Name == name {
			return i + 1
		}
	}
	return -1
}

// rowValues produces the destination values for one source row, pk first.
func (p *entityCopy) rowValues(src []any) ([]any, error) {
	out := make([]any, 0, len(p.columns)+1)
	out = append(out, src[0])

	var env map[string]any
	for _, c := range p.columns {
		var v any
		switch {
		case c.program != nil:
			if env == nil {
				env = make(map[string]any, len(p.source.Attributes)+1)
				env[pkColumn] = src[0]
				for i, a := range p.source.Attributes {
					env[a.Name] = src[i+1]
				}
			}
			r, err := expr.Run(c.program, env)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: expression: %w", c.attr.Name, err)
			}
			v = r
		case c.sourceCol >= 0:
			v = src[c.sourceCol]
		default:
			v = c.constant
		}

		cv, err := coerceValue(v, c.attr.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", c.attr.Name, err)
		}
		if cv == nil {
			cv = c.fallback
		}
		if cv == nil && !c.attr.Optional {
			return nil, fmt.Errorf("attribute %s: NULL for required attribute", c.attr.Name)
		}
		out = append(out, cv)
	}
	return out, nil
}
