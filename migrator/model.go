package migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Attribute types understood by model files.
const (
	TypeInteger = "integer"
	TypeDouble  = "double"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeBinary  = "binary"
)

// pkColumn is the row identity column every entity table carries.
const pkColumn = "z_pk"

// Attribute is one persisted field of an entity.
type Attribute struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Optional bool   `toml:"optional"`
	Default  any    `toml:"default"`
}

// Entity is one persisted record type; each maps to a store table.
type Entity struct {
	Name       string      `toml:"name"`
	Attributes []Attribute `toml:"attributes"`
}

// Model is a decoded schema file for one catalog version.
type Model struct {
	Entities []Entity `toml:"entities"`
}

// LoadModel reads and validates a model file.
func LoadModel(path string) (*Model, error) {
	var m Model
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("model %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

func (m *Model) validate() error {
	seen := make(map[string]bool, len(m.Entities))
	for _, e := range m.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity without name")
		}
		if strings.HasPrefix(strings.ToLower(e.Name), "z_") || strings.HasPrefix(strings.ToLower(e.Name), "sqlite_") {
			return fmt.Errorf("entity %q uses a reserved prefix", e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		seen[e.Name] = true

		attrs := make(map[string]bool, len(e.Attributes))
		for _, a := range e.Attributes {
			if a.Name == "" {
				return fmt.Errorf("entity %s: attribute without name", e.Name)
			}
			if strings.EqualFold(a.Name, pkColumn) {
				return fmt.Errorf("entity %s: attribute name %q is reserved", e.Name, a.Name)
			}
			if attrs[a.Name] {
				return fmt.Errorf("entity %s: duplicate attribute %q", e.Name, a.Name)
			}
			attrs[a.Name] = true
			if _, ok := columnTypes[a.Type]; !ok {
				return fmt.Errorf("entity %s: attribute %s: unsupported type %q", e.Name, a.Name, a.Type)
			}
			if a.Default != nil {
				if _, err := coerceValue(a.Default, a.Type); err != nil {
					return fmt.Errorf("entity %s: attribute %s: default: %w", e.Name, a.Name, err)
				}
			}
		}
	}
	return nil
}

// Entity returns the named entity.
func (m *Model) Entity(name string) (*Entity, bool) {
	for i := range m.Entities {
		if m.Entities[i].Name == name {
			return &m.Entities[i], true
		}
	}
	return nil, false
}

// Attribute returns the named attribute.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			return &e.Attributes[i], true
		}
	}
	return nil, false
}

// Hash returns the entity's version hash. Only structure contributes:
// renaming an attribute or changing its type or optionality changes the
// hash, changing a default does not.
func (e *Entity) Hash() string {
	parts := make([]string, len(e.Attributes))
	for i, a := range e.Attributes {
		parts[i] = fmt.Sprintf("%s:%s:%t", a.Name, a.Type, a.Optional)
	}
	slices.Sort(parts)

	h := sha256.New()
	h.Write([]byte(e.Name))
	for _, p := range parts {
		h.Write([]byte{'\n'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Hashes returns entity name -> entity hash for every entity in the model.
func (m *Model) Hashes() map[string]string {
	out := make(map[string]string, len(m.Entities))
	for i := range m.Entities {
		out[m.Entities[i].Name] = m.Entities[i].Hash()
	}
	return out
}
