package migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// ManifestName is the manifest file inside a catalog directory.
	ManifestName = "catalog.toml"
	// ModelExt is appended to a version name to locate its model file.
	ModelExt = ".model.toml"
)

type manifest struct {
	CurrentVersion string                       `toml:"current_version"`
	Versions       []string                     `toml:"versions"`
	VersionHashes  map[string]map[string]string `toml:"version_hashes"`
	Mappings       []MappingRef                 `toml:"mappings"`
}

// MappingRef is a migration edge between two catalog versions. An empty
// File means the mapping is inferred from matching names.
type MappingRef struct {
	From string `toml:"from"`
	To   string `toml:"to"`
	File string `toml:"file"`
}

// Inferred reports whether the edge has no explicit mapping file.
func (r MappingRef) Inferred() bool { return r.File == "" }

// SchemaVersion is one named revision in a catalog.
type SchemaVersion struct {
	Name      string
	ModelPath string
	// Hashes maps entity name to entity hash and is the version's
	// compatibility fingerprint.
	Hashes map[string]string
}

// CompatibilityHash folds the entity hashes into a single digest for display.
func (v *SchemaVersion) CompatibilityHash() string {
	names := slices.Sorted(maps.Keys(v.Hashes))
	h := sha256.New()
	for _, n := range names {
		fmt.Fprintf(h, "%s=%s\n", n, v.Hashes[n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsCompatible reports whether a store with the given metadata was written
// with this version.
func (v *SchemaVersion) IsCompatible(md *StoreMetadata) bool {
	return md != nil && maps.Equal(v.Hashes, md.EntityHashes)
}

func (v *SchemaVersion) String() string { return v.Name }

type edge struct{ from, to string }

// Catalog is a decoded catalog directory. It is immutable once read.
type Catalog struct {
	Dir            string
	CurrentVersion string

	versions []*SchemaVersion // declaration order, oldest first
	index    map[string]int
	mappings map[edge]MappingRef
}

// ReadCatalog decodes the manifest in dir. It fails with ErrCatalogMalformed
// when the manifest is unreadable or inconsistent, or when the model file of
// the current version is missing.
func ReadCatalog(dir string) (*Catalog, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCatalogMalformed, path, fmt.Errorf("read manifest: %w", err))
	}

	var mf manifest
	md, err := toml.Decode(string(data), &mf)
	if err != nil {
		return nil, newError(ErrCatalogMalformed, path, fmt.Errorf("parse manifest: %w", err))
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, malformed(path, "unknown manifest keys: %s", strings.Join(keys, ", "))
	}

	names := mf.Versions
	if len(names) == 0 {
		names = declaredHashTables(md)
	}
	if len(names) == 0 {
		return nil, malformed(path, "manifest declares no versions")
	}

	c := &Catalog{
		Dir:            dir,
		CurrentVersion: strings.TrimSpace(mf.CurrentVersion),
		index:          make(map[string]int, len(names)),
		mappings:       make(map[edge]MappingRef, len(mf.Mappings)),
	}
	for _, name := range names {
		if name == "" {
			return nil, malformed(path, "empty version name")
		}
		if _, dup := c.index[name]; dup {
			return nil, malformed(path, "version %q declared twice", name)
		}
		hashes, ok := mf.VersionHashes[name]
		if !ok || len(hashes) == 0 {
			return nil, malformed(path, "version %q has no entity hashes", name)
		}
		c.index[name] = len(c.versions)
		c.versions = append(c.versions, &SchemaVersion{
			Name:      name,
			ModelPath: filepath.Join(dir, name+ModelExt),
			Hashes:    maps.Clone(hashes),
		})
	}
	for name := range mf.VersionHashes {
		if _, ok := c.index[name]; !ok {
			return nil, malformed(path, "hashes given for undeclared version %q", name)
		}
	}

	if c.CurrentVersion == "" {
		return nil, malformed(path, "current_version is required")
	}
	cur, ok := c.Version(c.CurrentVersion)
	if !ok {
		return nil, malformed(path, "current version %q is not a known version", c.CurrentVersion)
	}
	if _, err := os.Stat(cur.ModelPath); err != nil {
		return nil, newError(ErrCatalogMalformed, path, fmt.Errorf("current version model: %w", err))
	}

	for _, m := range mf.Mappings {
		if _, ok := c.index[m.From]; !ok {
			return nil, malformed(path, "mapping from unknown version %q", m.From)
		}
		if _, ok := c.index[m.To]; !ok {
			return nil, malformed(path, "mapping to unknown version %q", m.To)
		}
		if m.From == m.To {
			return nil, malformed(path, "mapping from %q to itself", m.From)
		}
		if !m.Inferred() {
			if _, err := os.Stat(filepath.Join(dir, m.File)); err != nil {
				return nil, newError(ErrCatalogMalformed, path, fmt.Errorf("mapping %s -> %s: %w", m.From, m.To, err))
			}
		}
		e := edge{m.From, m.To}
		if _, dup := c.mappings[e]; dup {
			return nil, malformed(path, "mapping %s -> %s declared twice", m.From, m.To)
		}
		c.mappings[e] = m
	}

	return c, nil
}

// declaredHashTables returns version names in the order their
// [version_hashes.<name>] tables appear in the manifest.
func declaredHashTables(md toml.MetaData) []string {
	var names []string
	seen := make(map[string]bool)
	for _, k := range md.Keys() {
		if len(k) != 2 || k[0] != "version_hashes" || seen[k[1]] {
			continue
		}
		seen[k[1]] = true
		names = append(names, k[1])
	}
	return names
}

// Versions returns the declared versions, oldest first.
func (c *Catalog) Versions() []*SchemaVersion {
	return slices.Clone(c.versions)
}

// VersionNames returns the declared version names, oldest first.
func (c *Catalog) VersionNames() []string {
	names := make([]string, len(c.versions))
	for i, v := range c.versions {
		names[i] = v.Name
	}
	return names
}

// Version looks up a version by name.
func (c *Catalog) Version(name string) (*SchemaVersion, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.versions[i], true
}

// Current returns the version new stores should be written with.
func (c *Catalog) Current() *SchemaVersion {
	v, _ := c.Version(c.CurrentVersion)
	return v
}

// Mapping returns the edge declared in the manifest between two versions.
// Undeclared forward adjacent pairs are still migratable; see Resolve.
func (c *Catalog) Mapping(from, to string) (MappingRef, bool) {
	m, ok := c.mappings[edge{from, to}]
	return m, ok
}

// HashMismatch describes a manifest hash that disagrees with its model file.
type HashMismatch struct {
	Version  string
	Entity   string
	Declared string // empty when the model has an entity the manifest lacks
	Computed string // empty when the manifest lists an entity the model lacks
}

func (m HashMismatch) String() string {
	switch {
	case m.Declared == "":
		return fmt.Sprintf("%s: entity %s missing from manifest", m.Version, m.Entity)
	case m.Computed == "":
		return fmt.Sprintf("%s: entity %s missing from model", m.Version, m.Entity)
	default:
		return fmt.Sprintf("%s: entity %s declared %.12s, model %.12s", m.Version, m.Entity, m.Declared, m.Computed)
	}
}

// VerifyCatalog compares every manifest hash with the hash computed from the
// version's model file. Versions whose model file is absent are skipped.
func VerifyCatalog(c *Catalog) ([]HashMismatch, error) {
	var out []HashMismatch
	for _, v := range c.versions {
		m, err := LoadModel(v.ModelPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, newError(ErrCatalogMalformed, v.ModelPath, err)
		}
		computed := m.Hashes()
		for _, entity := range slices.Sorted(maps.Keys(computed)) {
			declared := v.Hashes[entity]
			if declared != computed[entity] {
				out = append(out, HashMismatch{Version: v.Name, Entity: entity, Declared: declared, Computed: computed[entity]})
			}
		}
		for _, entity := range slices.Sorted(maps.Keys(v.Hashes)) {
			if _, ok := computed[entity]; !ok {
				out = append(out, HashMismatch{Version: v.Name, Entity: entity, Declared: v.Hashes[entity]})
			}
		}
	}
	return out, nil
}
