package migrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modelV1 = `
[[entities]]
name = "Post"
  [[entities.attributes]]
  name = "title"
  type = "string"
  [[entities.attributes]]
  name = "body"
  type = "string"
  optional = true
`

const modelV2 = `
[[entities]]
name = "Post"
  [[entities.attributes]]
  name = "title"
  type = "string"
  [[entities.attributes]]
  name = "body"
  type = "string"
  optional = true
  [[entities.attributes]]
  name = "rating"
  type = "integer"
  default = 0
`

const modelV3 = `
[[entities]]
name = "Post"
  [[entities.attributes]]
  name = "headline"
  type = "string"
  [[entities.attributes]]
  name = "body"
  type = "string"
  optional = true
  [[entities.attributes]]
  name = "rating"
  type = "integer"
  [[entities.attributes]]
  name = "slug"
  type = "string"

[[entities]]
name = "Author"
  [[entities.attributes]]
  name = "name"
  type = "string"
`

const mappingV2V3 = `
entities:
  Post:
    attributes:
      headline: title
    expressions:
      slug: lower(replace(title, " ", "-"))
`

type testVersion struct {
	name  string
	model string
}

type testCatalog struct {
	versions []testVersion
	current  string
	mappings []MappingRef
	files    map[string]string // extra files, e.g. mapping YAML
	// declareOrder overrides the `versions` list; nil writes the list in
	// versions order.
	declareOrder []string
}

// threeVersions is V1 -> V2 (inferred) -> V3 (explicit mapping).
func threeVersions() testCatalog {
	return testCatalog{
		versions: []testVersion{{"V1", modelV1}, {"V2", modelV2}, {"V3", modelV3}},
		current:  "V3",
		mappings: []MappingRef{
			{From: "V1", To: "V2"},
			{From: "V2", To: "V3", File: "V2-V3.yaml"},
		},
		files: map[string]string{"V2-V3.yaml": mappingV2V3},
	}
}

func twoVersions() testCatalog {
	return testCatalog{
		versions: []testVersion{{"V1", modelV1}, {"V2", modelV2}},
		current:  "V2",
		mappings: []MappingRef{{From: "V1", To: "V2"}},
	}
}

// writeCatalog materializes tc in a temp dir, computing manifest hashes
// from the model files.
func writeCatalog(t *testing.T, tc testCatalog) string {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	fmt.Fprintf(&b, "current_version = %q\n", tc.current)
	order := tc.declareOrder
	if order == nil {
		for _, v := range tc.versions {
			order = append(order, v.name)
		}
	}
	quoted := make([]string, len(order))
	for i, n := range order {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	fmt.Fprintf(&b, "versions = [%s]\n", strings.Join(quoted, ", "))

	for _, v := range tc.versions {
		path := filepath.Join(dir, v.name+ModelExt)
		require.NoError(t, os.WriteFile(path, []byte(v.model), 0o644))
		m, err := LoadModel(path)
		require.NoError(t, err)
		fmt.Fprintf(&b, "\n[version_hashes.%q]\n", v.name)
		for entity, hash := range m.Hashes() {
			fmt.Fprintf(&b, "%q = %q\n", entity, hash)
		}
	}
	for _, m := range tc.mappings {
		fmt.Fprintf(&b, "\n[[mappings]]\nfrom = %q\nto = %q\n", m.From, m.To)
		if m.File != "" {
			fmt.Fprintf(&b, "file = %q\n", m.File)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(b.String()), 0o644))

	for name, content := range tc.files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// newStore creates a store at version and inserts the given SQL.
func newStore(t *testing.T, c *Catalog, version string, seed ...string) string {
	t.Helper()
	ctx := context.Background()
	v, ok := c.Version(version)
	require.True(t, ok, "unknown version %s", version)

	path := filepath.Join(t.TempDir(), "app.sqlite")
	require.NoError(t, CreateStore(ctx, path, v))

	if len(seed) > 0 {
		db, err := openStoreReadWrite(ctx, path)
		require.NoError(t, err)
		defer db.Close()
		for _, stmt := range seed {
			_, err := db.ExecContext(ctx, stmt)
			require.NoError(t, err, stmt)
		}
	}
	return path
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func queryStrings(t *testing.T, path, query string) []string {
	t.Helper()
	db, err := openStoreReadOnly(path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}
