package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Limetric/storeferry/migrator"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliModelV1 = `
[[entities]]
name = "Note"
  [[entities.attributes]]
  name = "text"
  type = "string"
`

const cliModelV2 = `
[[entities]]
name = "Note"
  [[entities.attributes]]
  name = "text"
  type = "string"
  [[entities.attributes]]
  name = "pinned"
  type = "boolean"
  default = false
`

func init() {
	color.NoColor = true
	log.SetOutput(io.Discard)
}

// writeTestCatalog writes a two-version catalog (V1 -> V2, inferred) to dir/model.
func writeTestCatalog(t *testing.T, dir string) string {
	t.Helper()
	catalog := filepath.Join(dir, "model")
	require.NoError(t, os.Mkdir(catalog, 0o755))

	var manifest strings.Builder
	manifest.WriteString("current_version = \"V2\"\nversions = [\"V1\", \"V2\"]\n")
	for _, v := range []struct{ name, model string }{{"V1", cliModelV1}, {"V2", cliModelV2}} {
		path := filepath.Join(catalog, v.name+migrator.ModelExt)
		require.NoError(t, os.WriteFile(path, []byte(v.model), 0o644))
		var buf bytes.Buffer
		require.NoError(t, printModelHashes(&buf, path))
		manifest.WriteString("\n")
		manifest.Write(buf.Bytes())
	}
	manifest.WriteString("\n[[mappings]]\nfrom = \"V1\"\nto = \"V2\"\n")

	require.NoError(t, os.WriteFile(filepath.Join(catalog, migrator.ManifestName), []byte(manifest.String()), 0o644))
	return catalog
}

func createTestStore(t *testing.T, catalog, path, version string) {
	t.Helper()
	c, err := migrator.ReadCatalog(catalog)
	require.NoError(t, err)
	v, ok := c.Version(version)
	require.True(t, ok, "unknown version %s", version)
	require.NoError(t, migrator.CreateStore(context.Background(), path, v))
}

func detect(t *testing.T, catalog, path string) string {
	t.Helper()
	c, err := migrator.ReadCatalog(catalog)
	require.NoError(t, err)
	v, err := migrator.DetectVersion(context.Background(), path, c)
	require.NoError(t, err, path)
	return v.Name
}

func testMigrator(cfg *StoreferryConfig) *migrator.Migrator {
	return migrator.New(migrator.Options{ScratchDir: cfg.ScratchDir, Logger: log.New(io.Discard, "", 0)})
}

func TestMigrateStores(t *testing.T) {
	tests := []struct {
		name           string
		onMissingStore string
		wantMissing    func(t *testing.T, o storeOutcome)
	}{
		{
			name:           "missing store is an error",
			onMissingStore: "error",
			wantMissing: func(t *testing.T, o storeOutcome) {
				assert.ErrorIs(t, o.Err, migrator.ErrStoreUnreadable)
			},
		},
		{
			name:           "missing store is skipped",
			onMissingStore: "skip",
			wantMissing: func(t *testing.T, o storeOutcome) {
				require.NoError(t, o.Err)
				assert.True(t, o.Skipped)
				assert.NoFileExists(t, o.Path)
			},
		},
		{
			name:           "missing store is created",
			onMissingStore: "create",
			wantMissing: func(t *testing.T, o storeOutcome) {
				require.NoError(t, o.Err)
				assert.True(t, o.Result.Created)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			catalog := writeTestCatalog(t, dir)
			old := filepath.Join(dir, "old.sqlite")
			current := filepath.Join(dir, "current.sqlite")
			missing := filepath.Join(dir, "missing.sqlite")
			createTestStore(t, catalog, old, "V1")
			createTestStore(t, catalog, current, "V2")

			cfg := &StoreferryConfig{
				Catalog:        catalog,
				Stores:         []string{old, current, missing},
				Workers:        3,
				OnMissingStore: tt.onMissingStore,
				ScratchDir:     t.TempDir(),
			}
			outcomes := migrateStores(context.Background(), testMigrator(cfg), cfg)
			require.Len(t, outcomes, 3)

			require.NoError(t, outcomes[0].Err)
			assert.True(t, outcomes[0].Result.Migrated)
			assert.Equal(t, "V2", detect(t, catalog, old))

			require.NoError(t, outcomes[1].Err)
			assert.False(t, outcomes[1].Result.Migrated)

			tt.wantMissing(t, outcomes[2])
		})
	}
}

func TestCountFailed(t *testing.T) {
	outcomes := []storeOutcome{
		{Path: "a"},
		{Path: "b", Err: fmt.Errorf("boom")},
		{Path: "c", Skipped: true},
		{Path: "d", Err: migrator.ErrStepFailed},
	}
	assert.Equal(t, 2, countFailed(outcomes))
}

func TestPrintReport(t *testing.T) {
	plan := &migrator.MigrationPlan{Steps: []migrator.MigrationStep{{
		Source:      &migrator.SchemaVersion{Name: "V1"},
		Destination: &migrator.SchemaVersion{Name: "V2"},
	}}}
	outcomes := []storeOutcome{
		{Path: "/a", Result: &migrator.Result{To: "V2", Plan: plan, Migrated: true}},
		{Path: "/b", Result: &migrator.Result{To: "V2", Plan: &migrator.MigrationPlan{}}},
		{Path: "/c", Skipped: true},
		{Path: "/d", Err: errors.New("disk full")},
		{Path: "/e", Result: &migrator.Result{To: "V2", Created: true}},
	}

	var buf bytes.Buffer
	printReport(&buf, outcomes)
	got := buf.String()

	for _, want := range []string{
		"migrated   /a V1 -> V2 (0s)\n",
		"current    /b at V2\n",
		"skipped    /c (missing)\n",
		"FAILED     /d: disk full\n",
		"created    /e at V2\n",
		"5 stores: 2 migrated, 1 current, 1 skipped, 1 failed\n",
	} {
		assert.Contains(t, got, want)
	}
}

func TestPrintModelHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Model 7"+migrator.ModelExt)
	require.NoError(t, os.WriteFile(path, []byte(cliModelV2), 0o644))
	model, err := migrator.LoadModel(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printModelHashes(&buf, path))
	want := fmt.Sprintf("[version_hashes.\"Model 7\"]\n\"Note\" = %q\n", model.Hashes()["Note"])
	assert.Equal(t, want, buf.String())

	assert.Error(t, printModelHashes(&buf, filepath.Join(dir, "absent.model.toml")))
}

func TestRunVerify(t *testing.T) {
	dir := t.TempDir()
	catalog := writeTestCatalog(t, dir)
	cfgFile := writeConfig(t, dir, "catalog = \"model\"\nstores = [\"a.sqlite\"]\n")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runVerify(cmd, []string{cfgFile}), out.String())
	assert.Contains(t, out.String(), "2 versions, current V2")

	// Changing an attribute type changes the entity hash.
	tampered := strings.Replace(cliModelV1, `type = "string"`, `type = "binary"`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(catalog, "V1"+migrator.ModelExt), []byte(tampered), 0o644))
	out.Reset()
	err := runVerify(cmd, []string{cfgFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 hash mismatches")
	assert.Contains(t, out.String(), "MISMATCH   V1: entity Note declared")
}

func TestRunStatus(t *testing.T) {
	dir := t.TempDir()
	catalog := writeTestCatalog(t, dir)
	oldPath := filepath.Join(dir, "old.sqlite")
	newPath := filepath.Join(dir, "new.sqlite")
	createTestStore(t, catalog, oldPath, "V1")
	createTestStore(t, catalog, newPath, "V2")
	cfgFile := writeConfig(t, dir, `
catalog = "model"
stores = ["old.sqlite", "new.sqlite", "gone.sqlite"]
on_missing_store = "skip"
`)
	before, err := os.ReadFile(oldPath)
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runStatus(cmd, []string{cfgFile}), out.String())

	got := out.String()
	assert.Contains(t, got, "pending    "+oldPath+" at V1")
	assert.Contains(t, got, "plan V1 -> V2")
	assert.Contains(t, got, "current    "+newPath+" at V2")
	assert.Contains(t, got, "missing    "+filepath.Join(dir, "gone.sqlite"))

	after, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "status must not modify the store")
}

func TestResolveConfigPath(t *testing.T) {
	configPath = "flag.toml"
	defer func() { configPath = "" }()

	got, err := resolveConfigPath([]string{"arg.toml"})
	require.NoError(t, err)
	assert.Equal(t, "arg.toml", got)

	got, err = resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, "flag.toml", got)

	configPath = ""
	_, err = resolveConfigPath(nil)
	assert.Error(t, err)
}
