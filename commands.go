package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Limetric/storeferry/migrator"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [config.toml]",
	Short: "Show the detected version and pending plan of every store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var hashCmd = &cobra.Command{
	Use:   "hash <model.toml>",
	Short: "Print the manifest hash table for a model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printModelHashes(cmd.OutOrStdout(), args[0])
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [config.toml]",
	Short: "Check catalog manifest hashes against the model files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	m := migrator.New(migrator.Options{Logger: log.New(io.Discard, "", 0)})
	w := cmd.OutOrStdout()
	failed := 0
	for _, path := range cfg.Stores {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && cfg.OnMissingStore != "error" {
			yellow.Fprintf(w, "%-10s", "missing")
			fmt.Fprintf(w, " %s (on_missing_store=%s)\n", path, cfg.OnMissingStore)
			continue
		}
		h, plan, err := m.Plan(context.Background(), migrator.Request{
			CatalogDir:    cfg.Catalog,
			StorePath:     path,
			TargetVersion: cfg.TargetVersion,
		})
		if err != nil {
			failed++
		}
		printStatus(w, path, h, plan, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stores cannot be migrated", failed, len(cfg.Stores))
	}
	return nil
}

// printModelHashes prints the [version_hashes] table for a model file, named
// after the file without its model extension.
func printModelHashes(w io.Writer, path string) error {
	model, err := migrator.LoadModel(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), migrator.ModelExt)
	hashes := model.Hashes()

	fmt.Fprintf(w, "[version_hashes.%q]\n", name)
	for _, entity := range slices.Sorted(maps.Keys(hashes)) {
		fmt.Fprintf(w, "%q = %q\n", entity, hashes[entity])
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	c, err := migrator.ReadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	mismatches, err := migrator.VerifyCatalog(c)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, mm := range mismatches {
		red.Fprintf(w, "%-10s", "MISMATCH")
		fmt.Fprintf(w, " %s\n", mm)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("catalog %s: %d hash mismatches", cfg.Catalog, len(mismatches))
	}
	green.Fprintf(w, "%-10s", "ok")
	fmt.Fprintf(w, " %s: %d versions, current %s\n", cfg.Catalog, len(c.Versions()), c.CurrentVersion)
	return nil
}
