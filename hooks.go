package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Limetric/storeferry/migrator"
)

// loadHookStatements reads the after_migrate SQL files in order and splits
// them into individual statements.
func loadHookStatements(cfg *StoreferryConfig) ([]string, error) {
	files := cfg.Hooks.AfterMigrate
	if len(files) == 0 {
		return nil, nil
	}
	log.Printf("loading after_migrate hooks (%d files)...", len(files))

	var stmts []string
	for _, f := range files {
		data, err := os.ReadFile(cfg.resolvePath(f))
		if err != nil {
			return nil, fmt.Errorf("hook after_migrate: read %s: %w", f, err)
		}
		s := migrator.SplitStatements(string(data))
		log.Printf("  %s: %d statements", f, len(s))
		stmts = append(stmts, s...)
	}
	return stmts, nil
}
