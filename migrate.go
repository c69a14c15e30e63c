package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/Limetric/storeferry/migrator"
	"golang.org/x/sync/errgroup"
)

// storeOutcome is the result of processing one configured store.
type storeOutcome struct {
	Path    string
	Result  *migrator.Result
	Err     error
	Skipped bool
}

// migrateStores runs every configured store through m with cfg.Workers
// stores in flight. A failing store does not stop the others.
func migrateStores(ctx context.Context, m *migrator.Migrator, cfg *StoreferryConfig) []storeOutcome {
	outcomes := make([]storeOutcome, len(cfg.Stores))

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, path := range cfg.Stores {
		g.Go(func() error {
			outcomes[i] = migrateStore(ctx, m, cfg, path)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func migrateStore(ctx context.Context, m *migrator.Migrator, cfg *StoreferryConfig, path string) storeOutcome {
	out := storeOutcome{Path: path}
	req := migrator.Request{
		CatalogDir:    cfg.Catalog,
		StorePath:     path,
		TargetVersion: cfg.TargetVersion,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		switch cfg.OnMissingStore {
		case "skip":
			log.Printf("%s: missing, skipped", path)
			out.Skipped = true
			return out
		case "create":
			out.Result, out.Err = m.Initialize(ctx, req)
			return out
		}
	}

	out.Result, out.Err = m.Migrate(ctx, req)
	if out.Err != nil && migrator.Retryable(out.Err) {
		log.Printf("%s: %v (retryable)", path, out.Err)
	}
	return out
}

func countFailed(outcomes []storeOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
