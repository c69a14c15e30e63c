package migrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"
)

// Options configure a Migrator.
type Options struct {
	// ScratchDir holds temporary stores; the OS temp dir when empty.
	ScratchDir string
	// Logger receives progress lines; defaults to stderr with a
	// "[migrator] " prefix.
	Logger *log.Logger
	// Metrics, when set, is updated for every request.
	Metrics *Metrics
	// FailFast makes a request for a store that is already being migrated
	// fail with ErrMigrationInProgress instead of waiting.
	FailFast bool
	// KeepBackup leaves the pre-migration store next to the live one.
	KeepBackup bool
	// AfterMigrate statements run against the migrated store before it
	// replaces the live one. They are skipped when nothing was migrated.
	AfterMigrate []string
}

// Request names the store to migrate and where its catalog lives.
type Request struct {
	CatalogDir string
	StorePath  string
	// TargetVersion defaults to the catalog's current version.
	TargetVersion string
}

// Result describes a finished migration.
type Result struct {
	StorePath string
	From      string
	To        string
	Plan      *MigrationPlan
	Migrated  bool // false when the store was already at the target
	Created   bool // set by Initialize when the store did not exist
	Duration  time.Duration
}

// Migrator runs migration requests. It is safe for concurrent use; requests
// for the same store are serialized, requests for different stores run
// independently.
type Migrator struct {
	opts  Options
	locks *storeLocks
}

// New returns a Migrator.
func New(opts Options) *Migrator {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[migrator] ", log.LstdFlags)
	}
	return &Migrator{opts: opts, locks: newStoreLocks()}
}

// MigrateAsync runs Migrate on a background goroutine and calls done exactly
// once with its outcome.
func (m *Migrator) MigrateAsync(ctx context.Context, req Request, done func(*Result, error)) {
	go func() {
		done(m.Migrate(ctx, req))
	}()
}

// Migrate brings the store to the target version. On any failure the store
// file is left exactly as it was.
func (m *Migrator) Migrate(ctx context.Context, req Request) (*Result, error) {
	release, err := m.lock(ctx, req.StorePath)
	if err != nil {
		m.opts.Metrics.observeOutcome(nil, err)
		return nil, err
	}
	defer release()

	res, err := m.migrateLocked(ctx, req)
	m.opts.Metrics.observeOutcome(res, err)
	return res, err
}

// Initialize prepares a store for opening: a missing store is created empty
// at the target version, an existing one is migrated.
func (m *Migrator) Initialize(ctx context.Context, req Request) (*Result, error) {
	release, err := m.lock(ctx, req.StorePath)
	if err != nil {
		m.opts.Metrics.observeOutcome(nil, err)
		return nil, err
	}
	defer release()

	var res *Result
	if _, statErr := os.Stat(req.StorePath); errors.Is(statErr, fs.ErrNotExist) {
		res, err = m.createLocked(ctx, req)
	} else {
		res, err = m.migrateLocked(ctx, req)
	}
	m.opts.Metrics.observeOutcome(res, err)
	return res, err
}

// createLocked writes an empty store at the target version.
func (m *Migrator) createLocked(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	c, err := ReadCatalog(req.CatalogDir)
	if err != nil {
		return nil, err
	}
	target, err := targetVersion(c, req.TargetVersion)
	if err != nil {
		return nil, err
	}
	if err := CreateStore(ctx, req.StorePath, target); err != nil {
		return nil, newError(ErrStepFailed, req.StorePath, err)
	}
	m.opts.Logger.Printf("%s: created empty store at %s", req.StorePath, target.Name)
	return &Result{
		StorePath: req.StorePath,
		To:        target.Name,
		Plan:      &MigrationPlan{},
		Created:   true,
		Duration:  time.Since(start),
	}, nil
}

// Plan reports what Migrate would do without touching the store.
func (m *Migrator) Plan(ctx context.Context, req Request) (*StoreHandle, *MigrationPlan, error) {
	c, err := ReadCatalog(req.CatalogDir)
	if err != nil {
		return nil, nil, err
	}
	target, err := targetVersion(c, req.TargetVersion)
	if err != nil {
		return nil, nil, err
	}
	h, err := Inspect(ctx, req.StorePath, c)
	if err != nil {
		return nil, nil, err
	}
	plan, err := Resolve(h.Detected, target, c)
	if err != nil {
		return h, nil, err
	}
	return h, plan, nil
}

func (m *Migrator) lock(ctx context.Context, path string) (func(), error) {
	if m.opts.FailFast {
		release, ok := m.locks.tryAcquire(path)
		if !ok {
			return nil, newError(ErrMigrationInProgress, path, nil)
		}
		return m.tracked(release), nil
	}
	release, err := m.locks.acquire(ctx, path)
	if err != nil {
		return nil, newError(ErrCanceled, path, err)
	}
	return m.tracked(release), nil
}

func (m *Migrator) tracked(release func()) func() {
	m.opts.Metrics.inProgress(1)
	return func() {
		release()
		m.opts.Metrics.inProgress(-1)
	}
}

func targetVersion(c *Catalog, name string) (*SchemaVersion, error) {
	if name == "" {
		return c.Current(), nil
	}
	v, ok := c.Version(name)
	if !ok {
		return nil, newError(ErrNoPathFound, c.Dir, fmt.Errorf("target version %q is not in the catalog", name))
	}
	return v, nil
}

func (m *Migrator) migrateLocked(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	logger := m.opts.Logger

	c, err := ReadCatalog(req.CatalogDir)
	if err != nil {
		return nil, err
	}
	target, err := targetVersion(c, req.TargetVersion)
	if err != nil {
		return nil, err
	}
	detected, err := DetectVersion(ctx, req.StorePath, c)
	if err != nil {
		return nil, err
	}
	plan, err := Resolve(detected, target, c)
	if err != nil {
		return nil, err
	}

	res := &Result{StorePath: req.StorePath, From: detected.Name, To: target.Name, Plan: plan}
	if plan.Empty() {
		logger.Printf("%s: already at %s", req.StorePath, target.Name)
		res.Duration = time.Since(start)
		return res, nil
	}
	logger.Printf("%s: migrating %s (%d steps)", req.StorePath, plan, len(plan.Steps))

	exec := NewExecutor(c, m.opts.ScratchDir, logger)
	defer exec.Discard()

	input := req.StorePath
	var output string
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			logger.Printf("%s: canceled before step %s, store untouched", req.StorePath, step)
			return nil, newError(ErrCanceled, req.StorePath, err)
		}
		if i > 0 {
			if input, err = exec.Promote(); err != nil {
				return nil, err
			}
		}

		stepStart := time.Now()
		output, err = exec.Apply(ctx, step, input)
		m.opts.Metrics.observeStep(step, time.Since(stepStart), err)
		if err != nil {
			return nil, err
		}
	}

	if err := exec.RunStatements(ctx, output, m.opts.AfterMigrate); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		logger.Printf("%s: canceled before commit, store untouched", req.StorePath)
		return nil, newError(ErrCanceled, req.StorePath, err)
	}
	if err := Commit(output, req.StorePath, CommitOptions{KeepBackup: m.opts.KeepBackup}); err != nil {
		return nil, err
	}

	res.Migrated = true
	res.Duration = time.Since(start)
	logger.Printf("%s: now at %s (%s)", req.StorePath, target.Name, res.Duration.Round(time.Millisecond))
	return res, nil
}
