package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// scratchSlot is the temporary storage one plan uses. Every step writes to
// the same output path; a finished intermediate is moved to the input path
// for the next step, replacing the previous intermediate. At most two
// scratch stores exist at any time regardless of plan length.
type scratchSlot struct {
	dir string
	id  string
}

func newScratchSlot(dir string) scratchSlot {
	if dir == "" {
		dir = os.TempDir()
	}
	return scratchSlot{dir: dir, id: "storeferry-" + uuid.NewString()}
}

func (s scratchSlot) output() string { return filepath.Join(s.dir, s.id+".sqlite") }
func (s scratchSlot) input() string  { return filepath.Join(s.dir, s.id+".in.sqlite") }

// promote turns the last output into the next step's input.
func (s scratchSlot) promote() (string, error) {
	removeStoreFiles(s.input())
	if err := os.Rename(s.output(), s.input()); err != nil {
		return "", fmt.Errorf("promote scratch output: %w", err)
	}
	return s.input(), nil
}

// discard removes everything the slot may have produced.
func (s scratchSlot) discard() {
	removeStoreFiles(s.output())
	removeStoreFiles(s.input())
}

// Executor applies single migration steps.
type Executor struct {
	catalog *Catalog
	slot    scratchSlot
	logger  *log.Logger
}

// NewExecutor returns an executor writing into a fresh scratch slot under
// scratchDir (the OS temp dir when empty).
func NewExecutor(c *Catalog, scratchDir string, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrator] ", log.LstdFlags)
	}
	return &Executor{catalog: c, slot: newScratchSlot(scratchDir), logger: logger}
}

// Apply transforms the store at src according to step and returns the path
// of the new store. src is only read. On failure the output is removed and
// the error wraps ErrStepFailed.
//
// Cancellation of ctx is not honored once the step has started writing.
func (e *Executor) Apply(ctx context.Context, step MigrationStep, src string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	out := e.slot.output()

	if err := e.apply(ctx, step, src, out); err != nil {
		removeStoreFiles(out)
		return "", &Error{Kind: ErrStepFailed, Path: src, Step: &step, Err: err}
	}

	size := "?"
	if info, err := os.Stat(out); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	e.logger.Printf("step %s done in %s (%s)", step, time.Since(start).Round(time.Millisecond), size)
	return out, nil
}

func (e *Executor) apply(ctx context.Context, step MigrationStep, src, out string) error {
	srcModel, err := LoadModel(step.Source.ModelPath)
	if err != nil {
		return fmt.Errorf("source model: %w", err)
	}
	dstModel, err := LoadModel(step.Destination.ModelPath)
	if err != nil {
		return fmt.Errorf("destination model: %w", err)
	}

	mf := &MappingFile{}
	if !step.Mapping.Inferred() {
		mf, err = LoadMapping(filepath.Join(e.catalog.Dir, step.Mapping.File))
		if err != nil {
			return err
		}
	}
	plans, err := compileMapping(mf, srcModel, dstModel)
	if err != nil {
		return fmt.Errorf("malformed mapping: %w", err)
	}

	srcDB, err := openStoreReadOnly(src)
	if err != nil {
		return err
	}
	defer srcDB.Close()

	md, err := readMetadata(ctx, srcDB)
	if err != nil {
		return fmt.Errorf("read source metadata: %w", err)
	}
	if !step.Source.IsCompatible(md) {
		return fmt.Errorf("schema mismatch: source store is not at version %q", step.Source.Name)
	}
	if err := checkSourceTables(ctx, srcDB, plans); err != nil {
		return fmt.Errorf("schema mismatch: %w", err)
	}

	removeStoreFiles(out)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	dstDB, err := openStoreReadWrite(ctx, out)
	if err != nil {
		return err
	}
	defer dstDB.Close()

	tx, err := dstDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := createSchema(ctx, tx, dstModel); err != nil {
		return err
	}
	for i := range plans {
		n, err := copyEntity(ctx, srcDB, tx, &plans[i])
		if err != nil {
			return fmt.Errorf("entity %s: %w", plans[i].dest.Name, err)
		}
		if plans[i].source != nil {
			e.logger.Printf("  %s -> %s: %d rows", plans[i].source.Name, plans[i].dest.Name, n)
		}
	}

	storeUUID := md.UUID
	if storeUUID == "" {
		storeUUID = uuid.NewString()
	}
	if err := writeMetadata(ctx, tx, storeUUID, step.Destination); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return dstDB.Close()
}

// checkSourceTables verifies the physical tables carry every modelled
// column the plan reads.
func checkSourceTables(ctx context.Context, db *sql.DB, plans []entityCopy) error {
	for _, p := range plans {
		if p.source == nil {
			continue
		}
		cols, err := tableColumns(ctx, db, p.source.Name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", p.source.Name, err)
		}
		if len(cols) == 0 {
			return fmt.Errorf("table %s is missing", p.source.Name)
		}
		for _, a := range p.source.Attributes {
			if !cols[strings.ToLower(a.Name)] {
				return fmt.Errorf("table %s has no column %s", p.source.Name, a.Name)
			}
		}
	}
	return nil
}

func copyEntity(ctx context.Context, src *sql.DB, tx *sql.Tx, p *entityCopy) (int, error) {
	if p.source == nil {
		return 0, nil
	}

	rows, err := src.QueryContext(ctx, generateSelect(p.source))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.source.Name, err)
	}
	defer rows.Close()

	ins, err := tx.PrepareContext(ctx, generateInsert(p.dest))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()

	n := 0
	vals := make([]any, len(p.source.Attributes)+1)
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("scan %s: %w", p.source.Name, err)
		}
		out, err := p.rowValues(vals)
		if err != nil {
			return n, fmt.Errorf("row %v: %w", vals[0], err)
		}
		if _, err := ins.ExecContext(ctx, out...); err != nil {
			return n, fmt.Errorf("insert row %v: %w", vals[0], err)
		}
		n++
	}
	return n, rows.Err()
}

// RunStatements executes sanitize statements against a finished scratch
// store in one transaction. Failures wrap ErrStepFailed.
func (e *Executor) RunStatements(ctx context.Context, path string, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	err := func() error {
		db, err := openStoreReadWrite(ctx, path)
		if err != nil {
			return err
		}
		defer db.Close()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := execStatements(ctx, tx, stmts); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return db.Close()
	}()
	if err != nil {
		return newError(ErrStepFailed, path, fmt.Errorf("after_migrate hooks: %w", err))
	}
	e.logger.Printf("ran %d after_migrate statements", len(stmts))
	return nil
}

// Discard removes all scratch files of this executor's plan.
func (e *Executor) Discard() { e.slot.discard() }

// Promote hands the last step's output to the next step as input.
func (e *Executor) Promote() (string, error) {
	in, err := e.slot.promote()
	if err != nil {
		return "", newError(ErrStepFailed, e.slot.output(), err)
	}
	return in, nil
}
