package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Metadata keys stored in z_metadata.
const (
	metaStoreUUID    = "store_uuid"
	metaModelVersion = "model_version"
)

// StoreMetadata is the identifying metadata embedded in a store.
type StoreMetadata struct {
	UUID string
	// VersionName is the version recorded at write time. It is informational;
	// detection relies on EntityHashes only.
	VersionName  string
	EntityHashes map[string]string
}

// StoreHandle is a store whose metadata has been read and matched.
type StoreHandle struct {
	Location string
	Metadata *StoreMetadata
	Detected *SchemaVersion
}

// sqliteReadOnlyURI builds a read-only file URI for a store path.
func sqliteReadOnlyURI(path string) string {
	return "file:" + path + "?mode=ro"
}

func openStoreReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteReadOnlyURI(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// openStoreReadWrite opens (creating if needed) a store in rollback-journal
// mode so the finished file is self-contained.
func openStoreReadWrite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=DELETE", "PRAGMA synchronous=FULL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// ReadMetadata reads the embedded metadata of the store at path.
func ReadMetadata(ctx context.Context, path string) (*StoreMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(ErrStoreUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, newError(ErrStoreUnreadable, path, fmt.Errorf("is a directory"))
	}

	db, err := openStoreReadOnly(path)
	if err != nil {
		return nil, newError(ErrStoreUnreadable, path, err)
	}
	defer db.Close()

	md, err := readMetadata(ctx, db)
	if err != nil {
		return nil, newError(ErrStoreUnreadable, path, err)
	}
	return md, nil
}

func readMetadata(ctx context.Context, db *sql.DB) (*StoreMetadata, error) {
	md := &StoreMetadata{EntityHashes: make(map[string]string)}

	rows, err := db.QueryContext(ctx, "SELECT key, value FROM z_metadata")
	if err != nil {
		return nil, fmt.Errorf("read z_metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("read z_metadata: %w", err)
		}
		switch k {
		case metaStoreUUID:
			md.UUID = v
		case metaModelVersion:
			md.VersionName = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read z_metadata: %w", err)
	}

	hrows, err := db.QueryContext(ctx, "SELECT entity, hash FROM z_entity_hashes")
	if err != nil {
		return nil, fmt.Errorf("read z_entity_hashes: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var entity, hash string
		if err := hrows.Scan(&entity, &hash); err != nil {
			return nil, fmt.Errorf("read z_entity_hashes: %w", err)
		}
		md.EntityHashes[entity] = hash
	}
	if err := hrows.Err(); err != nil {
		return nil, fmt.Errorf("read z_entity_hashes: %w", err)
	}

	if len(md.EntityHashes) == 0 {
		return nil, fmt.Errorf("store carries no entity hashes")
	}
	return md, nil
}

// writeMetadata records the version identity of a freshly written store.
func writeMetadata(ctx context.Context, tx *sql.Tx, storeUUID string, v *SchemaVersion) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO z_metadata (key, value) VALUES (?, ?), (?, ?)",
		metaStoreUUID, storeUUID, metaModelVersion, v.Name,
	); err != nil {
		return fmt.Errorf("write z_metadata: %w", err)
	}
	for entity, hash := range v.Hashes {
		if _, err := tx.ExecContext(ctx, "INSERT INTO z_entity_hashes (entity, hash) VALUES (?, ?)", entity, hash); err != nil {
			return fmt.Errorf("write z_entity_hashes: %w", err)
		}
	}
	return nil
}

// Inspect reads the store's metadata and matches it against the catalog,
// testing the most recently declared version first.
func Inspect(ctx context.Context, storePath string, c *Catalog) (*StoreHandle, error) {
	md, err := ReadMetadata(ctx, storePath)
	if err != nil {
		return nil, err
	}

	h := &StoreHandle{Location: storePath, Metadata: md}
	versions := c.Versions()
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].IsCompatible(md) {
			h.Detected = versions[i]
			return h, nil
		}
	}

	hint := ""
	if md.VersionName != "" {
		hint = fmt.Sprintf(" (store claims %q)", md.VersionName)
	}
	return nil, newError(ErrVersionUnresolvable, storePath,
		fmt.Errorf("no catalog version matches the store's entity hashes%s", hint))
}

// DetectVersion returns the catalog version the store at storePath was
// written with.
func DetectVersion(ctx context.Context, storePath string, c *Catalog) (*SchemaVersion, error) {
	h, err := Inspect(ctx, storePath, c)
	if err != nil {
		return nil, err
	}
	return h.Detected, nil
}

// CreateStore writes an empty store at path using version's model. It
// refuses to overwrite an existing file.
func CreateStore(ctx context.Context, path string, v *SchemaVersion) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create store %s: %w", path, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("create store %s: %w", path, err)
	}

	m, err := LoadModel(v.ModelPath)
	if err != nil {
		return fmt.Errorf("create store %s: %w", path, err)
	}

	if err := writeEmptyStore(ctx, path, m, v); err != nil {
		removeStoreFiles(path)
		return fmt.Errorf("create store %s: %w", path, err)
	}
	return nil
}

func writeEmptyStore(ctx context.Context, path string, m *Model, v *SchemaVersion) error {
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

	if err := createSchema(ctx, tx, m); err != nil {
		return err
	}
	if err := writeMetadata(ctx, tx, uuid.NewString(), v); err != nil {
		return err
	}
	return tx.Commit()
}

func createSchema(ctx context.Context, tx *sql.Tx, m *Model) error {
	for _, stmt := range splitStatements(metadataDDL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create metadata tables: %w", err)
		}
	}
	for i := range m.Entities {
		ddl := generateCreateTable(&m.Entities[i])
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w\nDDL: %s", m.Entities[i].Name, err, ddl)
		}
	}
	return nil
}

// storeSidecars are the files SQLite may keep next to a database.
var storeSidecars = []string{"-journal", "-wal", "-shm"}

// removeStoreFiles deletes a store and its sidecars, ignoring missing files.
func removeStoreFiles(path string) {
	os.Remove(path)
	for _, s := range storeSidecars {
		os.Remove(path + s)
	}
}

// tableColumns returns the physical column names of a store table.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid, notnull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}
