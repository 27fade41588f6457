// Package vfs implements the Virtual Filesystem (spec §4.3, §6): a
// SQLite-backed POSIX-like tree of nodes and chunked file content.
//
// Grounded on the teacher's pkg/fleet.SQLiteStore: sql.Open with the
// same pragma query string, an ordered migrate() of CREATE TABLE IF NOT
// EXISTS statements, and a scanner-interface row-scan helper. Every
// mutating operation here additionally wraps itself in one *sql.Tx, per
// the invariant that no partial state is ever visible to a concurrent
// reader.
package vfs

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// ChunkSize and SizeCap are the recommended implementation constants
// from spec §6.
const (
	ChunkSize = 64 * 1024
	SizeCap   = 100 * 1024 * 1024
)

// NodeType is the node_type column's CHECK-constrained value set.
type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
	NodeSymlink   NodeType = "symlink"
)

// Stat is the structured result of stat/lstat.
type Stat struct {
	Type        NodeType
	Name        string
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	AccessedAt  time.Time
	Mode        uint32
	SymlinkTo   string
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name string
	Type NodeType
}

// FS is the SQLite-backed virtual filesystem. One connection, one
// mutex, one transaction per mutating operation — mirroring the
// teacher's SQLiteStore shape.
type FS struct {
	db *sql.DB
	mu sync.Mutex

	handlesOnce  sync.Once
	handlesTable *resource.Table[*FileHandle]
}

// Open creates or opens a VFS database at path (":memory:" for an
// ephemeral store) with the pragmas spec §6 requires.
func Open(path string) (*FS, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "opening vfs database "+path)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, hosterror.Wrap(hosterror.KindFsError, err, "setting "+pragma)
		}
	}

	fsys := &FS{db: db}
	if err := fsys.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := fsys.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return fsys, nil
}

func (f *FS) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS vfs_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			parent_path TEXT,
			node_type TEXT NOT NULL CHECK (node_type IN ('file','directory','symlink')),
			size INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			modified_at DATETIME NOT NULL,
			accessed_at DATETIME NOT NULL,
			mode INTEGER NOT NULL DEFAULT 0,
			symlink_target TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vfs_nodes_path ON vfs_nodes(path)`,
		`CREATE INDEX IF NOT EXISTS idx_vfs_nodes_parent_path ON vfs_nodes(parent_path)`,
		`CREATE TABLE IF NOT EXISTS vfs_file_content (
			node_id INTEGER NOT NULL REFERENCES vfs_nodes(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content BLOB NOT NULL,
			PRIMARY KEY (node_id, chunk_index)
		)`,
	}
	for _, m := range migrations {
		if _, err := f.db.Exec(m); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "vfs migration failed")
		}
	}
	return nil
}

func (f *FS) ensureRoot() error {
	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM vfs_nodes WHERE path = '/'`).Scan(&count); err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "checking for root node")
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := f.db.Exec(`INSERT INTO vfs_nodes (path, name, parent_path, node_type, size, created_at, modified_at, accessed_at, mode)
		VALUES ('/', '/', NULL, 'directory', 0, ?, ?, ?, ?)`, now, now, now, 0o755)
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "creating root node")
	}
	return nil
}

// Close closes the underlying database connection.
func (f *FS) Close() error { return f.db.Close() }

func (f *FS) withTx(fn func(tx *sql.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.Begin()
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "committing transaction")
	}
	return nil
}

type nodeRow struct {
	id          int64
	path        string
	name        string
	parentPath  sql.NullString
	nodeType    NodeType
	size        int64
	createdAt   time.Time
	modifiedAt  time.Time
	accessedAt  time.Time
	mode        uint32
	symlinkTo   sql.NullString
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*nodeRow, error) {
	var n nodeRow
	var nodeType string
	err := row.Scan(&n.id, &n.path, &n.name, &n.parentPath, &nodeType, &n.size,
		&n.createdAt, &n.modifiedAt, &n.accessedAt, &n.mode, &n.symlinkTo)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, hosterror.New(hosterror.KindPathNotFound, "path not found")
		}
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "scanning vfs node")
	}
	n.nodeType = NodeType(nodeType)
	return &n, nil
}

const nodeColumns = `id, path, name, parent_path, node_type, size, created_at, modified_at, accessed_at, mode, symlink_target`

func (f *FS) lookupTx(tx *sql.Tx, path string) (*nodeRow, error) {
	row := tx.QueryRow(`SELECT `+nodeColumns+` FROM vfs_nodes WHERE path = ?`, path)
	return scanNode(row)
}

func (f *FS) lookup(path string) (*nodeRow, error) {
	row := f.db.QueryRow(`SELECT `+nodeColumns+` FROM vfs_nodes WHERE path = ?`, path)
	return scanNode(row)
}

func (n *nodeRow) toStat() Stat {
	s := Stat{
		Type:       n.nodeType,
		Name:       n.name,
		Size:       n.size,
		CreatedAt:  n.createdAt,
		ModifiedAt: n.modifiedAt,
		AccessedAt: n.accessedAt,
		Mode:       n.mode,
	}
	if n.symlinkTo.Valid {
		s.SymlinkTo = n.symlinkTo.String
	}
	return s
}
