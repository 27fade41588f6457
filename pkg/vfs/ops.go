package vfs

import (
	"database/sql"
	"time"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// FileHandle is an open file's read/write cursor, reachable only through
// its resource.Rid.
type FileHandle struct {
	path     string
	readable bool
	writable bool
	append   bool
	cursor   int64
}

// handles backs OpenFile/CreateFile, mirroring the resource table the
// sobek agent uses for promise capabilities.
func (f *FS) handles() *resource.Table[*FileHandle] {
	f.handlesOnce.Do(func() { f.handlesTable = resource.NewTable[*FileHandle]() })
	return f.handlesTable
}

// ReadTextFile reads the whole file at path as UTF-8 text.
func (f *FS) ReadTextFile(path string) (string, error) {
	data, err := f.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteTextFile creates or truncates path and writes text to it.
func (f *FS) WriteTextFile(path, text string) error {
	return f.WriteFile(path, []byte(text))
}

// ReadFile reads the whole file at path.
func (f *FS) ReadFile(path string) ([]byte, error) {
	norm := normalize(path)
	var content []byte
	err := f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		if node.nodeType != NodeFile {
			return hosterror.New(hosterror.KindNotAFile, "not a file: "+norm)
		}
		content, err = readChunks(tx, node.id, node.size)
		if err != nil {
			return err
		}
		return touchAccessed(tx, node.id)
	})
	return content, err
}

// WriteFile creates path (auto-creating missing ancestor directories) or
// truncates and rewrites it, replacing all content. Both the ancestor
// creation and the store-wide size cap check happen inside the same
// transaction as the write itself, so a rejected write leaves no trace:
// no directory created, no row touched.
func (f *FS) WriteFile(path string, data []byte) error {
	if int64(len(data)) > SizeCap {
		return hosterror.Newf(hosterror.KindFilesystemSizeExceeded, "file exceeds size cap of %d bytes", SizeCap)
	}
	norm := normalize(path)
	parentPath, name := split(norm)

	return f.withTx(func(tx *sql.Tx) error {
		if norm != "/" {
			if _, err := f.lookupTx(tx, parentPath); err != nil {
				if !hosterror.Is(err, hosterror.KindPathNotFound) {
					return err
				}
				if err := f.mkDirAllTx(tx, parentPath); err != nil {
					return err
				}
			}
		}

		parent, err := f.lookupTx(tx, parentPath)
		if err != nil {
			return err
		}
		if parent.nodeType != NodeDirectory {
			return hosterror.New(hosterror.KindNotADirectory, "parent is not a directory: "+parentPath)
		}

		existing, existsErr := f.lookupTx(tx, norm)
		var replaced int64
		switch {
		case existsErr == nil:
			if existing.nodeType != NodeFile {
				return hosterror.New(hosterror.KindNotAFile, "not a file: "+norm)
			}
			replaced = existing.size
		case hosterror.Is(existsErr, hosterror.KindPathNotFound):
			// creating a new file, nothing of its own to exclude from the total
		default:
			return existsErr
		}

		var total int64
		if err := tx.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM vfs_nodes WHERE node_type = 'file'`).Scan(&total); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "summing filesystem content size")
		}
		if total-replaced+int64(len(data)) > SizeCap {
			return hosterror.Newf(hosterror.KindFilesystemSizeExceeded, "write would exceed filesystem size cap of %d bytes", SizeCap)
		}

		now := time.Now().UTC()
		var nodeID int64
		if existsErr == nil {
			nodeID = existing.id
			if _, err := tx.Exec(`DELETE FROM vfs_file_content WHERE node_id = ?`, nodeID); err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "clearing previous file content")
			}
			if _, err := tx.Exec(`UPDATE vfs_nodes SET size = ?, modified_at = ?, accessed_at = ? WHERE id = ?`,
				len(data), now, now, nodeID); err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "updating file node")
			}
		} else {
			res, err := tx.Exec(`INSERT INTO vfs_nodes (path, name, parent_path, node_type, size, created_at, modified_at, accessed_at, mode)
				VALUES (?, ?, ?, 'file', ?, ?, ?, ?, ?)`, norm, name, parentPath, len(data), now, now, now, 0o644)
			if err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "inserting file node")
			}
			nodeID, _ = res.LastInsertId()
		}

		return writeChunks(tx, nodeID, data)
	})
}

// CreateFile creates a new, empty file at path and returns an open,
// readable+writable handle to it.
func (f *FS) CreateFile(path string) (resource.Rid, error) {
	norm := normalize(path)
	if f.Exists(norm) {
		return 0, hosterror.New(hosterror.KindPathAlreadyExists, "already exists: "+norm)
	}
	if err := f.WriteFile(norm, nil); err != nil {
		return 0, err
	}
	h := &FileHandle{path: norm, readable: true, writable: true}
	return f.handles().Push(h), nil
}

// OpenFile opens an existing file at path for reading and optionally
// writing/appending.
func (f *FS) OpenFile(path string, writable, appendMode bool) (resource.Rid, error) {
	norm := normalize(path)
	node, err := f.lookup(norm)
	if err != nil {
		return 0, err
	}
	if node.nodeType != NodeFile {
		return 0, hosterror.New(hosterror.KindNotAFile, "not a file: "+norm)
	}
	cursor := int64(0)
	if appendMode {
		cursor = node.size
	}
	h := &FileHandle{path: norm, readable: true, writable: writable, append: appendMode, cursor: cursor}
	return f.handles().Push(h), nil
}

// CloseHandle releases an open file handle.
func (f *FS) CloseHandle(rid resource.Rid) error {
	if _, ok := f.handles().Remove(rid); !ok {
		return hosterror.New(hosterror.KindResourceError, "no such file handle")
	}
	return nil
}

// MkDir creates a single directory; the parent must already exist.
func (f *FS) MkDir(path string) error {
	norm := normalize(path)
	return f.withTx(func(tx *sql.Tx) error {
		return f.mkDirTx(tx, norm)
	})
}

// mkDirTx is MkDir's body, usable from inside a caller's own transaction
// (WriteFile's ancestor-creation path) as well as from MkDir itself.
func (f *FS) mkDirTx(tx *sql.Tx, norm string) error {
	parentPath, name := split(norm)
	if _, err := f.lookupTx(tx, norm); err == nil {
		return hosterror.New(hosterror.KindPathAlreadyExists, "already exists: "+norm)
	}
	parent, err := f.lookupTx(tx, parentPath)
	if err != nil {
		return err
	}
	if parent.nodeType != NodeDirectory {
		return hosterror.New(hosterror.KindNotADirectory, "parent is not a directory: "+parentPath)
	}
	now := time.Now().UTC()
	_, err = tx.Exec(`INSERT INTO vfs_nodes (path, name, parent_path, node_type, size, created_at, modified_at, accessed_at, mode)
		VALUES (?, ?, ?, 'directory', 0, ?, ?, ?, ?)`, norm, name, parentPath, now, now, now, 0o755)
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "inserting directory node")
	}
	return nil
}

// MkDirAll creates path and any missing ancestor directories.
func (f *FS) MkDirAll(path string) error {
	norm := normalize(path)
	if norm == "/" {
		return nil
	}
	return f.withTx(func(tx *sql.Tx) error {
		return f.mkDirAllTx(tx, norm)
	})
}

// mkDirAllTx is MkDirAll's body, usable from inside a caller's own
// transaction.
func (f *FS) mkDirAllTx(tx *sql.Tx, norm string) error {
	cur := "/"
	for _, seg := range splitSegments(norm) {
		cur = join(cur, seg)
		if err := f.mkDirTx(tx, cur); err != nil && !hosterror.Is(err, hosterror.KindPathAlreadyExists) {
			return err
		}
	}
	return nil
}

func splitSegments(normalized string) []string {
	var out []string
	start := 1 // skip leading '/'
	for i := 1; i <= len(normalized); i++ {
		if i == len(normalized) || normalized[i] == '/' {
			if i > start {
				out = append(out, normalized[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// ReadDir lists the immediate children of path.
func (f *FS) ReadDir(path string) ([]DirEntry, error) {
	norm := normalize(path)
	var entries []DirEntry
	err := f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		if node.nodeType != NodeDirectory {
			return hosterror.New(hosterror.KindNotADirectory, "not a directory: "+norm)
		}
		rows, err := tx.Query(`SELECT name, node_type FROM vfs_nodes WHERE parent_path = ? ORDER BY name`, norm)
		if err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "listing directory")
		}
		defer rows.Close()
		for rows.Next() {
			var name, nodeType string
			if err := rows.Scan(&name, &nodeType); err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "scanning directory entry")
			}
			entries = append(entries, DirEntry{Name: name, Type: NodeType(nodeType)})
		}
		return touchAccessed(tx, node.id)
	})
	return entries, err
}

// Remove deletes a single file, empty directory, or symlink at path. The
// root may never be removed.
func (f *FS) Remove(path string) error {
	norm := normalize(path)
	if norm == "/" {
		return hosterror.New(hosterror.KindInvalidPath, "cannot remove root")
	}
	return f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		if node.nodeType == NodeDirectory {
			var count int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM vfs_nodes WHERE parent_path = ?`, norm).Scan(&count); err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "checking directory contents")
			}
			if count > 0 {
				return hosterror.New(hosterror.KindDirectoryNotEmpty, "directory not empty: "+norm)
			}
		}
		if _, err := tx.Exec(`DELETE FROM vfs_nodes WHERE id = ?`, node.id); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "deleting node")
		}
		return nil
	})
}

// RemoveAll deletes path and, if it is a directory, everything beneath it.
func (f *FS) RemoveAll(path string) error {
	norm := normalize(path)
	if norm == "/" {
		return hosterror.New(hosterror.KindInvalidPath, "cannot remove root")
	}
	return f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		if node.nodeType == NodeDirectory {
			if _, err := tx.Exec(`DELETE FROM vfs_nodes WHERE path = ? OR path LIKE ?`, norm, norm+"/%"); err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "deleting subtree")
			}
			return nil
		}
		if _, err := tx.Exec(`DELETE FROM vfs_nodes WHERE id = ?`, node.id); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "deleting node")
		}
		return nil
	})
}

// Rename moves the node at src to dst, rewriting parent_path for every
// descendant if src is a directory, per the integrity invariant.
func (f *FS) Rename(src, dst string) error {
	srcNorm, dstNorm := normalize(src), normalize(dst)
	if srcNorm == "/" {
		return hosterror.New(hosterror.KindInvalidPath, "cannot rename root")
	}
	return f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, srcNorm)
		if err != nil {
			return err
		}
		if _, err := f.lookupTx(tx, dstNorm); err == nil {
			return hosterror.New(hosterror.KindPathAlreadyExists, "already exists: "+dstNorm)
		}
		dstParent, dstName := split(dstNorm)
		if _, err := f.lookupTx(tx, dstParent); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(`UPDATE vfs_nodes SET path = ?, name = ?, parent_path = ?, modified_at = ? WHERE id = ?`,
			dstNorm, dstName, dstParent, now, node.id); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "renaming node")
		}

		if node.nodeType == NodeDirectory {
			rows, err := tx.Query(`SELECT id, path, parent_path FROM vfs_nodes WHERE path LIKE ?`, srcNorm+"/%")
			if err != nil {
				return hosterror.Wrap(hosterror.KindFsError, err, "listing descendants")
			}
			type desc struct {
				id         int64
				path       string
				parentPath string
			}
			var descs []desc
			for rows.Next() {
				var d desc
				if err := rows.Scan(&d.id, &d.path, &d.parentPath); err != nil {
					rows.Close()
					return hosterror.Wrap(hosterror.KindFsError, err, "scanning descendant")
				}
				descs = append(descs, d)
			}
			rows.Close()

			for _, d := range descs {
				newPath := dstNorm + d.path[len(srcNorm):]
				newParent := dstNorm + d.parentPath[len(srcNorm):]
				if _, err := tx.Exec(`UPDATE vfs_nodes SET path = ?, parent_path = ? WHERE id = ?`, newPath, newParent, d.id); err != nil {
					return hosterror.Wrap(hosterror.KindFsError, err, "rewriting descendant path")
				}
			}
		}
		return nil
	})
}

// CopyFile copies src's content to a new file at dst, which must not
// already exist.
func (f *FS) CopyFile(src, dst string) error {
	dstNorm := normalize(dst)
	if f.Exists(dstNorm) {
		return hosterror.New(hosterror.KindPathAlreadyExists, "already exists: "+dstNorm)
	}
	data, err := f.ReadFile(src)
	if err != nil {
		return err
	}
	return f.WriteFile(dstNorm, data)
}

// Stat returns metadata for path, following a trailing symlink.
func (f *FS) Stat(path string) (Stat, error) {
	node, err := f.resolveSymlinks(normalize(path), 0)
	if err != nil {
		return Stat{}, err
	}
	return node.toStat(), nil
}

// LStat returns metadata for path without following a trailing symlink.
func (f *FS) LStat(path string) (Stat, error) {
	node, err := f.lookup(normalize(path))
	if err != nil {
		return Stat{}, err
	}
	return node.toStat(), nil
}

const maxSymlinkDepth = 40

func (f *FS) resolveSymlinks(path string, depth int) (*nodeRow, error) {
	if depth > maxSymlinkDepth {
		return nil, hosterror.New(hosterror.KindCircularSymlink, "too many levels of symbolic links: "+path)
	}
	node, err := f.lookup(path)
	if err != nil {
		return nil, err
	}
	if node.nodeType != NodeSymlink {
		return node, nil
	}
	target := node.symlinkTo.String
	if len(target) == 0 || target[0] != '/' {
		parentPath, _ := split(path)
		target = join(parentPath, target)
	}
	return f.resolveSymlinks(normalize(target), depth+1)
}

// Exists reports whether path names any node.
func (f *FS) Exists(path string) bool {
	_, err := f.lookup(normalize(path))
	return err == nil
}

// Truncate resizes the file at path to length bytes, zero-padding or
// cutting as needed.
func (f *FS) Truncate(path string, length int64) error {
	norm := normalize(path)
	return f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		if node.nodeType != NodeFile {
			return hosterror.New(hosterror.KindNotAFile, "not a file: "+norm)
		}
		content, err := readChunks(tx, node.id, node.size)
		if err != nil {
			return err
		}
		resized := make([]byte, length)
		copy(resized, content)
		if _, err := tx.Exec(`DELETE FROM vfs_file_content WHERE node_id = ?`, node.id); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "clearing content for truncate")
		}
		if err := writeChunks(tx, node.id, resized); err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.Exec(`UPDATE vfs_nodes SET size = ?, modified_at = ? WHERE id = ?`, length, now, node.id)
		if err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "updating size after truncate")
		}
		return nil
	})
}

// Chmod sets path's permission bits.
func (f *FS) Chmod(path string, mode uint32) error {
	norm := normalize(path)
	return f.withTx(func(tx *sql.Tx) error {
		node, err := f.lookupTx(tx, norm)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.Exec(`UPDATE vfs_nodes SET mode = ?, modified_at = ? WHERE id = ?`, mode, now, node.id)
		if err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "chmod")
		}
		return nil
	})
}

// Symlink creates a symlink at linkPath pointing at target.
func (f *FS) Symlink(target, linkPath string) error {
	norm := normalize(linkPath)
	parentPath, name := split(norm)
	return f.withTx(func(tx *sql.Tx) error {
		if _, err := f.lookupTx(tx, norm); err == nil {
			return hosterror.New(hosterror.KindPathAlreadyExists, "already exists: "+norm)
		}
		parent, err := f.lookupTx(tx, parentPath)
		if err != nil {
			return err
		}
		if parent.nodeType != NodeDirectory {
			return hosterror.New(hosterror.KindNotADirectory, "parent is not a directory: "+parentPath)
		}
		now := time.Now().UTC()
		_, err = tx.Exec(`INSERT INTO vfs_nodes (path, name, parent_path, node_type, size, created_at, modified_at, accessed_at, mode, symlink_target)
			VALUES (?, ?, ?, 'symlink', 0, ?, ?, ?, ?, ?)`, norm, name, parentPath, now, now, now, 0o777, target)
		if err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "inserting symlink node")
		}
		return nil
	})
}

// ReadLink returns the raw target string stored at a symlink node.
func (f *FS) ReadLink(path string) (string, error) {
	node, err := f.lookup(normalize(path))
	if err != nil {
		return "", err
	}
	if node.nodeType != NodeSymlink {
		return "", hosterror.New(hosterror.KindNotASymlink, "not a symlink: "+path)
	}
	return node.symlinkTo.String, nil
}

// RealPath fully resolves path, following every symlink along the way,
// and returns the canonical normalized path of the final target.
func (f *FS) RealPath(path string) (string, error) {
	node, err := f.resolveSymlinks(normalize(path), 0)
	if err != nil {
		return "", err
	}
	return node.path, nil
}

func touchAccessed(tx *sql.Tx, nodeID int64) error {
	_, err := tx.Exec(`UPDATE vfs_nodes SET accessed_at = ? WHERE id = ?`, time.Now().UTC(), nodeID)
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "updating accessed_at")
	}
	return nil
}

func readChunks(tx *sql.Tx, nodeID, size int64) ([]byte, error) {
	rows, err := tx.Query(`SELECT content FROM vfs_file_content WHERE node_id = ? ORDER BY chunk_index`, nodeID)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "reading file content")
	}
	defer rows.Close()
	out := make([]byte, 0, size)
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return nil, hosterror.Wrap(hosterror.KindFsError, err, "scanning file chunk")
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func writeChunks(tx *sql.Tx, nodeID int64, data []byte) error {
	for start, i := 0, 0; start < len(data); start, i = start+ChunkSize, i+1 {
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := tx.Exec(`INSERT INTO vfs_file_content (node_id, chunk_index, content) VALUES (?, ?, ?)`,
			nodeID, i, data[start:end]); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "writing file chunk")
		}
	}
	return nil
}
