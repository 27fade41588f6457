// Package cachestorage implements the HTTP cache-storage layout from
// spec §6: a small SQLite table pair (caches, cache_entries) sharing
// the VFS's pragma and one-statement-per-call discipline.
//
// Grounded on the original cache_storage extension's CacheStorageManager
// (open-on-first-use connection, WAL pragmas, request/response JSON
// blobs keyed by a hash of method+url) and on pkg/vfs's migrate()/Open()
// shape for the Go rendition.
package cachestorage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// CachedRequest is the request half of one cache entry.
type CachedRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// CachedResponse is the response half of one cache entry.
type CachedResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	URL        string            `json:"url"`
}

// Store is the SQLite-backed cache storage, one connection shared by
// every named cache.
type Store struct {
	db *sql.DB
}

// Open opens or creates a cache-storage database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "opening cache storage database "+path)
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
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY,
			created_at INTEGER DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_name TEXT,
			request_key TEXT,
			request_data TEXT,
			response_data TEXT,
			created_at INTEGER DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (cache_name, request_key),
			FOREIGN KEY (cache_name) REFERENCES caches(name) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_cache_name ON cache_entries(cache_name)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return hosterror.Wrap(hosterror.KindFsError, err, "cache storage migration failed")
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// OpenCache creates name if it doesn't already exist, matching the Web
// CacheStorage.open semantics (idempotent).
func (s *Store) OpenCache(name string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO caches (name) VALUES (?)`, name)
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "opening cache "+name)
	}
	return nil
}

// HasCache reports whether a cache named name exists.
func (s *Store) HasCache(name string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, hosterror.Wrap(hosterror.KindFsError, err, "checking cache existence")
	}
	return count > 0, nil
}

// DeleteCache removes name and all of its entries (cascades), reporting
// whether it previously existed.
func (s *Store) DeleteCache(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, hosterror.Wrap(hosterror.KindFsError, err, "deleting cache "+name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, hosterror.Wrap(hosterror.KindFsError, err, "checking delete result")
	}
	return n > 0, nil
}

// CacheNames lists every cache, oldest first.
func (s *Store) CacheNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM caches ORDER BY created_at`)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "listing caches")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, hosterror.Wrap(hosterror.KindFsError, err, "scanning cache name")
		}
		names = append(names, name)
	}
	return names, nil
}

// requestKey mirrors generate_request_key: a hash of method+url so
// identical requests collide deterministically within a cache.
func requestKey(req CachedRequest) string {
	h := sha256.Sum256([]byte(req.Method + ":" + req.URL))
	return fmt.Sprintf("%s:%s:%x", req.Method, req.URL, h[:8])
}

// Put stores resp under req's key in cache name, overwriting any prior
// entry for the same request.
func (s *Store) Put(cacheName string, req CachedRequest, resp CachedResponse) error {
	if err := s.OpenCache(cacheName); err != nil {
		return err
	}
	reqData, err := json.Marshal(req)
	if err != nil {
		return hosterror.Wrap(hosterror.KindEncodingError, err, "serializing cache request")
	}
	respData, err := json.Marshal(resp)
	if err != nil {
		return hosterror.Wrap(hosterror.KindEncodingError, err, "serializing cache response")
	}
	_, err = s.db.Exec(`INSERT INTO cache_entries (cache_name, request_key, request_data, response_data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_name, request_key) DO UPDATE SET request_data = excluded.request_data, response_data = excluded.response_data`,
		cacheName, requestKey(req), string(reqData), string(respData))
	if err != nil {
		return hosterror.Wrap(hosterror.KindFsError, err, "storing cache entry")
	}
	return nil
}

// Match looks up req in cache name, reporting whether an entry exists.
func (s *Store) Match(cacheName string, req CachedRequest) (CachedResponse, bool, error) {
	var respData string
	err := s.db.QueryRow(`SELECT response_data FROM cache_entries WHERE cache_name = ? AND request_key = ?`,
		cacheName, requestKey(req)).Scan(&respData)
	if err == sql.ErrNoRows {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, hosterror.Wrap(hosterror.KindFsError, err, "matching cache entry")
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(respData), &resp); err != nil {
		return CachedResponse{}, false, hosterror.Wrap(hosterror.KindEncodingError, err, "decoding cached response")
	}
	return resp, true, nil
}

// MatchAll returns every entry in cache name whose request URL matches
// req.URL (ignoring method, per the Web Cache.matchAll semantics of
// defaulting to URL-only matching when no method filter is requested).
func (s *Store) MatchAll(cacheName string, req CachedRequest) ([]CachedResponse, error) {
	rows, err := s.db.Query(`SELECT request_data, response_data FROM cache_entries WHERE cache_name = ?`, cacheName)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "listing cache entries")
	}
	defer rows.Close()

	var out []CachedResponse
	for rows.Next() {
		var reqData, respData string
		if err := rows.Scan(&reqData, &respData); err != nil {
			return nil, hosterror.Wrap(hosterror.KindFsError, err, "scanning cache entry")
		}
		var storedReq CachedRequest
		if err := json.Unmarshal([]byte(reqData), &storedReq); err != nil {
			return nil, hosterror.Wrap(hosterror.KindEncodingError, err, "decoding cached request")
		}
		if storedReq.URL != req.URL {
			continue
		}
		var resp CachedResponse
		if err := json.Unmarshal([]byte(respData), &resp); err != nil {
			return nil, hosterror.Wrap(hosterror.KindEncodingError, err, "decoding cached response")
		}
		out = append(out, resp)
	}
	return out, nil
}

// Delete removes req's entry from cache name, reporting whether it
// previously existed.
func (s *Store) Delete(cacheName string, req CachedRequest) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_name = ? AND request_key = ?`, cacheName, requestKey(req))
	if err != nil {
		return false, hosterror.Wrap(hosterror.KindFsError, err, "deleting cache entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, hosterror.Wrap(hosterror.KindFsError, err, "checking delete result")
	}
	return n > 0, nil
}

// Keys lists every request stored in cache name.
func (s *Store) Keys(cacheName string) ([]CachedRequest, error) {
	rows, err := s.db.Query(`SELECT request_data FROM cache_entries WHERE cache_name = ? ORDER BY created_at`, cacheName)
	if err != nil {
		return nil, hosterror.Wrap(hosterror.KindFsError, err, "listing cache keys")
	}
	defer rows.Close()

	var out []CachedRequest
	for rows.Next() {
		var reqData string
		if err := rows.Scan(&reqData); err != nil {
			return nil, hosterror.Wrap(hosterror.KindFsError, err, "scanning cache key")
		}
		var req CachedRequest
		if err := json.Unmarshal([]byte(reqData), &req); err != nil {
			return nil, hosterror.Wrap(hosterror.KindEncodingError, err, "decoding cache key")
		}
		out = append(out, req)
	}
	return out, nil
}
