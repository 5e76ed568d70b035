package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	apperrors "github.com/pkazakov/vecsync/internal/errors"
	"github.com/pkazakov/vecsync/internal/fragment"
)

const dbFileName = "vecsync.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dims INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fragments (
		collection  TEXT    NOT NULL,
		id          TEXT    NOT NULL,
		path        TEXT    NOT NULL,
		fingerprint TEXT    NOT NULL,
		ordinal     INTEGER NOT NULL,
		total       INTEGER NOT NULL,
		text        TEXT    NOT NULL,
		preview     TEXT    NOT NULL,
		word_start  INTEGER NOT NULL,
		word_end    INTEGER NOT NULL,
		char_start  INTEGER NOT NULL,
		char_end    INTEGER NOT NULL,
		vector      BLOB    NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fragments_path ON fragments (collection, path)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
}

// LocalStore is the SQLite-backed IndexStore. Fragment rows and vectors
// are durable; per-collection HNSW graphs are rebuilt from the rows on
// open. A file lock on the data directory keeps a second process out.
type LocalStore struct {
	db       *sql.DB
	dataDir  string
	fileLock *flock.Flock
	log      *slog.Logger

	mu      sync.RWMutex
	indexes map[string]*vectorIndex
	dims    map[string]int
	closed  bool
}

var _ IndexStore = (*LocalStore)(nil)

// OpenLocal opens (creating if needed) the store under dataDir.
func OpenLocal(ctx context.Context, dataDir string, log *slog.Logger) (*LocalStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.IndexStoreError("create data directory", err)
	}

	fileLock := flock.New(filepath.Join(dataDir, "vecsync.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, apperrors.IndexStoreError("acquire data directory lock", err)
	}
	if !locked {
		return nil, apperrors.IndexStoreError(
			fmt.Sprintf("data directory %s is locked by another process", dataDir), nil)
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, apperrors.IndexStoreError("open database", err)
	}

	// single writer avoids lock contention under modernc.org/sqlite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			_ = fileLock.Unlock()
			return nil, apperrors.IndexStoreError("configure database", err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			_ = fileLock.Unlock()
			return nil, apperrors.IndexStoreError("create schema", err)
		}
	}

	s := &LocalStore{
		db:       db,
		dataDir:  dataDir,
		fileLock: fileLock,
		log:      log,
		indexes:  make(map[string]*vectorIndex),
		dims:     make(map[string]int),
	}

	if err := s.rebuildIndexes(ctx); err != nil {
		_ = db.Close()
		_ = fileLock.Unlock()
		return nil, err
	}

	return s, nil
}

// rebuildIndexes loads every collection's vectors into fresh HNSW graphs.
func (s *LocalStore) rebuildIndexes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, dims FROM collections`)
	if err != nil {
		return apperrors.IndexStoreError("load collections", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		var dims int
		if err := rows.Scan(&name, &dims); err != nil {
			return apperrors.IndexStoreError("scan collection row", err)
		}
		s.indexes[name] = newVectorIndex(dims)
		s.dims[name] = dims
	}
	if err := rows.Err(); err != nil {
		return apperrors.IndexStoreError("iterate collections", err)
	}

	for name, idx := range s.indexes {
		vecRows, err := s.db.QueryContext(ctx,
			`SELECT id, vector FROM fragments WHERE collection = ?`, name)
		if err != nil {
			return apperrors.IndexStoreError("load vectors", err)
		}

		count := 0
		for vecRows.Next() {
			var id string
			var blob []byte
			if err := vecRows.Scan(&id, &blob); err != nil {
				_ = vecRows.Close()
				return apperrors.IndexStoreError("scan vector row", err)
			}
			idx.add(id, decodeVector(blob))
			count++
		}
		if err := vecRows.Err(); err != nil {
			_ = vecRows.Close()
			return apperrors.IndexStoreError("iterate vectors", err)
		}
		_ = vecRows.Close()

		s.log.Debug("rebuilt vector index",
			slog.String("collection", name),
			slog.Int("fragments", count))
	}

	return nil
}

// EnsureCollection creates the collection if absent.
func (s *LocalStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	if dims <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid dimensions %d", dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	if existing, ok := s.dims[name]; ok {
		if existing != dims {
			return apperrors.IndexStoreError(
				fmt.Sprintf("collection %s exists with dimensions %d, requested %d", name, existing, dims), nil)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dims) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, dims); err != nil {
		return apperrors.IndexStoreError("create collection", err)
	}

	s.indexes[name] = newVectorIndex(dims)
	s.dims[name] = dims
	return nil
}

// DeleteCollection removes the collection and its fragments.
func (s *LocalStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.IndexStoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE collection = ?`, name); err != nil {
		return apperrors.IndexStoreError("delete collection fragments", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return apperrors.IndexStoreError("delete collection", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.IndexStoreError("commit transaction", err)
	}

	delete(s.indexes, name)
	delete(s.dims, name)
	return nil
}

// Collections lists collection names.
func (s *LocalStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}

	names := make([]string, 0, len(s.dims))
	for name := range s.dims {
		names = append(names, name)
	}
	return names, nil
}

// UpsertFragments stores fragments and their vectors in one transaction,
// then updates the in-memory index. The row write commits before the
// graph update so a crash between the two is repaired by the rebuild on
// next open.
func (s *LocalStore) UpsertFragments(ctx context.Context, collection string, frags []fragment.Fragment, vectors [][]float32) error {
	if len(frags) != len(vectors) {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"fragments and vectors length mismatch: %d vs %d", len(frags), len(vectors))
	}
	if len(frags) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	idx, ok := s.indexes[collection]
	if !ok {
		return errUnknownCollection(collection)
	}
	dims := s.dims[collection]
	for i, vec := range vectors {
		if len(vec) != dims {
			return apperrors.Newf(apperrors.ErrCodeInvalidInput,
				"vector %d has %d dimensions, collection %s expects %d", i, len(vec), collection, dims)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.IndexStoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments
			(collection, id, path, fingerprint, ordinal, total, text, preview,
			 word_start, word_end, char_start, char_end, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			path = excluded.path,
			fingerprint = excluded.fingerprint,
			ordinal = excluded.ordinal,
			total = excluded.total,
			text = excluded.text,
			preview = excluded.preview,
			word_start = excluded.word_start,
			word_end = excluded.word_end,
			char_start = excluded.char_start,
			char_end = excluded.char_end,
			vector = excluded.vector`)
	if err != nil {
		return apperrors.IndexStoreError("prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, f := range frags {
		if _, err := stmt.ExecContext(ctx,
			collection, f.ID, f.Path, f.Fingerprint, f.Ordinal, f.Total,
			f.Text, f.Preview, f.WordStart, f.WordEnd, f.CharStart, f.CharEnd,
			encodeVector(vectors[i])); err != nil {
			return apperrors.IndexStoreError("upsert fragment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.IndexStoreError("commit transaction", err)
	}

	for i, f := range frags {
		idx.add(f.ID, vectors[i])
	}
	return nil
}

// DeleteFragments removes fragments by ID.
func (s *LocalStore) DeleteFragments(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	idx, ok := s.indexes[collection]
	if !ok {
		return errUnknownCollection(collection)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.IndexStoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fragments WHERE collection = ? AND id = ?`)
	if err != nil {
		return apperrors.IndexStoreError("prepare delete", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, collection, id); err != nil {
			return apperrors.IndexStoreError("delete fragment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.IndexStoreError("commit transaction", err)
	}

	idx.remove(ids)
	return nil
}

// FragmentsByPath returns all fragments indexed for a source path.
func (s *LocalStore) FragmentsByPath(ctx context.Context, collection, path string) ([]fragment.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}
	if _, ok := s.dims[collection]; !ok {
		return nil, errUnknownCollection(collection)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, fingerprint, ordinal, total, text, preview,
		       word_start, word_end, char_start, char_end
		FROM fragments
		WHERE collection = ? AND path = ?
		ORDER BY ordinal`, collection, path)
	if err != nil {
		return nil, apperrors.IndexStoreError("query fragments by path", err)
	}
	defer func() { _ = rows.Close() }()

	var frags []fragment.Fragment
	for rows.Next() {
		var f fragment.Fragment
		if err := rows.Scan(&f.ID, &f.Path, &f.Fingerprint, &f.Ordinal, &f.Total,
			&f.Text, &f.Preview, &f.WordStart, &f.WordEnd, &f.CharStart, &f.CharEnd); err != nil {
			return nil, apperrors.IndexStoreError("scan fragment row", err)
		}
		frags = append(frags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.IndexStoreError("iterate fragments", err)
	}
	return frags, nil
}

// RenamePath rebinds fragments of oldPath to newPath.
func (s *LocalStore) RenamePath(ctx context.Context, collection, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	if _, ok := s.dims[collection]; !ok {
		return errUnknownCollection(collection)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE fragments SET path = ? WHERE collection = ? AND path = ?`,
		newPath, collection, oldPath); err != nil {
		return apperrors.IndexStoreError("rename path", err)
	}
	return nil
}

// Search returns the closest fragments above minScore.
func (s *LocalStore) Search(ctx context.Context, collection string, vector []float32, limit int, minScore float64) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}

	idx, ok := s.indexes[collection]
	if !ok {
		return nil, errUnknownCollection(collection)
	}
	if len(vector) != s.dims[collection] {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"query vector has %d dimensions, collection %s expects %d",
			len(vector), collection, s.dims[collection])
	}

	hits := idx.search(vector, limit, minScore)
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		var f fragment.Fragment
		err := s.db.QueryRowContext(ctx, `
			SELECT id, path, fingerprint, ordinal, total, text, preview,
			       word_start, word_end, char_start, char_end
			FROM fragments WHERE collection = ? AND id = ?`, collection, hit.id).
			Scan(&f.ID, &f.Path, &f.Fingerprint, &f.Ordinal, &f.Total,
				&f.Text, &f.Preview, &f.WordStart, &f.WordEnd, &f.CharStart, &f.CharEnd)
		if err == sql.ErrNoRows {
			// graph momentarily ahead of a concurrent delete
			continue
		}
		if err != nil {
			return nil, apperrors.IndexStoreError("load search hit", err)
		}
		results = append(results, SearchResult{Fragment: f, Score: hit.score})
	}
	return results, nil
}

// CountFragments returns the number of fragments in a collection.
func (s *LocalStore) CountFragments(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errStoreClosed()
	}
	if _, ok := s.dims[collection]; !ok {
		return 0, errUnknownCollection(collection)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fragments WHERE collection = ?`, collection).Scan(&count); err != nil {
		return 0, apperrors.IndexStoreError("count fragments", err)
	}
	return count, nil
}

// GetMetadata returns the blob stored under key.
func (s *LocalStore) GetMetadata(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errStoreClosed()
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.IndexStoreError("get metadata", err)
	}
	return blob, true, nil
}

// PutMetadata stores a blob under key.
func (s *LocalStore) PutMetadata(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, blob); err != nil {
		return apperrors.IndexStoreError("put metadata", err)
	}
	return nil
}

// Close closes the database and releases the directory lock.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.db.Close()
	if unlockErr := s.fileLock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	if err != nil {
		return apperrors.IndexStoreError("close store", err)
	}
	return nil
}

func errStoreClosed() error {
	return apperrors.IndexStoreError("store is closed", nil)
}

func errUnknownCollection(name string) error {
	return apperrors.IndexStoreError(fmt.Sprintf("unknown collection %s", name), nil)
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
