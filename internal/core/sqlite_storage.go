package core

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteFactory returns a Factory backed by a single SQLite database: each
// logical name (oplog, tree, bitfield, data, data.idx) is stored as one row
// holding its bytes, giving a single-file alternative to Directory. This
// mirrors the teacher's WAL-mode, busy-timeout PRAGMA set for sqlite_store.go,
// generalized from a row-per-log-entry schema to a row-per-logical-file blob
// store suited to the Core's random-access File contract.
func SQLiteFactory(dsn string) (Factory, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("core: open sqlite storage: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("core: ping sqlite storage: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("core: set %s: %w", pragma, err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS files (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("core: create sqlite storage schema: %w", err)
	}

	return func(name string) (File, error) {
		f := &sqliteFile{db: db, name: name}
		if err := f.load(); err != nil {
			return nil, err
		}
		return f, nil
	}, nil
}

// sqliteFile adapts one row of the sqlite storage's "files" table to the
// File interface: reads/writes operate on an in-memory mirror, which Sync
// (and Close) writes back in a single transaction.
type sqliteFile struct {
	db   *sql.DB
	name string

	mu   sync.Mutex
	data []byte
}

func (f *sqliteFile) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	err := f.db.QueryRow(`SELECT data FROM files WHERE name = ?`, f.name).Scan(&data)
	if err == sql.ErrNoRows {
		if _, err := f.db.Exec(`INSERT INTO files(name, data) VALUES (?, ?)`, f.name, []byte{}); err != nil {
			return fmt.Errorf("core: init sqlite file %s: %w", f.name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("core: load sqlite file %s: %w", f.name, err)
	}
	f.data = data
	return nil
}

func (f *sqliteFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= int64(len(f.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *sqliteFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *sqliteFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *sqliteFile) Stat() (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sqliteFileInfo{name: f.name, size: int64(len(f.data))}, nil
}

func (f *sqliteFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.db.Exec(`UPDATE files SET data = ? WHERE name = ?`, f.data, f.name)
	if err != nil {
		return fmt.Errorf("core: sync sqlite file %s: %w", f.name, err)
	}
	return nil
}

// Close flushes any unsynced bytes. The underlying *sql.DB is shared across
// every logical file produced by the same SQLiteFactory call and is closed
// when the process exits, not per-file.
func (f *sqliteFile) Close() error {
	return f.Sync()
}

type sqliteFileInfo struct {
	name string
	size int64
}

func (i sqliteFileInfo) Name() string       { return i.name }
func (i sqliteFileInfo) Size() int64        { return i.size }
func (i sqliteFileInfo) Mode() os.FileMode  { return 0o600 }
func (i sqliteFileInfo) ModTime() time.Time { return time.Time{} }
func (i sqliteFileInfo) IsDir() bool        { return false }
func (i sqliteFileInfo) Sys() any           { return nil }
