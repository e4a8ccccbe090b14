package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driftware/recall/internal/vec"
)

// ErrClosed is returned when a store method is called before Open or after
// Close. This is a programming-contract violation, never retried.
var ErrClosed = errors.New("store: not open")

// ErrNotFound is returned when a row lookup misses.
var ErrNotFound = errors.New("store: not found")

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
	closed atomic.Bool
}

func (d *DB) conn() (*sql.DB, error) {
	if d == nil || d.DB == nil || d.closed.Load() {
		return nil, ErrClosed
	}
	return d.DB, nil
}

// Close closes the underlying connection. Any store call after Close
// returns ErrClosed.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.DB.Close()
}

// Engine is the single façade over the embedded relational file. It holds
// one sub-component per concern; all share the same sequential connection,
// and each store call commits independently.
type Engine struct {
	db *DB

	Documents *DocumentStore
	Memories  *MemoryStore
	Cache     *EmbeddingCacheStore
	Sessions  *SessionStore
	Meta      *MetaStore
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, migrates legacy JSON embeddings to the binary codec, and
// configures WAL mode for concurrent reads.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Engine, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sdb, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sdb.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(ctx, sdb); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	db := &DB{DB: sdb}
	eng := &Engine{
		db:        db,
		Documents: &DocumentStore{db: db, logger: logger},
		Memories:  &MemoryStore{db: db, logger: logger},
		Cache:     &EmbeddingCacheStore{db: db},
		Sessions:  &SessionStore{db: db},
		Meta:      &MetaStore{db: db},
	}

	if err := migrateLegacyEmbeddings(ctx, sdb, logger); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("migrate legacy embeddings: %w", err)
	}

	return eng, nil
}

// Close closes the underlying database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  metadata TEXT,
  embedding BLOB,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  text TEXT NOT NULL,
  category TEXT NOT NULL,
  importance REAL NOT NULL,
  source TEXT NOT NULL,
  session_id TEXT,
  embedding BLOB,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  expires_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_user_category ON memories(user_id, category);
CREATE INDEX IF NOT EXISTS idx_memories_expires_at ON memories(expires_at);

CREATE TABLE IF NOT EXISTS embedding_cache (
  provider TEXT NOT NULL,
  model TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (provider, model, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated ON embedding_cache(updated_at);

CREATE TABLE IF NOT EXISTS session_chunks (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  text TEXT NOT NULL,
  embedding BLOB,
  start_msg INTEGER NOT NULL,
  end_msg INTEGER NOT NULL,
  metadata TEXT,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_chunks_session ON session_chunks(session_id);

CREATE TABLE IF NOT EXISTS session_hashes (
  session_id TEXT PRIMARY KEY,
  content_hash TEXT NOT NULL,
  chunk_count INTEGER NOT NULL,
  message_count INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// FTS5 virtual tables and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	// go-sqlite3 only compiles the fts5 module behind the sqlite_fts5 build
	// tag (see Makefile); without it these statements fail at open.
	fts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
  text, content='documents', content_rowid='rowid'
);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
  text, content='memories', content_rowid='rowid'
);`,
	}
	for _, f := range fts {
		if _, err := db.ExecContext(ctx, f); err != nil {
			return fmt.Errorf("create fts table: %w", err)
		}
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
  INSERT INTO documents_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
  INSERT INTO documents_fts(documents_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
  INSERT INTO documents_fts(documents_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
  INSERT INTO documents_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
  INSERT INTO memories_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
  INSERT INTO memories_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// migrateLegacyEmbeddings rewrites embeddings stored as JSON float arrays
// into the binary little-endian codec. Runs batch-wise per table on open;
// rows that fail to decode are left in place and counted.
func migrateLegacyEmbeddings(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	const batchSize = 500

	for _, table := range []string{"documents", "memories", "session_chunks"} {
		migrated, failed := 0, 0
		var cursor int64
		for {
			// CAST normalizes the storage class: legacy rows may hold the JSON
			// as either TEXT or BLOB, and a BLOB never compares equal to a
			// text literal.
			rows, err := db.QueryContext(ctx, fmt.Sprintf(`
				SELECT rowid, embedding FROM %s
				WHERE rowid > ? AND embedding IS NOT NULL AND substr(CAST(embedding AS TEXT), 1, 1) = '['
				ORDER BY rowid LIMIT %d
			`, table, batchSize), cursor)
			if err != nil {
				return fmt.Errorf("scan %s for legacy rows: %w", table, err)
			}

			type pending struct {
				rowid int64
				blob  []byte
			}
			var batch []pending
			for rows.Next() {
				var p pending
				if err := rows.Scan(&p.rowid, &p.blob); err != nil {
					rows.Close()
					return fmt.Errorf("scan legacy row: %w", err)
				}
				batch = append(batch, p)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			cursor = batch[len(batch)-1].rowid

			for _, p := range batch {
				v, err := vec.FromLegacyJSON(p.blob)
				if err != nil || len(v) == 0 {
					// Leave the row in place; the binary reader skips it.
					failed++
					continue
				}
				if _, err := db.ExecContext(ctx,
					fmt.Sprintf("UPDATE %s SET embedding = ? WHERE rowid = ?", table),
					vec.ToBytes(v), p.rowid); err != nil {
					return fmt.Errorf("rewrite embedding: %w", err)
				}
				migrated++
			}
		}
		if migrated > 0 || failed > 0 {
			logger.Info("migrated legacy embeddings",
				"table", table, "migrated", migrated, "failed", failed)
		}
	}
	return nil
}
