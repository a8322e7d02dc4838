package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/internal/profile"
	"github.com/kinshiphq/kinship/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL-backed store driver. Requires the pgvector
// extension to be installed in the target database.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// Pool sizing for a small per-owner workload: a handful of concurrent
	// searches plus one background reindex loop.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_catalog = current_database() AND table_name = 'vector_document' AND table_type = 'BASE TABLE')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

// Migrate creates the vector_document table and its indexes. The partial
// unique index is what enforces "one active document per tuple": upserts
// conflict on it instead of racing.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_document (
			id SERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			searchable_content TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1,
			generated_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`, d.profile.AIEmbeddingDims),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_vector_document_tuple
			ON vector_document (owner_id, subject_id, content_type)
			WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_vector_document_owner ON vector_document (owner_id)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration failed: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}

// placeholder returns the PostgreSQL positional placeholder for index n (1-based).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
