package sqlite

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/store"
)

// UpsertVectorDocument inserts or updates the active document for the
// (owner_id, subject_id, content_type) tuple.
func (d *DB) UpsertVectorDocument(ctx context.Context, doc *store.VectorDocument) (*store.VectorDocument, error) {
	if doc.UID == "" {
		doc.UID = shortuuid.New()
	}

	embedding, err := json.Marshal(doc.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding")
	}

	stmt := `
		INSERT INTO vector_document (
			uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (owner_id, subject_id, content_type) WHERE is_active = 1
		DO UPDATE SET
			embedding = excluded.embedding,
			searchable_content = excluded.searchable_content,
			model = excluded.model,
			content_hash = excluded.content_hash,
			schema_version = excluded.schema_version,
			generated_ts = excluded.generated_ts,
			updated_ts = excluded.updated_ts
		RETURNING id, uid, generated_ts, updated_ts
	`

	err = d.db.QueryRowContext(ctx, stmt,
		doc.UID,
		doc.OwnerID,
		doc.SubjectID,
		string(doc.ContentType),
		string(embedding),
		doc.SearchableContent,
		doc.Model,
		doc.ContentHash,
		doc.SchemaVersion,
		doc.GeneratedTs,
		doc.UpdatedTs,
		1,
	).Scan(&doc.ID, &doc.UID, &doc.GeneratedTs, &doc.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert vector document")
	}

	doc.IsActive = true
	return doc, nil
}

// ListVectorDocuments lists vector documents.
func (d *DB) ListVectorDocuments(ctx context.Context, find *store.FindVectorDocument) ([]*store.VectorDocument, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	if find.SubjectID != nil {
		where, args = append(where, "subject_id = ?"), append(args, *find.SubjectID)
	}
	if find.ContentType != nil {
		where, args = append(where, "content_type = ?"), append(args, string(*find.ContentType))
	}
	if find.OnlyActive {
		where = append(where, "is_active = 1")
	}

	query := `
		SELECT id, uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		FROM vector_document
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list vector documents")
	}
	defer rows.Close()

	list := []*store.VectorDocument{}
	for rows.Next() {
		doc, err := scanVectorDocument(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteVectorDocument hard-deletes all documents for a subject under an owner.
func (d *DB) DeleteVectorDocument(ctx context.Context, delete *store.DeleteVectorDocument) error {
	stmt := `DELETE FROM vector_document WHERE owner_id = ? AND subject_id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, delete.OwnerID, delete.SubjectID); err != nil {
		return errors.Wrap(err, "failed to delete vector document")
	}
	return nil
}

// DeleteVectorDocumentsByOwner hard-deletes every document belonging to
// the owner and returns the count removed.
func (d *DB) DeleteVectorDocumentsByOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM vector_document WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete vector documents by owner")
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return count, nil
}

// VectorSearch performs cosine nearest-neighbor search. SQLite has no
// vector index, so candidate rows are loaded and ranked in-process.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.DocumentWithScore, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required for vector search")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where := []string{"owner_id = ?", "is_active = 1"}
	args := []any{opts.OwnerID}

	if len(opts.ContentTypes) > 0 {
		marks := make([]string, len(opts.ContentTypes))
		for i, ct := range opts.ContentTypes {
			marks[i] = "?"
			args = append(args, string(ct))
		}
		where = append(where, "content_type IN ("+strings.Join(marks, ", ")+")")
	}

	query := `
		SELECT id, uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		FROM vector_document
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.DocumentWithScore{}
	for rows.Next() {
		doc, err := scanVectorDocument(rows)
		if err != nil {
			// One bad row must not sink the whole result set.
			slog.Warn("skipping malformed vector search row", "error", err)
			continue
		}
		results = append(results, &store.DocumentWithScore{
			Document: doc,
			Score:    cosineSimilarity(opts.Vector, doc.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindStaleVectorDocuments finds active documents embedded with a different
// model or an older schema version.
func (d *DB) FindStaleVectorDocuments(ctx context.Context, find *store.FindStaleVectorDocuments) ([]*store.VectorDocument, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"is_active = 1", "(model <> ? OR schema_version < ?)"}
	args := []any{find.Model, find.SchemaVersion}

	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	args = append(args, limit)

	query := `
		SELECT id, uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		FROM vector_document
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts ASC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale vector documents")
	}
	defer rows.Close()

	list := []*store.VectorDocument{}
	for rows.Next() {
		doc, err := scanVectorDocument(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVectorDocument(rows rowScanner) (*store.VectorDocument, error) {
	var doc store.VectorDocument
	var embedding string
	err := rows.Scan(
		&doc.ID,
		&doc.UID,
		&doc.OwnerID,
		&doc.SubjectID,
		&doc.ContentType,
		&embedding,
		&doc.SearchableContent,
		&doc.Model,
		&doc.ContentHash,
		&doc.SchemaVersion,
		&doc.GeneratedTs,
		&doc.UpdatedTs,
		&doc.IsActive,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan vector document")
	}
	if err := json.Unmarshal([]byte(embedding), &doc.Embedding); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding")
	}
	return &doc, nil
}

// cosineSimilarity returns the cosine similarity of a and b in [0,1] for
// non-negative-normalized embedding vectors. Mismatched or zero-length
// vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
