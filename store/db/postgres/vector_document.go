package postgres

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/store"
)

// UpsertVectorDocument inserts or updates the active document for the
// (owner_id, subject_id, content_type) tuple.
func (d *DB) UpsertVectorDocument(ctx context.Context, doc *store.VectorDocument) (*store.VectorDocument, error) {
	if doc.UID == "" {
		doc.UID = shortuuid.New()
	}

	stmt := `
		INSERT INTO vector_document (
			uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (owner_id, subject_id, content_type) WHERE is_active
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			searchable_content = EXCLUDED.searchable_content,
			model = EXCLUDED.model,
			content_hash = EXCLUDED.content_hash,
			schema_version = EXCLUDED.schema_version,
			generated_ts = EXCLUDED.generated_ts,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, uid, generated_ts, updated_ts
	`

	vector := pgvector.NewVector(doc.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		doc.UID,
		doc.OwnerID,
		doc.SubjectID,
		string(doc.ContentType),
		vector,
		doc.SearchableContent,
		doc.Model,
		doc.ContentHash,
		doc.SchemaVersion,
		doc.GeneratedTs,
		doc.UpdatedTs,
		true,
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
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.SubjectID != nil {
		where, args = append(where, "subject_id = "+placeholder(len(args)+1)), append(args, *find.SubjectID)
	}
	if find.ContentType != nil {
		where, args = append(where, "content_type = "+placeholder(len(args)+1)), append(args, string(*find.ContentType))
	}
	if find.OnlyActive {
		where = append(where, "is_active = TRUE")
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
		args = append(args, *find.Limit)
		query += " LIMIT " + placeholder(len(args))
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
	stmt := `DELETE FROM vector_document WHERE owner_id = ` + placeholder(1) + ` AND subject_id = ` + placeholder(2)
	if _, err := d.db.ExecContext(ctx, stmt, delete.OwnerID, delete.SubjectID); err != nil {
		return errors.Wrap(err, "failed to delete vector document")
	}
	return nil
}

// DeleteVectorDocumentsByOwner hard-deletes every document belonging to
// the owner and returns the count removed.
func (d *DB) DeleteVectorDocumentsByOwner(ctx context.Context, ownerID string) (int64, error) {
	stmt := `DELETE FROM vector_document WHERE owner_id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, ownerID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete vector documents by owner")
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return count, nil
}

// VectorSearch performs cosine nearest-neighbor search using pgvector.
// The <=> operator computes cosine distance (1 - cosine similarity), so
// ordering by distance ascending yields most similar first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.DocumentWithScore, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required for vector search")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	where := []string{"owner_id = $2", "is_active = TRUE"}
	args := []any{vector, opts.OwnerID}

	if len(opts.ContentTypes) > 0 {
		placeholderList := make([]string, len(opts.ContentTypes))
		for i, ct := range opts.ContentTypes {
			args = append(args, string(ct))
			placeholderList[i] = placeholder(len(args))
		}
		where = append(where, "content_type IN ("+strings.Join(placeholderList, ", ")+")")
	}

	args = append(args, limit)

	query := `
		SELECT id, uid, owner_id, subject_id, content_type,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active,
			1 - (embedding <=> $1) AS score
		FROM vector_document
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> $1
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.DocumentWithScore{}
	for rows.Next() {
		var doc store.VectorDocument
		var score float32
		err := rows.Scan(
			&doc.ID,
			&doc.UID,
			&doc.OwnerID,
			&doc.SubjectID,
			&doc.ContentType,
			&doc.SearchableContent,
			&doc.Model,
			&doc.ContentHash,
			&doc.SchemaVersion,
			&doc.GeneratedTs,
			&doc.UpdatedTs,
			&doc.IsActive,
			&score,
		)
		if err != nil {
			// One bad row must not sink the whole result set.
			slog.Warn("skipping malformed vector search row", "error", err)
			continue
		}
		results = append(results, &store.DocumentWithScore{Document: &doc, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
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

	where := []string{"is_active = TRUE", "(model <> $1 OR schema_version < $2)"}
	args := []any{find.Model, find.SchemaVersion}

	if find.OwnerID != nil {
		args = append(args, *find.OwnerID)
		where = append(where, "owner_id = "+placeholder(len(args)))
	}
	args = append(args, limit)

	query := `
		SELECT id, uid, owner_id, subject_id, content_type, embedding,
			searchable_content, model, content_hash, schema_version,
			generated_ts, updated_ts, is_active
		FROM vector_document
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts ASC
		LIMIT ` + placeholder(len(args))

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
	var vector pgvector.Vector
	err := rows.Scan(
		&doc.ID,
		&doc.UID,
		&doc.OwnerID,
		&doc.SubjectID,
		&doc.ContentType,
		&vector,
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
	doc.Embedding = vector.Slice()
	return &doc, nil
}
