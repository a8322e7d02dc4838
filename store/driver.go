package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// VectorDocument model related methods.
	UpsertVectorDocument(ctx context.Context, doc *VectorDocument) (*VectorDocument, error)
	ListVectorDocuments(ctx context.Context, find *FindVectorDocument) ([]*VectorDocument, error)
	DeleteVectorDocument(ctx context.Context, delete *DeleteVectorDocument) error
	DeleteVectorDocumentsByOwner(ctx context.Context, ownerID string) (int64, error)

	// VectorSearch performs cosine nearest-neighbor search scoped to one owner.
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*DocumentWithScore, error)

	// FindStaleVectorDocuments finds active documents embedded with a
	// different model or an older schema version.
	FindStaleVectorDocuments(ctx context.Context, find *FindStaleVectorDocuments) ([]*VectorDocument, error)
}
