// Package timeout defines centralized timeout constants for AI operations.
package timeout

import "time"

const (
	// EmbeddingTimeout is the timeout for a single embedding generation call.
	EmbeddingTimeout = 30 * time.Second

	// VectorSearchTimeout is the timeout for a nearest-neighbor query.
	// Longer than embedding: large owner collections take more scan time.
	VectorSearchTimeout = 45 * time.Second

	// ReindexChunkTimeout bounds one chunk of a batch reindex (embedding
	// plus upsert for every item in the chunk).
	ReindexChunkTimeout = 2 * time.Minute
)
