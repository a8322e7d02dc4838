// Package ai provides the embedding client and supporting primitives for
// the semantic search subsystem.
package ai

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Error taxonomy for embedding and search operations. Callers classify
// with errors.Is; lower layers always return one of these wrapped with
// context rather than sentinel values.
var (
	// ErrConsentRequired indicates the owner has not granted AI processing.
	// Never retried; surfaced directly to the application layer.
	ErrConsentRequired = errors.New("ai processing consent required")

	// ErrInvalidQuery indicates an empty or otherwise unusable query.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidDimension indicates a vector whose length does not match
	// the model's declared dimensionality. Fatal: a wrong-dimension vector
	// corrupts every subsequent similarity computation.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrEmbeddingUnavailable indicates the remote embedding model failed
	// or timed out. Retryable by the caller with backoff.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrStoreUnavailable indicates the underlying document store failed.
	// Retryable by the caller.
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// IsRetryable reports whether the error is transient and might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}

// WrapStoreError classifies a store failure as ErrStoreUnavailable. A
// failure caused by the caller's own cancellation or deadline is not a
// store outage and passes through untouched, so a cancelled request is
// never reported as a retryable backend failure. ctx must be the caller's
// context, not an operation-internal timeout context.
func WrapStoreError(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return pkgerrors.Wrapf(ErrStoreUnavailable, "%s: %v", op, err)
}
