package store

import "context"

// ContentType classifies the origin of embedded text. The set is closed:
// it is used both as a stored column and as a search predicate.
type ContentType string

const (
	ContentTypeRelationshipContext ContentType = "relationship_context"
	ContentTypeEmotionalSignal     ContentType = "emotional_signal"
	ContentTypeInteractionSummary  ContentType = "interaction_summary"
	ContentTypeLifeEvent           ContentType = "life_event"
)

// AllContentTypes is the full closed set of storable content types.
var AllContentTypes = []ContentType{
	ContentTypeRelationshipContext,
	ContentTypeEmotionalSignal,
	ContentTypeInteractionSummary,
	ContentTypeLifeEvent,
}

// IsValid reports whether t is a member of the closed content-type set.
func (t ContentType) IsValid() bool {
	for _, ct := range AllContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// CoversAllContentTypes reports whether the requested set spans the whole
// closed enumeration, in which case the content-type predicate is redundant.
func CoversAllContentTypes(types []ContentType) bool {
	if len(types) < len(AllContentTypes) {
		return false
	}
	seen := map[ContentType]bool{}
	for _, t := range types {
		seen[t] = true
	}
	for _, ct := range AllContentTypes {
		if !seen[ct] {
			return false
		}
	}
	return true
}

// CurrentSchemaVersion is bumped when the embedded-text construction or
// preprocessing changes in a way that requires re-embedding stored documents.
const CurrentSchemaVersion = 1

// MaxSearchableContentLength caps the original text kept alongside the vector.
const MaxSearchableContentLength = 500

// VectorDocument is a stored embedding record. At most one active document
// exists per (OwnerID, SubjectID, ContentType) tuple.
type VectorDocument struct {
	ID  int32
	UID string

	// OwnerID scopes the document to one account. Every query against the
	// vector store carries this predicate; it is never optional.
	OwnerID     string
	SubjectID   string
	ContentType ContentType

	Embedding         []float32
	SearchableContent string

	Model         string
	ContentHash   string
	SchemaVersion int32

	GeneratedTs int64
	UpdatedTs   int64
	IsActive    bool
}

// FindVectorDocument is the find condition for vector documents.
type FindVectorDocument struct {
	OwnerID     *string
	SubjectID   *string
	ContentType *ContentType
	OnlyActive  bool
	Limit       *int
}

// DeleteVectorDocument deletes all documents for a subject under an owner.
type DeleteVectorDocument struct {
	OwnerID   string
	SubjectID string
}

// FindStaleVectorDocuments locates active documents whose embedding was
// produced by a different model or an older schema version.
type FindStaleVectorDocuments struct {
	OwnerID       *string
	Model         string
	SchemaVersion int32
	Limit         int
}

// VectorSearchOptions are the options for a nearest-neighbor query.
type VectorSearchOptions struct {
	// OwnerID is required; the driver must refuse to search without it.
	OwnerID string
	Vector  []float32
	// ContentTypes optionally restricts results. Empty means no predicate.
	ContentTypes []ContentType
	Limit        int
}

// DocumentWithScore is a nearest-neighbor result. Score is cosine
// similarity in [0,1], higher is more similar.
type DocumentWithScore struct {
	Document *VectorDocument
	Score    float32
}

// UpsertVectorDocument inserts or updates the active document for the
// (owner, subject, content type) tuple.
func (s *Store) UpsertVectorDocument(ctx context.Context, doc *VectorDocument) (*VectorDocument, error) {
	return s.driver.UpsertVectorDocument(ctx, doc)
}

// ListVectorDocuments lists vector documents.
func (s *Store) ListVectorDocuments(ctx context.Context, find *FindVectorDocument) ([]*VectorDocument, error) {
	return s.driver.ListVectorDocuments(ctx, find)
}

// DeleteVectorDocument hard-deletes all documents for a subject.
func (s *Store) DeleteVectorDocument(ctx context.Context, delete *DeleteVectorDocument) error {
	return s.driver.DeleteVectorDocument(ctx, delete)
}

// DeleteVectorDocumentsByOwner hard-deletes every document belonging to the
// owner and returns the number removed, for audit logging by the caller.
func (s *Store) DeleteVectorDocumentsByOwner(ctx context.Context, ownerID string) (int64, error) {
	return s.driver.DeleteVectorDocumentsByOwner(ctx, ownerID)
}

// VectorSearch performs a cosine nearest-neighbor query.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*DocumentWithScore, error) {
	return s.driver.VectorSearch(ctx, opts)
}

// FindStaleVectorDocuments finds documents that need re-embedding.
func (s *Store) FindStaleVectorDocuments(ctx context.Context, find *FindStaleVectorDocuments) ([]*VectorDocument, error) {
	return s.driver.FindStaleVectorDocuments(ctx, find)
}
