package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// QueryLabel tags query-side embeddings. Queries share the embedding space
// with stored content but are never persisted, so the label only shows up
// in cache keys and logs.
const QueryLabel = "query"

// maxEmbeddingChars caps the text sent to the embedding model. This is a
// quality tradeoff, not a protocol limit: past a few thousand characters
// the embedding stops discriminating anyway.
const maxEmbeddingChars = 8000

// contentLabelPrefixes bias the embedding toward domain-relevant semantics.
var contentLabelPrefixes = map[string]string{
	"relationship_context": "Relationship context: ",
	"emotional_signal":     "Emotional context: ",
	"interaction_summary":  "Interaction summary: ",
	"life_event":           "Life event: ",
	QueryLabel:             "Query: ",
}

// Preprocess normalizes text the way the embedding model will see it:
// trimmed, prefixed with a short content-type label, truncated.
func Preprocess(contentLabel, text string) string {
	prefix, ok := contentLabelPrefixes[contentLabel]
	if !ok {
		prefix = "Context: "
	}
	return TruncateRunes(prefix+strings.TrimSpace(text), maxEmbeddingChars)
}

// TruncateRunes caps s at max bytes without splitting a multibyte rune:
// the cut backs off to the nearest rune boundary so the result is always
// valid UTF-8.
func TruncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Fingerprint returns a deterministic hash of the preprocessed text, used
// as a cache key and for dedup. Hashing happens after preprocessing so
// that cache hits line up with content the model treats identically.
// Not for security.
func Fingerprint(contentLabel, text string) string {
	sum := sha256.Sum256([]byte(Preprocess(contentLabel, text)))
	return hex.EncodeToString(sum[:])
}
