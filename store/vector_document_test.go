package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeIsValid(t *testing.T) {
	for _, ct := range AllContentTypes {
		assert.True(t, ct.IsValid(), string(ct))
	}
	assert.False(t, ContentType("query").IsValid(), "the query label is not a storable content type")
	assert.False(t, ContentType("").IsValid())
}

func TestCoversAllContentTypes(t *testing.T) {
	assert.True(t, CoversAllContentTypes(AllContentTypes))
	assert.False(t, CoversAllContentTypes(nil))
	assert.False(t, CoversAllContentTypes([]ContentType{ContentTypeLifeEvent}))

	// Duplicates of a partial set do not cover the enumeration even when
	// the slice is long enough.
	assert.False(t, CoversAllContentTypes([]ContentType{
		ContentTypeLifeEvent,
		ContentTypeLifeEvent,
		ContentTypeLifeEvent,
		ContentTypeLifeEvent,
	}))
}
