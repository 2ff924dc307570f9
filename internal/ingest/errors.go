package ingest

import (
	"errors"

	"voxkb/internal/extract"
	"voxkb/internal/text"
)

var (
	// ErrEmptyContent means extraction produced no usable text. Retrying
	// cannot fix the source, so the document is marked failed.
	ErrEmptyContent = errors.New("document has no extractable content")

	// ErrEmbeddingCountMismatch means the provider returned a vector count
	// that does not match the chunk count. A partial write would corrupt the
	// index, so the run aborts before touching the vector store.
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match chunk count")
)

// Terminal reports whether an ingestion error is permanent for the current
// source content. Terminal failures mark the document failed and ack the
// task; everything else is requeued.
func Terminal(err error) bool {
	return errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrEmbeddingCountMismatch) ||
		errors.Is(err, extract.ErrExtraction) ||
		errors.Is(err, text.ErrChunkConfig)
}
