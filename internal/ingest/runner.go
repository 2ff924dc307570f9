package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxkb/features/knowledge"
	"voxkb/internal/text"
	"voxkb/internal/vector"
)

// Documents is the slice of the metadata store the pipeline needs.
type Documents interface {
	GetByID(ctx context.Context, id string) (*knowledge.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkReady(ctx context.Context, id string, tokenCount, chunkCount int) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []knowledge.Chunk) error
}

type Extractor interface {
	Extract(ctx context.Context, sourceType, locator string) (string, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// FailureRecorder keeps a ledger entry for terminal failures so operators can
// inspect and retry them.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, documentID, reason string) error
}

// Runner executes the ingestion pipeline for one document at a time per id.
// Re-running it for the same content is a no-op at the index level because
// point ids are deterministic.
type Runner struct {
	docs       Documents
	extractor  Extractor
	embedder   Embedder
	index      vector.Index
	failures   FailureRecorder
	windowSize int
	overlap    int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRunner(docs Documents, extractor Extractor, embedder Embedder, index vector.Index, failures FailureRecorder, windowSize, overlap int) *Runner {
	return &Runner{
		docs:       docs,
		extractor:  extractor,
		embedder:   embedder,
		index:      index,
		failures:   failures,
		windowSize: windowSize,
		overlap:    overlap,
		locks:      map[string]*sync.Mutex{},
	}
}

// lockFor serializes concurrent runs for the same document id. Two queued
// tasks for one document would otherwise interleave delete and upsert.
func (r *Runner) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Run ingests one document end to end. A nil return acks the task; a
// non-nil return signals the queue to redeliver it.
func (r *Runner) Run(ctx context.Context, documentID string) error {
	doc, err := r.docs.GetByID(ctx, documentID)
	if errors.Is(err, knowledge.ErrNotFound) {
		// Deleted between enqueue and delivery. An earlier run for this
		// document may have upserted points after the delete's own index
		// cleanup ran, so audit the index before acking: no point may
		// outlive its document row.
		if derr := r.index.DeleteByDocument(ctx, documentID); derr != nil {
			return fmt.Errorf("audit vectors for deleted document: %w", derr)
		}
		slog.InfoContext(ctx, "ingest task skipped, document gone", "document_id", documentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	l := r.lockFor(documentID)
	l.Lock()
	defer l.Unlock()

	if err := r.docs.MarkProcessing(ctx, documentID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := r.run(ctx, doc); err != nil {
		if Terminal(err) {
			return r.fail(ctx, documentID, err)
		}
		slog.WarnContext(ctx, "ingest run failed, will retry", "document_id", documentID, "error", err)
		return err
	}
	return nil
}

func (r *Runner) run(ctx context.Context, doc *knowledge.Document) error {
	start := time.Now()

	raw, err := r.extractor.Extract(ctx, doc.SourceType, doc.StorageLocator)
	if err != nil {
		return err
	}

	normalized := text.Normalize(raw)
	if normalized == "" {
		return ErrEmptyContent
	}

	windows, err := text.Chunk(normalized, r.windowSize, r.overlap)
	if err != nil {
		return err
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Text
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: %d vectors for %d chunks", ErrEmbeddingCountMismatch, len(vectors), len(texts))
	}

	// Old points go first so a re-ingest with fewer chunks leaves no
	// orphans behind.
	if err := r.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}

	points, err := vector.BuildPoints(doc.ID, doc.WorkspaceID, doc.AssignedAssistantIDs, texts, vectors)
	if err != nil {
		return err
	}
	if err := r.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	chunks := make([]knowledge.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = knowledge.Chunk{
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			AssistantIDs: doc.AssignedAssistantIDs,
			ChunkIndex:   i,
			ChunkText:    w.Text,
			TokenCount:   w.TokenCount,
		}
	}
	if err := r.docs.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}

	if err := r.docs.MarkReady(ctx, doc.ID, text.CountTokens(normalized), len(windows)); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	slog.InfoContext(ctx, "document ingested",
		"document_id", doc.ID, "chunks", len(windows), "tokens", text.CountTokens(normalized),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// fail marks the document failed and records the failure, then acks the task.
func (r *Runner) fail(ctx context.Context, documentID string, cause error) error {
	slog.ErrorContext(ctx, "ingest failed permanently", "document_id", documentID, "error", cause)

	if err := r.docs.MarkFailed(ctx, documentID, cause.Error()); err != nil {
		// The status write itself failing is retryable.
		return fmt.Errorf("mark failed: %w", err)
	}
	if r.failures != nil {
		if err := r.failures.RecordFailure(ctx, documentID, cause.Error()); err != nil {
			slog.WarnContext(ctx, "failed to record failure", "document_id", documentID, "error", err)
		}
	}
	return nil
}
