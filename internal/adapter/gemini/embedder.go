package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"voxkb/internal/settings"
)

const embeddingModel = "gemini-embedding-001"

// maxParallelBatches bounds concurrent provider calls so one large document
// cannot starve other ingestion or retrieval work.
const maxParallelBatches = 4

// ErrEmbedding wraps provider failures; the ingestion pipeline treats it as
// transient and lets the job queue retry.
var ErrEmbedding = errors.New("embedding provider error")

// Embedder batches chunk texts against the Gemini embedding API. The API key
// is read from settings on every call (falling back to the configured key),
// so a rotated key takes effect without a restart.
type Embedder struct {
	settingsSvc *settings.Service
	fallbackKey string
	batchSize   int

	client     *genai.Client
	currentKey string
	mu         sync.RWMutex
	clientOpts []option.ClientOption
}

func NewEmbedder(svc *settings.Service, fallbackKey string, batchSize int, opts ...option.ClientOption) *Embedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Embedder{
		settingsSvc: svc,
		fallbackKey: fallbackKey,
		batchSize:   batchSize,
		clientOpts:  opts,
	}
}

// EmbedBatch embeds texts in order. Batching to the provider's batch-size
// limit is internal; callers see one logical call with one ordered result of
// the same length. A count mismatch from the provider is reported, never
// papered over.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	em := client.EmbeddingModel(embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument

	results := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			batch := em.NewBatch()
			for _, t := range texts[start:end] {
				batch = batch.AddContent(genai.Text(t))
			}

			res, err := em.BatchEmbedContents(gctx, batch)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEmbedding, err)
			}
			if len(res.Embeddings) != end-start {
				return fmt.Errorf("%w: provider returned %d vectors for %d texts", ErrEmbedding, len(res.Embeddings), end-start)
			}
			for i, emb := range res.Embeddings {
				if emb == nil || len(emb.Values) == 0 {
					return fmt.Errorf("%w: empty embedding at index %d", ErrEmbedding, start+i)
				}
				results[start+i] = emb.Values
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedded texts", "model", embeddingModel, "count", len(texts))
	return results, nil
}

// Embed embeds a single retrieval query.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	em := client.EmbeddingModel(embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", ErrEmbedding)
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) apiKey(ctx context.Context) (string, error) {
	if e.settingsSvc != nil {
		s, err := e.settingsSvc.Get(ctx)
		if err == nil && s.GeminiAPIKey != "" {
			return s.GeminiAPIKey, nil
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to read settings for api key, using configured key", "error", err)
		}
	}
	if e.fallbackKey != "" {
		return e.fallbackKey, nil
	}
	return "", fmt.Errorf("%w: gemini api key not configured", ErrEmbedding)
}

func (e *Embedder) getClient(ctx context.Context) (*genai.Client, error) {
	key, err := e.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(e.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	e.client = client
	e.currentKey = key
	return client, nil
}
