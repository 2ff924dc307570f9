package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"voxkb/internal/vector"
)

var ErrMissingScope = errors.New("assistant and workspace filters are mandatory")

// Index is a brute-force cosine-similarity vector index. It exists as the
// dependency-free fallback backend and as the test double for the Weaviate
// gateway; both implement vector.Index.
type Index struct {
	mu     sync.RWMutex
	dim    int
	points map[string]vector.Point
}

func NewIndex(dim int) *Index {
	return &Index{dim: dim, points: make(map[string]vector.Point)}
}

func (i *Index) EnsureReady(ctx context.Context) error {
	if i.dim <= 0 {
		return errors.New("invalid dimension")
	}
	return nil
}

func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, p := range i.points {
		if p.Payload.DocumentID == documentID {
			delete(i.points, id)
		}
	}
	return nil
}

func (i *Index) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) != i.dim {
			return errors.New("vector dimension mismatch")
		}
		i.points[p.ID] = p
	}
	return nil
}

func (i *Index) SearchFiltered(ctx context.Context, queryVector []float32, assistantID, workspaceID string, topK int) ([]vector.Hit, error) {
	if assistantID == "" || workspaceID == "" {
		return nil, ErrMissingScope
	}
	if topK <= 0 {
		topK = 5
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var hits []vector.Hit
	for _, p := range i.points {
		if p.Payload.WorkspaceID != workspaceID {
			continue
		}
		if p.Payload.AssistantID != assistantID && p.Payload.AssistantID != vector.AssistantUnscoped {
			continue
		}
		hits = append(hits, vector.Hit{
			DocumentID: p.Payload.DocumentID,
			ChunkID:    p.Payload.ChunkID,
			Text:       p.Payload.Text,
			Score:      cosineSimilarity(queryVector, p.Vector),
		})
	}

	sort.Slice(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports the number of stored points.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.points)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for k := range a {
		dot += float64(a[k]) * float64(b[k])
		normA += float64(a[k]) * float64(a[k])
		normB += float64(b[k]) * float64(b[k])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
