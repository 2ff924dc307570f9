package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AssistantUnscoped is the sentinel assistant value stored on points of a
// document with no assigned assistants, so its chunks stay searchable within
// the workspace scope.
const AssistantUnscoped = ""

// pointNamespace is the fixed UUIDv5 namespace for point identities. Never
// change it: point IDs must stay stable across resyncs so upserts overwrite
// instead of duplicating.
var pointNamespace = uuid.MustParse("9f2c1e8a-6b4d-4f7e-9a3c-2d8e5b1a7c40")

// Payload is the metadata stored alongside a point in the index. Every field
// the retrieval path filters or displays on lives here.
type Payload struct {
	DocumentID  string
	AssistantID string
	WorkspaceID string
	ChunkID     string
	Text        string
}

// Point is one embedded chunk under one assistant scope as stored in the
// external similarity index.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a scored search result.
type Hit struct {
	DocumentID string
	ChunkID    string
	Text       string
	Score      float64
}

// Index is the gateway to the similarity index. Implementations: the
// Weaviate-backed store and the in-memory brute-force scan.
//
// SearchFiltered requires both scope predicates on every call; there is no
// unfiltered search path.
type Index interface {
	EnsureReady(ctx context.Context) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Upsert(ctx context.Context, points []Point) error
	SearchFiltered(ctx context.Context, queryVector []float32, assistantID, workspaceID string, topK int) ([]Hit, error)
}

// PointID derives the deterministic identity of one (chunk, assistant) pair.
// Re-ingesting an unchanged chunk at the same index under the same assistant
// yields the same ID, which is what gives upserts clean overwrite semantics.
func PointID(documentID, assistantID string, chunkIndex int) string {
	name := fmt.Sprintf("%s:%s:%d", documentID, assistantID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// ChunkID builds the human-readable chunk identifier stored in point
// payloads.
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}

// BuildPoints expands chunk texts and their vectors into the full point set
// for a document: one point per (chunk, assistant) pair, or one per chunk
// under the unscoped sentinel when no assistants are assigned.
func BuildPoints(documentID, workspaceID string, assistantIDs []string, texts []string, vectors [][]float32) ([]Point, error) {
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("texts and vectors length mismatch: %d vs %d", len(texts), len(vectors))
	}

	scopes := assistantIDs
	if len(scopes) == 0 {
		scopes = []string{AssistantUnscoped}
	}

	points := make([]Point, 0, len(texts)*len(scopes))
	for i, text := range texts {
		for _, assistantID := range scopes {
			points = append(points, Point{
				ID:     PointID(documentID, assistantID, i),
				Vector: vectors[i],
				Payload: Payload{
					DocumentID:  documentID,
					AssistantID: assistantID,
					WorkspaceID: workspaceID,
					ChunkID:     ChunkID(documentID, i),
					Text:        text,
				},
			})
		}
	}
	return points, nil
}
