package weaviate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"voxkb/internal/vector"
)

const className = "KnowledgeChunk"

var ErrMissingScope = errors.New("assistant and workspace filters are mandatory")

// Store is the Weaviate-backed vector index gateway. Objects are written
// with deterministic IDs so an upsert for an unchanged chunk overwrites in
// place instead of duplicating.
type Store struct {
	client *weaviate.Client
	dim    int
}

func NewStore(client *weaviate.Client, dim int) *Store {
	return &Store{client: client, dim: dim}
}

// EnsureReady creates the cosine-distance class if it does not exist yet.
// Safe to call repeatedly.
func (s *Store) EnsureReady(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("class existence check: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       className,
		Description: "One embedded knowledge chunk under one assistant scope",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"string"}},
			{Name: "assistantId", DataType: []string{"string"}},
			{Name: "workspaceId", DataType: []string{"string"}},
			{Name: "chunkId", DataType: []string{"string"}},
		},
	}
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

// DeleteByDocument removes every point whose payload documentId matches,
// regardless of assistant scope. Deleting a document with no points is a
// no-op.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	return err
}

// Upsert writes points by their deterministic IDs. No-op on empty input.
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != s.dim {
			return fmt.Errorf("point %s: vector dimension %d, index expects %d", p.ID, len(p.Vector), s.dim)
		}
		objects = append(objects, &models.Object{
			ID:    strfmt.UUID(p.ID),
			Class: className,
			Properties: map[string]interface{}{
				"text":        p.Payload.Text,
				"documentId":  p.Payload.DocumentID,
				"assistantId": p.Payload.AssistantID,
				"workspaceId": p.Payload.WorkspaceID,
				"chunkId":     p.Payload.ChunkID,
			},
			Vector: models.C11yVector(p.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// SearchFiltered runs a scoped nearVector search. Both scope predicates are
// required on every call; chunks of unscoped documents (sentinel assistant)
// stay reachable within their workspace.
func (s *Store) SearchFiltered(ctx context.Context, queryVector []float32, assistantID, workspaceID string, topK int) ([]vector.Hit, error) {
	if assistantID == "" || workspaceID == "" {
		return nil, ErrMissingScope
	}
	if topK <= 0 {
		topK = 5
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"workspaceId"}).
				WithOperator(filters.Equal).
				WithValueString(workspaceID),
			filters.Where().
				WithOperator(filters.Or).
				WithOperands([]*filters.WhereBuilder{
					filters.Where().
						WithPath([]string{"assistantId"}).
						WithOperator(filters.Equal).
						WithValueString(assistantID),
					filters.Where().
						WithPath([]string{"assistantId"}).
						WithOperator(filters.Equal).
						WithValueString(vector.AssistantUnscoped),
				}),
		})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "documentId"},
		{Name: "chunkId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var hits []vector.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	raw, ok := data[className].([]interface{})
	if !ok {
		return hits, nil
	}
	for _, item := range raw {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.Hit{}
		if text, ok := props["text"].(string); ok {
			hit.Text = text
		}
		if docID, ok := props["documentId"].(string); ok {
			hit.DocumentID = docID
		}
		if chunkID, ok := props["chunkId"].(string); ok {
			hit.ChunkID = chunkID
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				hit.Score = certainty
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
