package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxkb/features/knowledge"
	"voxkb/internal/testutils"
)

func TestKnowledgeRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := knowledge.NewPostgresRepo(s.DB)
	ctx := context.Background()

	doc := &knowledge.Document{
		WorkspaceID:          "ws-int",
		Name:                 "Integration Doc",
		SourceType:           "text",
		StorageLocator:       "raw text body",
		ContentHash:          "hash-int-1",
		AssignedAssistantIDs: []string{"asst-a", "asst-b"},
		Status:               knowledge.StatusProcessing,
	}
	require.NoError(t, repo.Create(ctx, doc))
	require.NotEmpty(t, doc.ID)

	// Workspace scoping
	got, err := repo.Get(ctx, doc.ID, "ws-int")
	require.NoError(t, err)
	assert.Equal(t, []string{"asst-a", "asst-b"}, got.AssignedAssistantIDs)
	assert.Equal(t, knowledge.StatusProcessing, got.Status)

	_, err = repo.Get(ctx, doc.ID, "ws-other")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	// Duplicate detection
	exists, err := repo.ExistsByHash(ctx, "ws-int", "hash-int-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.ExistsByHash(ctx, "ws-other", "hash-int-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Chunk replacement is idempotent
	chunks := []knowledge.Chunk{
		{DocumentName: doc.Name, AssistantIDs: doc.AssignedAssistantIDs, ChunkIndex: 0, ChunkText: "c0", TokenCount: 1},
		{DocumentName: doc.Name, AssistantIDs: doc.AssignedAssistantIDs, ChunkIndex: 1, ChunkText: "c1", TokenCount: 1},
	}
	require.NoError(t, repo.ReplaceChunks(ctx, doc.ID, chunks))
	require.NoError(t, repo.ReplaceChunks(ctx, doc.ID, chunks[:1]))

	stored, err := repo.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "c0", stored[0].ChunkText)

	// Lifecycle transitions
	require.NoError(t, repo.MarkReady(ctx, doc.ID, 2, 1))
	got, err = repo.Get(ctx, doc.ID, "ws-int")
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusReady, got.Status)
	assert.Equal(t, 2, got.TokenCount)
	assert.Equal(t, 1, got.ChunkCount)
	assert.NotNil(t, got.LastSyncedAt)

	require.NoError(t, repo.MarkFailed(ctx, doc.ID, "embed failed"))
	got, err = repo.Get(ctx, doc.ID, "ws-int")
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusFailed, got.Status)
	assert.Equal(t, "embed failed", got.ErrorMessage)

	// Cascade delete removes chunk rows
	require.NoError(t, repo.Delete(ctx, doc.ID))
	n, err := repo.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
