package knowledge

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepoCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO knowledge_documents`)).
		WithArgs("ws-1", "Doc", "text", "hello world", "abc123", pq.Array([]string{"asst-1"}), StatusProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("doc-1", now))

	doc := &Document{
		WorkspaceID:          "ws-1",
		Name:                 "Doc",
		SourceType:           "text",
		StorageLocator:       "hello world",
		ContentHash:          "abc123",
		AssignedAssistantIDs: []string{"asst-1"},
		Status:               StatusProcessing,
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	assert.Equal(t, "doc-1", doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, workspace_id, name, source_type`)).
		WithArgs("missing", "ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.Get(context.Background(), "missing", "ws-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoExistsByHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM knowledge_documents WHERE workspace_id = $1 AND content_hash = $2)`)).
		WithArgs("ws-1", "hash-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByHash(context.Background(), "ws-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoMarkReady(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE knowledge_documents`)).
		WithArgs(StatusReady, "doc-1", 42, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkReady(context.Background(), "doc-1", 42, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoMarkFailedNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE knowledge_documents`)).
		WithArgs(StatusFailed, "ghost", "boom").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.MarkFailed(context.Background(), "ghost", "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepoReplaceChunksTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM knowledge_chunks WHERE document_id = $1`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO knowledge_chunks`))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO knowledge_chunks`)).
		WithArgs("doc-1", "Doc", pq.Array([]string{"asst-1"}), 0, "chunk zero", 10).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO knowledge_chunks`)).
		WithArgs("doc-1", "Doc", pq.Array([]string{"asst-1"}), 1, "chunk one", 11).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	chunks := []Chunk{
		{DocumentName: "Doc", AssistantIDs: []string{"asst-1"}, ChunkIndex: 0, ChunkText: "chunk zero", TokenCount: 10},
		{DocumentName: "Doc", AssistantIDs: []string{"asst-1"}, ChunkIndex: 1, ChunkText: "chunk one", TokenCount: 11},
	}
	require.NoError(t, repo.ReplaceChunks(context.Background(), "doc-1", chunks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoReplaceChunksRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM knowledge_chunks WHERE document_id = $1`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO knowledge_chunks`))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO knowledge_chunks`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = repo.ReplaceChunks(context.Background(), "doc-1", []Chunk{{ChunkText: "x", TokenCount: 1}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM knowledge_documents`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM knowledge_chunks`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(99))

	docs, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, docs)

	chunks, err := repo.CountChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, chunks)
}
