package knowledge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO knowledge_documents
			(workspace_id, name, source_type, storage_locator, content_hash, assigned_assistant_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		doc.WorkspaceID, doc.Name, doc.SourceType, doc.StorageLocator,
		doc.ContentHash, pq.Array(doc.AssignedAssistantIDs), doc.Status,
	).Scan(&doc.ID, &doc.CreatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id, workspaceID string) (*Document, error) {
	query := `
		SELECT id, workspace_id, name, source_type, storage_locator, content_hash,
		       assigned_assistant_ids, status, COALESCE(error_message, ''),
		       token_count, chunk_count, created_at, last_synced_at
		FROM knowledge_documents
		WHERE id = $1 AND workspace_id = $2`
	var doc Document
	err := r.db.QueryRowContext(ctx, query, id, workspaceID).Scan(
		&doc.ID, &doc.WorkspaceID, &doc.Name, &doc.SourceType, &doc.StorageLocator,
		&doc.ContentHash, pq.Array(&doc.AssignedAssistantIDs), &doc.Status,
		&doc.ErrorMessage, &doc.TokenCount, &doc.ChunkCount, &doc.CreatedAt, &doc.LastSyncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByID loads a document without workspace scoping. The ingestion worker
// uses it because queue tasks carry only the document id.
func (r *PostgresRepo) GetByID(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, workspace_id, name, source_type, storage_locator, content_hash,
		       assigned_assistant_ids, status, COALESCE(error_message, ''),
		       token_count, chunk_count, created_at, last_synced_at
		FROM knowledge_documents
		WHERE id = $1`
	var doc Document
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.WorkspaceID, &doc.Name, &doc.SourceType, &doc.StorageLocator,
		&doc.ContentHash, pq.Array(&doc.AssignedAssistantIDs), &doc.Status,
		&doc.ErrorMessage, &doc.TokenCount, &doc.ChunkCount, &doc.CreatedAt, &doc.LastSyncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *PostgresRepo) List(ctx context.Context, workspaceID string) ([]Document, error) {
	query := `
		SELECT id, workspace_id, name, source_type, content_hash,
		       assigned_assistant_ids, status, COALESCE(error_message, ''),
		       token_count, chunk_count, created_at, last_synced_at
		FROM knowledge_documents
		WHERE workspace_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID, &doc.WorkspaceID, &doc.Name, &doc.SourceType, &doc.ContentHash,
			pq.Array(&doc.AssignedAssistantIDs), &doc.Status, &doc.ErrorMessage,
			&doc.TokenCount, &doc.ChunkCount, &doc.CreatedAt, &doc.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) ExistsByHash(ctx context.Context, workspaceID, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM knowledge_documents WHERE workspace_id = $1 AND content_hash = $2)`,
		workspaceID, hash,
	).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx,
		`UPDATE knowledge_documents SET status = $1, error_message = NULL WHERE id = $2`,
		StatusProcessing, id)
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.setStatus(ctx,
		`UPDATE knowledge_documents SET status = $1, error_message = $3 WHERE id = $2`,
		StatusFailed, id, errMsg)
}

func (r *PostgresRepo) MarkReady(ctx context.Context, id string, tokenCount, chunkCount int) error {
	return r.setStatus(ctx,
		`UPDATE knowledge_documents
		 SET status = $1, error_message = NULL, token_count = $3, chunk_count = $4, last_synced_at = NOW()
		 WHERE id = $2`,
		StatusReady, id, tokenCount, chunkCount)
}

func (r *PostgresRepo) setStatus(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceChunks swaps a document's chunk rows in one transaction so readers
// never observe a mix of old and new rows.
func (r *PostgresRepo) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks
			(document_id, document_name, assistant_ids, chunk_index, chunk_text, token_count)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			documentID, c.DocumentName, pq.Array(c.AssistantIDs),
			c.ChunkIndex, c.ChunkText, c.TokenCount,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE document_id = $1`, documentID)
	return err
}

func (r *PostgresRepo) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	query := `
		SELECT id, document_id, document_name, assistant_ids, chunk_index, chunk_text, token_count
		FROM knowledge_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentName, pq.Array(&c.AssistantIDs),
			&c.ChunkIndex, &c.ChunkText, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}
