package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"voxkb/internal/config"
	"voxkb/internal/extract"
	"voxkb/internal/middleware"
)

// Document status lifecycle: processing -> ready | failed, and back to
// processing on resync. Only the ingestion pipeline moves a document out of
// processing.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

var (
	ErrDuplicate = errors.New("duplicate document")
	ErrNotFound  = errors.New("document not found")
)

// Document is the metadata record for one knowledge source. StorageLocator
// is a file path, the raw text, or the URL depending on SourceType; it never
// leaves the service.
type Document struct {
	ID                   string     `json:"id"`
	WorkspaceID          string     `json:"workspace_id,omitempty"`
	Name                 string     `json:"name"`
	SourceType           string     `json:"source_type"`
	StorageLocator       string     `json:"-"`
	ContentHash          string     `json:"content_hash"`
	AssignedAssistantIDs []string   `json:"assigned_assistant_ids"`
	Status               string     `json:"status"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	TokenCount           int        `json:"token_count"`
	ChunkCount           int        `json:"chunk_count"`
	CreatedAt            time.Time  `json:"created_at"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
}

// Chunk is a denormalized row kept for audit and debugging; the query path
// reads the vector index, not these rows. Chunks are regenerated wholesale
// on every (re)ingestion and never created by a caller.
type Chunk struct {
	ID           string   `json:"id,omitempty"`
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	AssistantIDs []string `json:"assistant_ids"`
	ChunkIndex   int      `json:"chunk_index"`
	ChunkText    string   `json:"chunk_text"`
	TokenCount   int      `json:"token_count"`
}

type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id, workspaceID string) (*Document, error)
	List(ctx context.Context, workspaceID string) ([]Document, error)
	ExistsByHash(ctx context.Context, workspaceID, hash string) (bool, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkReady(ctx context.Context, id string, tokenCount, chunkCount int) error
	Delete(ctx context.Context, id string) error

	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)

	Count(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
}

// VectorCleaner is the slice of the vector index the lifecycle needs: the
// deletion cascade must reach the index, not just the metadata store.
type VectorCleaner interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo  Repository
	pub   EventPublisher
	index VectorCleaner
	blobs extract.BlobStore
}

func NewService(repo Repository, pub EventPublisher, index VectorCleaner, blobs extract.BlobStore) *Service {
	return &Service{repo: repo, pub: pub, index: index, blobs: blobs}
}

// CreateParams carries exactly one source: FileBytes, Text, or URL.
type CreateParams struct {
	WorkspaceID  string
	Name         string
	FileName     string
	FileBytes    []byte
	Text         string
	URL          string
	AssistantIDs []string
}

// Create registers a document in processing status, persists its source, and
// queues the ingestion task. The content hash is recorded for audit; an
// identical hash in the same workspace is rejected as a duplicate upload.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Document, error) {
	doc := &Document{
		WorkspaceID:          p.WorkspaceID,
		Name:                 strings.TrimSpace(p.Name),
		AssignedAssistantIDs: p.AssistantIDs,
		Status:               StatusProcessing,
	}
	if doc.Name == "" {
		return nil, errors.New("name is required")
	}

	switch {
	case len(p.FileBytes) > 0:
		doc.SourceType = extract.SourceTypeFile
		doc.ContentHash = hashBytes(p.FileBytes)
	case strings.TrimSpace(p.Text) != "":
		doc.SourceType = extract.SourceTypeText
		doc.ContentHash = hashBytes([]byte(strings.TrimSpace(p.Text)))
		doc.StorageLocator = p.Text
	case strings.TrimSpace(p.URL) != "":
		doc.SourceType = extract.SourceTypeURL
		doc.ContentHash = hashBytes([]byte(strings.TrimSpace(p.URL)))
		doc.StorageLocator = strings.TrimSpace(p.URL)
	default:
		return nil, errors.New("provide exactly one source: file, text, or url")
	}

	exists, err := s.repo.ExistsByHash(ctx, doc.WorkspaceID, doc.ContentHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	if doc.SourceType == extract.SourceTypeFile {
		name := doc.ContentHash[:16] + filepath.Ext(p.FileName)
		locator, err := s.blobs.Save(ctx, name, p.FileBytes)
		if err != nil {
			return nil, fmt.Errorf("store upload: %w", err)
		}
		doc.StorageLocator = locator
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.enqueueIngest(ctx, doc.ID)

	slog.InfoContext(ctx, "knowledge document created",
		"document_id", doc.ID, "workspace_id", doc.WorkspaceID, "source_type", doc.SourceType)
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id, workspaceID string) (*Document, error) {
	return s.repo.Get(ctx, id, workspaceID)
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]Document, error) {
	return s.repo.List(ctx, workspaceID)
}

// Delete cascades: vector points, chunk rows, the metadata row, and the
// backing blob for file sources. Index cleanup runs first so no point can
// outlive its document row.
func (s *Service) Delete(ctx context.Context, id, workspaceID string) error {
	doc, err := s.repo.Get(ctx, id, workspaceID)
	if err != nil {
		return err
	}

	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.repo.DeleteChunks(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if doc.SourceType == extract.SourceTypeFile && doc.StorageLocator != "" {
		if err := s.blobs.Delete(ctx, doc.StorageLocator); err != nil {
			slog.WarnContext(ctx, "failed to delete blob", "document_id", id, "error", err)
		}
	}

	slog.InfoContext(ctx, "knowledge document deleted", "document_id", id, "workspace_id", workspaceID)
	return nil
}

// Resync flips the document back to processing, clears its chunk rows, and
// queues a fresh ingestion run.
func (s *Service) Resync(ctx context.Context, id, workspaceID string) error {
	if _, err := s.repo.Get(ctx, id, workspaceID); err != nil {
		return err
	}
	if err := s.repo.MarkProcessing(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteChunks(ctx, id); err != nil {
		return err
	}

	s.enqueueIngest(ctx, id)

	slog.InfoContext(ctx, "knowledge resync requested", "document_id", id)
	return nil
}

// GetChunks returns a document's chunk rows for inspection.
func (s *Service) GetChunks(ctx context.Context, id, workspaceID string) ([]Chunk, error) {
	if _, err := s.repo.Get(ctx, id, workspaceID); err != nil {
		return nil, err
	}
	return s.repo.GetChunks(ctx, id)
}

func (s *Service) enqueueIngest(ctx context.Context, documentID string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"document_id":    documentID,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicKnowledgeIngest, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest task", "document_id", documentID, "error", err)
	} else {
		slog.InfoContext(ctx, "published ingest task", "document_id", documentID)
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
