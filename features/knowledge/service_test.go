package knowledge_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voxkb/features/knowledge"
	"voxkb/internal/config"
)

// MockRepo implements knowledge.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Create(ctx context.Context, doc *knowledge.Document) error {
	args := m.Called(ctx, doc)
	doc.ID = "doc-created"
	return args.Error(0)
}
func (m *MockRepo) Get(ctx context.Context, id, workspaceID string) (*knowledge.Document, error) {
	args := m.Called(ctx, id, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*knowledge.Document), args.Error(1)
}
func (m *MockRepo) List(ctx context.Context, workspaceID string) ([]knowledge.Document, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.Document), args.Error(1)
}
func (m *MockRepo) ExistsByHash(ctx context.Context, workspaceID, hash string) (bool, error) {
	args := m.Called(ctx, workspaceID, hash)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepo) MarkProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}
func (m *MockRepo) MarkReady(ctx context.Context, id string, tokenCount, chunkCount int) error {
	args := m.Called(ctx, id, tokenCount, chunkCount)
	return args.Error(0)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) ReplaceChunks(ctx context.Context, documentID string, chunks []knowledge.Chunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}
func (m *MockRepo) DeleteChunks(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}
func (m *MockRepo) GetChunks(ctx context.Context, documentID string) ([]knowledge.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.Chunk), args.Error(1)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
func (m *MockRepo) CountChunks(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockCleaner struct {
	mock.Mock
}

func (m *MockCleaner) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

type MockBlobs struct {
	mock.Mock
}

func (m *MockBlobs) Save(ctx context.Context, name string, data []byte) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}
func (m *MockBlobs) Get(ctx context.Context, locator string) ([]byte, error) {
	args := m.Called(ctx, locator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockBlobs) Delete(ctx context.Context, locator string) error {
	args := m.Called(ctx, locator)
	return args.Error(0)
}

func TestServiceCreateTextPublishesTask(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := knowledge.NewService(repo, pub, new(MockCleaner), new(MockBlobs))

	repo.On("ExistsByHash", mock.Anything, "ws-1", mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	pub.On("Publish", config.TopicKnowledgeIngest, mock.MatchedBy(func(b []byte) bool {
		return strings.Contains(string(b), "doc-created")
	})).Return(nil)

	doc, err := svc.Create(context.Background(), knowledge.CreateParams{
		WorkspaceID:  "ws-1",
		Name:         "Notes",
		Text:         "some text body",
		AssistantIDs: []string{"asst-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusProcessing, doc.Status)
	assert.Equal(t, "text", doc.SourceType)
	assert.NotEmpty(t, doc.ContentHash)
	pub.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestServiceCreateRejectsDuplicate(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := knowledge.NewService(repo, pub, new(MockCleaner), new(MockBlobs))

	repo.On("ExistsByHash", mock.Anything, "ws-1", mock.Anything).Return(true, nil)

	_, err := svc.Create(context.Background(), knowledge.CreateParams{
		WorkspaceID: "ws-1",
		Name:        "Notes",
		Text:        "same text",
	})
	assert.ErrorIs(t, err, knowledge.ErrDuplicate)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestServiceCreateRequiresSource(t *testing.T) {
	svc := knowledge.NewService(new(MockRepo), new(MockPublisher), new(MockCleaner), new(MockBlobs))

	_, err := svc.Create(context.Background(), knowledge.CreateParams{
		WorkspaceID: "ws-1",
		Name:        "Empty",
	})
	assert.Error(t, err)
}

func TestServiceCreateFileStoresBlob(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	blobs := new(MockBlobs)
	svc := knowledge.NewService(repo, pub, new(MockCleaner), blobs)

	repo.On("ExistsByHash", mock.Anything, "ws-1", mock.Anything).Return(false, nil)
	blobs.On("Save", mock.Anything, mock.MatchedBy(func(name string) bool {
		return strings.HasSuffix(name, ".md")
	}), []byte("# readme")).Return("/blobs/abc.md", nil)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(d *knowledge.Document) bool {
		return d.StorageLocator == "/blobs/abc.md" && d.SourceType == "file"
	})).Return(nil)
	pub.On("Publish", config.TopicKnowledgeIngest, mock.Anything).Return(nil)

	_, err := svc.Create(context.Background(), knowledge.CreateParams{
		WorkspaceID: "ws-1",
		Name:        "Readme",
		FileName:    "readme.md",
		FileBytes:   []byte("# readme"),
	})
	require.NoError(t, err)
	blobs.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestServiceDeleteCascades(t *testing.T) {
	repo := new(MockRepo)
	cleaner := new(MockCleaner)
	blobs := new(MockBlobs)
	svc := knowledge.NewService(repo, new(MockPublisher), cleaner, blobs)

	doc := &knowledge.Document{ID: "doc-1", SourceType: "file", StorageLocator: "/blobs/abc.md"}
	repo.On("Get", mock.Anything, "doc-1", "ws-1").Return(doc, nil)
	cleaner.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil)
	repo.On("DeleteChunks", mock.Anything, "doc-1").Return(nil)
	repo.On("Delete", mock.Anything, "doc-1").Return(nil)
	blobs.On("Delete", mock.Anything, "/blobs/abc.md").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "doc-1", "ws-1"))
	cleaner.AssertExpectations(t)
	repo.AssertExpectations(t)
	blobs.AssertExpectations(t)
}

func TestServiceDeleteStopsWhenVectorCleanupFails(t *testing.T) {
	repo := new(MockRepo)
	cleaner := new(MockCleaner)
	svc := knowledge.NewService(repo, new(MockPublisher), cleaner, new(MockBlobs))

	repo.On("Get", mock.Anything, "doc-1", "ws-1").
		Return(&knowledge.Document{ID: "doc-1", SourceType: "text"}, nil)
	cleaner.On("DeleteByDocument", mock.Anything, "doc-1").Return(assert.AnError)

	err := svc.Delete(context.Background(), "doc-1", "ws-1")
	assert.Error(t, err)
	repo.AssertNotCalled(t, "Delete", mock.Anything, "doc-1")
}

func TestServiceResync(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := knowledge.NewService(repo, pub, new(MockCleaner), new(MockBlobs))

	repo.On("Get", mock.Anything, "doc-1", "ws-1").
		Return(&knowledge.Document{ID: "doc-1", Status: knowledge.StatusFailed}, nil)
	repo.On("MarkProcessing", mock.Anything, "doc-1").Return(nil)
	repo.On("DeleteChunks", mock.Anything, "doc-1").Return(nil)
	pub.On("Publish", config.TopicKnowledgeIngest, mock.Anything).Return(nil)

	require.NoError(t, svc.Resync(context.Background(), "doc-1", "ws-1"))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestServiceResyncNotFound(t *testing.T) {
	repo := new(MockRepo)
	svc := knowledge.NewService(repo, new(MockPublisher), new(MockCleaner), new(MockBlobs))

	repo.On("Get", mock.Anything, "ghost", "ws-1").Return(nil, knowledge.ErrNotFound)

	err := svc.Resync(context.Background(), "ghost", "ws-1")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
	repo.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
}

func TestHandlerCreateRequiresWorkspace(t *testing.T) {
	h := knowledge.NewHandler(knowledge.NewService(new(MockRepo), new(MockPublisher), new(MockCleaner), new(MockBlobs)), 50)

	req := httptest.NewRequest(http.MethodPost, "/knowledge", strings.NewReader(""))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Workspace-ID")
}

func TestHandlerCreateRejectsBinaryUpload(t *testing.T) {
	repo := new(MockRepo)
	h := knowledge.NewHandler(knowledge.NewService(repo, new(MockPublisher), new(MockCleaner), new(MockBlobs)), 50)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "report"))
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 binary payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/knowledge", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Workspace-ID", "ws-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unsupported file type")
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandlerListEmpty(t *testing.T) {
	repo := new(MockRepo)
	repo.On("List", mock.Anything, "ws-1").Return(nil, nil)
	h := knowledge.NewHandler(knowledge.NewService(repo, new(MockPublisher), new(MockCleaner), new(MockBlobs)), 50)

	req := httptest.NewRequest(http.MethodGet, "/knowledge", nil)
	req.Header.Set("X-Workspace-ID", "ws-1")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"meta":{"count":0}}`, rec.Body.String())
}

func TestHandlerDeleteNotFound(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, "ghost", "ws-1").Return(nil, knowledge.ErrNotFound)
	h := knowledge.NewHandler(knowledge.NewService(repo, new(MockPublisher), new(MockCleaner), new(MockBlobs)), 50)

	req := httptest.NewRequest(http.MethodDelete, "/knowledge/ghost", nil)
	req.Header.Set("X-Workspace-ID", "ws-1")
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}
