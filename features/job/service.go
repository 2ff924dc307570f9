package job

import (
	"context"
	"encoding/json"

	"voxkb/internal/config"
	"voxkb/internal/middleware"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// RecordFailure persists a ledger entry for a terminally failed ingestion
// run. The stored payload is a replayable queue task.
func (s *Service) RecordFailure(ctx context.Context, documentID, reason string) error {
	payload, err := json.Marshal(map[string]string{
		"document_id":    documentID,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, &Job{
		DocumentID: documentID,
		Handler:    "ingest",
		Payload:    payload,
		Error:      reason,
	})
}

// Retry republishes the stored task and removes the ledger entry.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.pub.Publish(config.TopicKnowledgeIngest, job.Payload); err != nil {
		return err
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
