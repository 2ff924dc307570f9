package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"voxkb/internal/middleware"
)

// Task is the queue payload for one ingestion run.
type Task struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Consumer adapts the Runner to NSQ delivery semantics.
type Consumer struct {
	runner     *Runner
	runTimeout time.Duration
}

func NewConsumer(runner *Runner, runTimeout time.Duration) *Consumer {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Consumer{runner: runner, runTimeout: runTimeout}
}

func (c *Consumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if task.DocumentID == "" {
		slog.Error("poison pill: task without document_id")
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	return c.runner.Run(ctx, task.DocumentID)
}
