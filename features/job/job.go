package job

import (
	"encoding/json"
	"time"
)

// Job is a failed ingestion task kept for inspection and manual retry.
// Payload is the original queue message so a retry replays it verbatim.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
