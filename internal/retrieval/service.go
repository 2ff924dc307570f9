package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voxkb/internal/middleware"
	"voxkb/internal/settings"
	"voxkb/internal/vector"
)

const contextHeader = "Relevant Knowledge:"

// Result is the outcome of one retrieval call. Context is empty when nothing
// cleared the score threshold.
type Result struct {
	Context   string  `json:"context"`
	Applied   bool    `json:"applied"`
	TopScore  float64 `json:"top_score"`
	LatencyMs int64   `json:"latency_ms"`
}

// Options are per-call overrides for the settings-driven defaults.
type Options struct {
	TopK      *int
	Threshold *float64
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	embedder Embedder
	index    vector.Index
	settings *settings.Service
	logger   *QueryLogger

	defaultTopK      int
	defaultThreshold float64
}

func NewService(e Embedder, idx vector.Index, set *settings.Service, l *QueryLogger, defaultTopK int, defaultThreshold float64) *Service {
	return &Service{
		embedder:         e,
		index:            idx,
		settings:         set,
		logger:           l,
		defaultTopK:      defaultTopK,
		defaultThreshold: defaultThreshold,
	}
}

// Retrieve embeds the query, searches the caller's scope, and returns a
// numbered context block when the best hit clears the threshold. It never
// returns an error: retrieval is advisory and a failure must not break the
// calling conversation, so failures degrade to an empty context and are
// visible only in the query log.
func (s *Service) Retrieve(ctx context.Context, assistantID, workspaceID, query string, opts *Options) Result {
	start := time.Now()
	entry := QueryLogEntry{
		AssistantID:   assistantID,
		WorkspaceID:   workspaceID,
		Query:         query,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	var res Result

	defer func() {
		res.LatencyMs = time.Since(start).Milliseconds()
		entry.Duration = time.Since(start)
		entry.TopScore = res.TopScore
		entry.Applied = res.Applied
		if s.logger != nil {
			s.logger.Log(entry)
		}
	}()

	if assistantID == "" || workspaceID == "" || strings.TrimSpace(query) == "" {
		return res
	}

	topK := s.defaultTopK
	threshold := s.defaultThreshold
	if s.settings != nil {
		if cfg, err := s.settings.Get(ctx); err == nil {
			if cfg.SearchTopK > 0 {
				topK = cfg.SearchTopK
			}
			if cfg.ScoreThreshold > 0 {
				threshold = cfg.ScoreThreshold
			}
		}
	}
	if opts != nil {
		if opts.TopK != nil && *opts.TopK > 0 {
			topK = *opts.TopK
		}
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		entry.Error = err.Error()
		return res
	}

	hits, err := s.index.SearchFiltered(ctx, vec, assistantID, workspaceID, topK)
	if err != nil {
		entry.Error = err.Error()
		return res
	}

	entry.NumResults = len(hits)
	if len(hits) == 0 {
		return res
	}

	res.TopScore = hits[0].Score
	if hits[0].Score < threshold {
		return res
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	n := 0
	for _, h := range hits {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s", n, h.Text)
	}
	if n == 0 {
		return res
	}
	res.Context = b.String()
	res.Applied = true
	return res
}
