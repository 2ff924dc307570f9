package text

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChunkConfig marks a window configuration under which the chunk loop
// could not make progress. It is a configuration bug, never retried.
var ErrChunkConfig = errors.New("chunking configuration is invalid")

// Window is one overlapping slice of a document's text, the unit of
// embedding and retrieval.
type Window struct {
	Text       string
	TokenCount int
}

// Chunk splits text into overlapping windows of windowSize whitespace
// tokens. The first window starts at token 0; each subsequent window starts
// at the previous end minus overlap, so consecutive windows share overlap
// tokens of context. When the tokens remaining past a full window are no
// more than the overlap, the final window absorbs them instead of emitting a
// near-duplicate tail, so the last window always ends at the final token.
//
// Chunk is pure: identical input and configuration produce identical
// windows, which is what makes re-ingestion (resync) safe to repeat.
func Chunk(text string, windowSize, overlap int) ([]Window, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: window size %d", ErrChunkConfig, windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, fmt.Errorf("%w: overlap %d with window size %d", ErrChunkConfig, overlap, windowSize)
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	var windows []Window
	start := 0
	for {
		end := start + windowSize
		// Absorb a short tail rather than emitting a window that is
		// almost entirely overlap.
		if len(tokens)-end <= overlap {
			end = len(tokens)
		}
		windows = append(windows, Window{
			Text:       strings.Join(tokens[start:end], " "),
			TokenCount: end - start,
		})
		if end == len(tokens) {
			return windows, nil
		}
		start = end - overlap
	}
}

// CountTokens reports the whitespace token count of text, the same unit
// Chunk windows over.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Normalize collapses runs of whitespace to single spaces and trims the
// ends. Extracted text is normalized once at the ingestion boundary before
// chunking.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
