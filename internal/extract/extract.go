package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrExtraction marks an unreadable or unreachable source. It is terminal:
// retrying without fixing the source cannot succeed.
var ErrExtraction = errors.New("source extraction failed")

// Source types accepted at upload time.
const (
	SourceTypeFile = "file"
	SourceTypeURL  = "url"
	SourceTypeText = "text"
)

// ValidSourceType reports whether t is one of the accepted source types.
func ValidSourceType(t string) bool {
	return t == SourceTypeFile || t == SourceTypeURL || t == SourceTypeText
}

// BlobStore persists the raw bytes of file-backed sources. The locator it
// hands out is what gets stored on the document and passed back for reads
// and deletes.
type BlobStore interface {
	Save(ctx context.Context, name string, data []byte) (locator string, err error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// Extractor turns a document source into plain text. The per-format parsing
// backends (PDF, DOCX) are external; file sources here are read as UTF-8
// text per the plain-text output contract.
type Extractor struct {
	blobs  BlobStore
	client *http.Client
}

func NewExtractor(blobs BlobStore, fetchTimeout time.Duration) *Extractor {
	if fetchTimeout <= 0 {
		fetchTimeout = 20 * time.Second
	}
	return &Extractor{
		blobs:  blobs,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Extract dispatches on source type and returns raw plain text. Callers
// normalize and reject empty output; Extract only fails when the source
// itself cannot be read.
func (e *Extractor) Extract(ctx context.Context, sourceType, locator string) (string, error) {
	switch sourceType {
	case SourceTypeText:
		return locator, nil
	case SourceTypeURL:
		return e.fetchURL(ctx, locator)
	case SourceTypeFile:
		if e.blobs == nil {
			return "", fmt.Errorf("%w: no blob store configured", ErrExtraction)
		}
		data, err := e.blobs.Get(ctx, locator)
		if err != nil {
			return "", fmt.Errorf("%w: read blob %s: %v", ErrExtraction, locator, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unknown source type %q", ErrExtraction, sourceType)
	}
}

func (e *Extractor) fetchURL(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: url source is missing its url", ErrExtraction)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrExtraction, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: fetch %s: %s", ErrExtraction, url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtraction, url, err)
	}

	return StripHTML(string(body)), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style.*?>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// StripHTML reduces an HTML page to its visible text: scripts and styles go
// entirely, remaining tags become spaces, whitespace collapses.
func StripHTML(raw string) string {
	out := scriptRe.ReplaceAllString(raw, "")
	out = styleRe.ReplaceAllString(out, "")
	out = tagRe.ReplaceAllString(out, " ")
	out = spaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
