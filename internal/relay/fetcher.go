package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Fetch timeouts per payload kind
const (
	MetadataTimeout = 8 * time.Second
	BinaryTimeout   = 15 * time.Second
)

// ErrAllRelaysExhausted means every relay transform failed for one fetch call
var ErrAllRelaysExhausted = errors.New("all relays exhausted")

// Kind selects the timeout and decoding path for a fetch
type Kind int

const (
	// KindMetadata expects a JSON document and uses the short timeout
	KindMetadata Kind = iota

	// KindBinary expects an opaque payload and uses the long timeout
	KindBinary
)

// HTTPDoer describes the HTTP client used by the fetcher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transform rewrites a target URL into a relayed request URL. Transforms are
// tried in fixed order; the identity transform goes last.
type Transform struct {
	Name  string
	Build func(target string) string
}

// wrappedEnvelope is the response shape of the enveloping relay: the real
// payload is carried as a string field instead of the raw body.
type wrappedEnvelope struct {
	Contents string `json:"contents"`
}

// Fetcher performs one logical fetch by trying an ordered list of relay
// transforms against a target URL. It is stateless across invocations.
type Fetcher struct {
	client     HTTPDoer
	transforms []Transform
	wrapped    Transform
	log        *zap.SugaredLogger
}

// DefaultTransforms returns the built-in relay order, identity last.
func DefaultTransforms() []Transform {
	return []Transform{
		{Name: "corsproxy", Build: func(target string) string {
			return "https://corsproxy.io/?url=" + url.QueryEscape(target)
		}},
		{Name: "codetabs", Build: func(target string) string {
			return "https://api.codetabs.com/v1/proxy?quest=" + url.QueryEscape(target)
		}},
		{Name: "allorigins-raw", Build: func(target string) string {
			return "https://api.allorigins.win/raw?url=" + url.QueryEscape(target)
		}},
		{Name: "direct", Build: func(target string) string {
			return target
		}},
	}
}

// DefaultWrappedTransform returns the extra metadata-only fallback whose
// response body is an envelope carrying the real payload as a string field.
func DefaultWrappedTransform() Transform {
	return Transform{Name: "allorigins-get", Build: func(target string) string {
		return "https://api.allorigins.win/get?url=" + url.QueryEscape(target)
	}}
}

// NewFetcher creates a fetcher with the default relay order
func NewFetcher(client HTTPDoer, log *zap.SugaredLogger) *Fetcher {
	return NewFetcherWithTransforms(client, log, DefaultTransforms(), DefaultWrappedTransform())
}

// NewFetcherWithTransforms creates a fetcher with an explicit relay order
func NewFetcherWithTransforms(client HTTPDoer, log *zap.SugaredLogger, transforms []Transform, wrapped Transform) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fetcher{
		client:     client,
		transforms: transforms,
		wrapped:    wrapped,
		log:        log,
	}
}

// Fetch tries each relay transform in order and returns the first payload
// that passes validation for the given kind. Per-transform errors are
// absorbed; ErrAllRelaysExhausted is returned when every transform fails.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, kind Kind) ([]byte, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("target is not an absolute URL: %s", targetURL)
	}

	timeout := MetadataTimeout
	if kind == KindBinary {
		timeout = BinaryTimeout
	}

	for _, transform := range f.transforms {
		payload, err := f.fetchOnce(ctx, transform.Build(targetURL), timeout)
		if err != nil {
			f.log.Debugw("relay attempt failed", "relay", transform.Name, "error", err)
			continue
		}
		if kind == KindMetadata && !isStructured(payload) {
			f.log.Debugw("relay returned unparseable metadata", "relay", transform.Name)
			continue
		}
		return payload, nil
	}

	if kind == KindMetadata {
		if payload, err := f.fetchWrapped(ctx, targetURL, timeout); err == nil {
			return payload, nil
		}
	}

	return nil, ErrAllRelaysExhausted
}

// fetchOnce issues one relayed request with a per-attempt timeout
func (f *Fetcher) fetchOnce(ctx context.Context, requestURL string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("relay returned empty body")
	}

	return payload, nil
}

// fetchWrapped tries the enveloping relay and unwraps its contents field
func (f *Fetcher) fetchWrapped(ctx context.Context, targetURL string, timeout time.Duration) ([]byte, error) {
	body, err := f.fetchOnce(ctx, f.wrapped.Build(targetURL), timeout)
	if err != nil {
		f.log.Debugw("wrapped relay attempt failed", "relay", f.wrapped.Name, "error", err)
		return nil, err
	}

	var envelope wrappedEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode relay envelope: %w", err)
	}

	payload := []byte(envelope.Contents)
	if !isStructured(payload) {
		return nil, errors.New("envelope contents are not structured")
	}
	return payload, nil
}

// isStructured reports whether the payload parses as a JSON document.
// Response content-type headers are not trusted; parseability decides.
func isStructured(payload []byte) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(payload, &probe) == nil
}
