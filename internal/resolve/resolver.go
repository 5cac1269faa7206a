package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/relay"
)

// Retry policy for rate-limited resolutions
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2000 * time.Millisecond
	DefaultBackoffStep = 1000 * time.Millisecond

	// DefaultEndpoint is the upstream resolution service
	DefaultEndpoint = "https://www.tikwm.com/api/"

	genericFailureReason = "resolution service returned no usable data"
)

// ErrRateLimited means the upstream explicitly throttled the request
var ErrRateLimited = errors.New("upstream rate limited")

// ResolutionError is the terminal failure of one resolve call
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string {
	return "resolution failed: " + e.Reason
}

// apiResponse is the upstream envelope. Success is decided by the code
// discriminator plus a non-empty data object, never by HTTP status alone.
type apiResponse struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data *apiData `json:"data"`
}

type apiData struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cover string `json:"cover"`
	Play  string `json:"play"`
	Size  int64  `json:"size"`
}

// PayloadFetcher describes the relay fetcher used by the resolver.
type PayloadFetcher interface {
	Fetch(ctx context.Context, targetURL string, kind relay.Kind) ([]byte, error)
}

// SleepFunc suspends the caller for the given duration, honoring ctx
type SleepFunc func(ctx context.Context, d time.Duration) error

// Resolver turns a source link into resolved metadata, retrying only
// rate-limited failures within a bounded policy.
type Resolver struct {
	fetcher     PayloadFetcher
	endpoint    string
	maxRetries  int
	backoffBase time.Duration
	backoffStep time.Duration
	sleep       SleepFunc
	log         *zap.SugaredLogger
}

// NewResolver creates a resolver with the default endpoint and retry policy
func NewResolver(fetcher PayloadFetcher, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{
		fetcher:     fetcher,
		endpoint:    DefaultEndpoint,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffStep: DefaultBackoffStep,
		sleep:       sleepContext,
		log:         log,
	}
}

// SetEndpoint overrides the upstream resolution endpoint
func (r *Resolver) SetEndpoint(endpoint string) {
	if endpoint != "" {
		r.endpoint = endpoint
	}
}

// SetMaxRetries overrides the number of delayed retries for rate limits
func (r *Resolver) SetMaxRetries(max int) {
	if max >= 0 {
		r.maxRetries = max
	}
}

// SetSleep overrides how backoff delays are awaited, for tests with an
// injected clock
func (r *Resolver) SetSleep(sleep SleepFunc) {
	if sleep != nil {
		r.sleep = sleep
	}
}

// Resolve resolves one source link. Rate-limited failures are retried up to
// maxRetries times with an increasing delay; every other failure is terminal
// for this call and surfaced immediately.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (model.Metadata, error) {
	for attempt := 0; ; attempt++ {
		meta, err := r.resolveOnce(ctx, sourceURL)
		if err == nil {
			return meta, nil
		}

		if !errors.Is(err, ErrRateLimited) {
			return model.Metadata{}, err
		}
		if attempt >= r.maxRetries {
			return model.Metadata{}, &ResolutionError{Reason: rateLimitReason(err)}
		}

		delay := r.backoffBase + time.Duration(attempt)*r.backoffStep
		r.log.Debugw("rate limited, backing off", "source", sourceURL, "attempt", attempt+1, "delay", delay)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return model.Metadata{}, sleepErr
		}
	}
}

// resolveOnce performs a single resolution attempt without retry
func (r *Resolver) resolveOnce(ctx context.Context, sourceURL string) (model.Metadata, error) {
	requestURL := r.endpoint + "?url=" + url.QueryEscape(sourceURL) + "&hd=1"

	payload, err := r.fetcher.Fetch(ctx, requestURL, relay.KindMetadata)
	if err != nil {
		if isRateLimitMessage(err.Error()) {
			return model.Metadata{}, fmt.Errorf("%w: %s", ErrRateLimited, err.Error())
		}
		return model.Metadata{}, &ResolutionError{Reason: err.Error()}
	}

	var resp apiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return model.Metadata{}, &ResolutionError{Reason: genericFailureReason}
	}

	if resp.Code != 0 || resp.Data == nil {
		if isRateLimitMessage(resp.Msg) {
			return model.Metadata{}, fmt.Errorf("%w: %s", ErrRateLimited, resp.Msg)
		}
		reason := strings.TrimSpace(resp.Msg)
		if reason == "" {
			reason = genericFailureReason
		}
		return model.Metadata{}, &ResolutionError{Reason: reason}
	}

	title := strings.TrimSpace(resp.Data.Title)
	if title == "" {
		title = "video-" + resp.Data.ID
	}

	return model.Metadata{
		Title:        title,
		ThumbnailURL: resp.Data.Cover,
		FetchURL:     resp.Data.Play,
		Size:         resp.Data.Size,
	}, nil
}

// isRateLimitMessage reports whether a provider message indicates throttling
func isRateLimitMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "limit")
}

// rateLimitReason extracts the provider message from a rate-limit error
func rateLimitReason(err error) string {
	msg := strings.TrimPrefix(err.Error(), ErrRateLimited.Error()+": ")
	if msg == "" {
		return ErrRateLimited.Error()
	}
	return msg
}

// sleepContext suspends without busy waiting and aborts on cancellation
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
