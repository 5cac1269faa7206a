package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/relay"
	"github.com/ytget/linkgrab/internal/resolve"
	"github.com/ytget/linkgrab/internal/store"
)

// directOnly routes every fetch straight at the target, no relay hosts
func directOnly() ([]relay.Transform, relay.Transform) {
	identity := relay.Transform{Name: "direct", Build: func(target string) string { return target }}
	return []relay.Transform{identity}, identity
}

func newPipeline(t *testing.T, handler http.HandlerFunc) (*Scheduler, *store.Store, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	transforms, wrapped := directOnly()
	fetcher := relay.NewFetcherWithTransforms(server.Client(), nil, transforms, wrapped)

	resolver := resolve.NewResolver(fetcher, nil)
	resolver.SetEndpoint(server.URL + "/api/")
	resolver.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })

	taskStore := store.NewStore()
	scheduler := NewScheduler(taskStore, resolver, nil)
	scheduler.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return scheduler, taskStore, server
}

func TestPipeline_ResolvesAgainstStubbedUpstream(t *testing.T) {
	scheduler, taskStore, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("url"); got != "https://x.test/@u/video/1" {
			t.Errorf("Unexpected upstream query url: %s", got)
		}
		w.Write([]byte(`{"code":0,"msg":"success","data":{"id":"1","title":"demo","cover":"https://cdn.test/c.jpg","play":"https://cdn.test/v.mp4","size":1024}}`))
	})

	task, err := taskStore.Enqueue("https://x.test/@u/video/1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := scheduler.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	current, _ := taskStore.Get(task.ID)
	if current.Status != model.TaskStatusCompleted {
		t.Fatalf("Expected Completed, got %s (error: %s)", current.Status, current.LastError)
	}
	if current.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", current.Progress)
	}
	if current.Title != "demo" {
		t.Errorf("Expected title 'demo', got '%s'", current.Title)
	}
	if current.FetchURL != "https://cdn.test/v.mp4" {
		t.Errorf("Expected fetch URL from envelope, got '%s'", current.FetchURL)
	}
}

func TestPipeline_ContinuousRateLimit(t *testing.T) {
	var attempts atomic.Int64
	scheduler, taskStore, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte(`{"code":-1,"msg":"Free Api Limit: 1 request/second."}`))
	})

	task, _ := taskStore.Enqueue("https://x.test/@u/video/1")

	if err := scheduler.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := attempts.Load(); got != 4 {
		t.Errorf("Expected exactly 4 upstream attempts, got %d", got)
	}

	current, _ := taskStore.Get(task.ID)
	if current.Status != model.TaskStatusFailed {
		t.Fatalf("Expected Failed after exhausted retries, got %s", current.Status)
	}
	if !strings.Contains(strings.ToLower(current.LastError), "limit") {
		t.Errorf("Expected reason mentioning the limit, got '%s'", current.LastError)
	}
}
