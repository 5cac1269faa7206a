package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/relay"
)

type fakeBinaryFetcher struct {
	mu         sync.Mutex
	failFor    map[string]error
	active     int
	maxActive  int
	totalCalls int
}

func newFakeBinaryFetcher() *fakeBinaryFetcher {
	return &fakeBinaryFetcher{failFor: make(map[string]error)}
}

func (f *fakeBinaryFetcher) Fetch(ctx context.Context, targetURL string, kind relay.Kind) ([]byte, error) {
	f.mu.Lock()
	f.active++
	f.totalCalls++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if err, ok := f.failFor[targetURL]; ok {
		return nil, err
	}
	return []byte("payload:" + targetURL), nil
}

func completedTask(i int) model.Task {
	return model.Task{
		ID:        fmt.Sprintf("task-%d", i),
		SourceURL: fmt.Sprintf("https://x.test/@u/video/%d", i),
		Status:    model.TaskStatusCompleted,
		Title:     fmt.Sprintf("clip %d", i),
		FetchURL:  fmt.Sprintf("https://cdn.test/v%d.mp4", i),
	}
}

func readEntries(t *testing.T, blob []byte) map[string]string {
	t.Helper()
	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	entries := make(map[string]string)
	for _, file := range reader.File {
		rc, err := file.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", file.Name, err)
		}
		content, _ := io.ReadAll(rc)
		rc.Close()
		entries[file.Name] = string(content)
	}
	return entries
}

func TestRun_EmptyInputIsNoOp(t *testing.T) {
	archiver := NewArchiver(newFakeBinaryFetcher(), nil)

	blob, summary, err := archiver.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if blob != nil {
		t.Error("Expected no archive for empty input")
	}
	if summary.Count != 0 {
		t.Errorf("Expected zero summary, got count %d", summary.Count)
	}
}

func TestRun_OneEntryPerInputWithPlaceholder(t *testing.T) {
	fetcher := newFakeBinaryFetcher()
	fetcher.failFor["https://cdn.test/v2.mp4"] = errors.New("relay request: connection reset")

	archiver := NewArchiver(fetcher, nil)

	tasks := []model.Task{completedTask(1), completedTask(2), completedTask(3), completedTask(4)}
	blob, summary, err := archiver.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Count != 4 {
		t.Errorf("Expected summary count 4, got %d", summary.Count)
	}

	entries := readEntries(t, blob)
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	placeholder, ok := entries["clip_2.txt"]
	if !ok {
		t.Fatalf("Expected placeholder entry clip_2.txt, got entries %v", keys(entries))
	}
	if !strings.Contains(placeholder, "connection reset") {
		t.Errorf("Placeholder must explain the failure, got '%s'", placeholder)
	}

	for _, i := range []int{1, 3, 4} {
		name := fmt.Sprintf("clip_%d.mp4", i)
		content, ok := entries[name]
		if !ok {
			t.Errorf("Expected payload entry %s", name)
			continue
		}
		if !strings.HasPrefix(content, "payload:") {
			t.Errorf("Entry %s carries unexpected content '%s'", name, content)
		}
	}
}

func TestRun_BoundsConcurrentFetches(t *testing.T) {
	fetcher := newFakeBinaryFetcher()
	archiver := NewArchiver(fetcher, nil)

	var tasks []model.Task
	for i := 1; i <= 10; i++ {
		tasks = append(tasks, completedTask(i))
	}

	if _, _, err := archiver.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.totalCalls != 10 {
		t.Errorf("Expected 10 fetches, got %d", fetcher.totalCalls)
	}
	if fetcher.maxActive > DefaultGroupSize {
		t.Errorf("Peak concurrency %d exceeds group size %d", fetcher.maxActive, DefaultGroupSize)
	}
}

func TestRun_DuplicateTitlesGetUniqueNames(t *testing.T) {
	archiver := NewArchiver(newFakeBinaryFetcher(), nil)

	first := completedTask(1)
	second := completedTask(2)
	second.Title = first.Title

	blob, _, err := archiver.Run(context.Background(), []model.Task{first, second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := readEntries(t, blob)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries despite equal titles, got %d: %v", len(entries), keys(entries))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	archiver := NewArchiver(newFakeBinaryFetcher(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := archiver.Run(ctx, []model.Task{completedTask(1)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		title    string
		expected string
	}{
		{"clip 7", "clip_7"},
		{"Morning routine!! #vibes", "Morning_routine____vibes"},
		{"///", "untitled"},
		{"", "untitled"},
		{strings.Repeat("a", 200), strings.Repeat("a", 80)},
	}

	for _, test := range tests {
		result := SanitizeFilename(test.title)
		if result != test.expected {
			t.Errorf("SanitizeFilename(%q) = %q, expected %q", test.title, result, test.expected)
		}
	}
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
