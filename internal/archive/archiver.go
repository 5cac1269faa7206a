package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/relay"
)

const (
	// DefaultGroupSize bounds concurrent binary fetches and peak memory
	DefaultGroupSize = 3

	maxFilenameLength = 80
	defaultExtension  = ".mp4"
)

// PayloadFetcher describes the relay fetcher used for binary payloads.
type PayloadFetcher interface {
	Fetch(ctx context.Context, targetURL string, kind relay.Kind) ([]byte, error)
}

// entry is one archive member, either a payload or a failure placeholder
type entry struct {
	name        string
	payload     []byte
	placeholder bool
}

// Archiver fetches binary payloads of completed tasks in bounded groups and
// packs them into a single zip blob. A failed fetch becomes a plain-text
// placeholder entry instead of failing the whole archive.
type Archiver struct {
	fetcher   PayloadFetcher
	groupSize int
	log       *zap.SugaredLogger
}

// NewArchiver creates an archiver with the default group size
func NewArchiver(fetcher PayloadFetcher, log *zap.SugaredLogger) *Archiver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Archiver{
		fetcher:   fetcher,
		groupSize: DefaultGroupSize,
		log:       log,
	}
}

// SetGroupSize overrides how many binary fetches run concurrently
func (a *Archiver) SetGroupSize(size int) {
	if size > 0 {
		a.groupSize = size
	}
}

// Run packs the given completed tasks into one zip archive. The archive
// carries exactly one entry per input task. An empty input produces no
// archive and a zero summary.
func (a *Archiver) Run(ctx context.Context, tasks []model.Task) ([]byte, model.BatchSummary, error) {
	if len(tasks) == 0 {
		return nil, model.BatchSummary{}, nil
	}

	entries := make([]entry, len(tasks))
	names := newNameSet()

	// Groups are awaited sequentially; group N+1 starts only after group N
	// fully settles. No inter-group pacing: the binary host is not subject
	// to the resolution rate limit.
	for start := 0; start < len(tasks); start += a.groupSize {
		if err := ctx.Err(); err != nil {
			return nil, model.BatchSummary{}, err
		}

		end := start + a.groupSize
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				entries[i] = a.fetchEntry(ctx, tasks[i])
			}(i)
		}
		wg.Wait()
	}

	// Filenames are made unique after all fetches settle so entry order is
	// deterministic regardless of completion order within a group.
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	placeholders := 0
	for i := range entries {
		if entries[i].placeholder {
			placeholders++
		}
		entries[i].name = names.unique(entries[i].name)
		writer, err := zw.Create(entries[i].name)
		if err != nil {
			return nil, model.BatchSummary{}, fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := writer.Write(entries[i].payload); err != nil {
			return nil, model.BatchSummary{}, fmt.Errorf("write archive entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, model.BatchSummary{}, fmt.Errorf("finalize archive: %w", err)
	}

	summary := model.NewBatchSummary(len(tasks), time.Now())
	a.log.Infow("archive packed", "entries", len(entries), "placeholders", placeholders, "bytes", buf.Len())
	return buf.Bytes(), summary, nil
}

// fetchEntry fetches one task's payload or builds its placeholder
func (a *Archiver) fetchEntry(ctx context.Context, task model.Task) entry {
	base := SanitizeFilename(task.GetDisplayTitle())

	payload, err := a.fetcher.Fetch(ctx, task.FetchURL, relay.KindBinary)
	if err != nil {
		a.log.Warnw("binary fetch failed, packing placeholder", "task", task.ID, "error", err)
		text := fmt.Sprintf("Could not fetch %s\nSource: %s\nError: %v\n", task.GetDisplayTitle(), task.SourceURL, err)
		return entry{
			name:        base + ".txt",
			payload:     []byte(text),
			placeholder: true,
		}
	}

	return entry{
		name:    base + extensionFor(task.FetchURL),
		payload: payload,
	}
}

// SanitizeFilename replaces non-alphanumeric runes and caps the length so
// titles from arbitrary sources produce safe archive entry names.
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "untitled"
	}
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	return name
}

// extensionFor derives an entry extension from the payload locator
func extensionFor(fetchURL string) string {
	ext := path.Ext(strings.SplitN(fetchURL, "?", 2)[0])
	if ext == "" || len(ext) > 5 {
		return defaultExtension
	}
	return ext
}

// nameSet deduplicates archive entry names
type nameSet struct {
	seen map[string]int
}

func newNameSet() *nameSet {
	return &nameSet{seen: make(map[string]int)}
}

func (n *nameSet) unique(name string) string {
	count := n.seen[name]
	n.seen[name] = count + 1
	if count == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), count, ext)
}
