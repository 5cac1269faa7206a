package model

import (
	"fmt"
	"strings"
	"time"
)

// Task represents a single source link queued for resolution
type Task struct {
	ID           string
	SourceURL    string // input link; immutable after enqueue
	Status       TaskStatus
	Progress     int    // 0 to 100, advisory only
	Title        string // resolved title, set on completion
	ThumbnailURL string // resolved thumbnail locator, set on completion
	FetchURL     string // binary payload locator, set on completion
	LastError    string // last error message, set on failure
	EnqueuedAt   time.Time
	FinishedAt   time.Time
}

// Metadata is the result of resolving a source link
type Metadata struct {
	Title        string
	ThumbnailURL string
	FetchURL     string
	Size         int64
}

// BatchSummary is a point-in-time aggregate over the completed subset
type BatchSummary struct {
	Count int
	Label string
}

// GetDisplayTitle returns the resolved title or a compacted source link
func (t *Task) GetDisplayTitle() string {
	// First priority: resolved title (non-URL)
	if t.Title != "" && !strings.HasPrefix(t.Title, "http") {
		return t.Title
	}

	if t.SourceURL == "" {
		return ""
	}
	return t.SourceURL
}

// NewBatchSummary builds a summary label for a completed set at a point in time
func NewBatchSummary(count int, at time.Time) BatchSummary {
	return BatchSummary{
		Count: count,
		Label: fmt.Sprintf("batch of %d at %s", count, at.Format("2006-01-02 15:04:05")),
	}
}
