package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/resolve"
	"github.com/ytget/linkgrab/internal/store"
)

// Scheduling defaults. Group size 1 serializes resolutions against the
// upstream one-request-per-second budget; the pacing delay keeps a margin
// above it.
const (
	DefaultGroupSize = 1
	DefaultPacing    = 1300 * time.Millisecond
)

// MetadataResolver describes the resolver invoked per task.
type MetadataResolver interface {
	Resolve(ctx context.Context, sourceURL string) (model.Metadata, error)
}

// SleepFunc suspends the caller for the given duration, honoring ctx
type SleepFunc func(ctx context.Context, d time.Duration) error

// Scheduler drains pending tasks from the store in ordered groups, resolving
// group members concurrently and pacing between groups.
type Scheduler struct {
	store    *store.Store
	resolver MetadataResolver
	log      *zap.SugaredLogger

	groupSize int
	pacing    time.Duration
	sleep     SleepFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler with the default group size and pacing
func NewScheduler(taskStore *store.Store, resolver MetadataResolver, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		store:     taskStore,
		resolver:  resolver,
		log:       log,
		groupSize: DefaultGroupSize,
		pacing:    DefaultPacing,
		sleep:     sleepContext,
	}
}

// SetGroupSize overrides how many tasks resolve concurrently per group
func (s *Scheduler) SetGroupSize(size int) {
	if size > 0 {
		s.groupSize = size
	}
}

// SetPacing overrides the mandatory delay between groups
func (s *Scheduler) SetPacing(pacing time.Duration) {
	if pacing >= 0 {
		s.pacing = pacing
	}
}

// IsRunning reports whether a batch run is in flight
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run processes a snapshot of all pending tasks. A second call while one is
// in flight is a no-op. Tasks enqueued after the snapshot wait for the next
// run. Cancellation is honored at group boundaries; tasks whose group never
// started return to Idle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	snapshot := s.store.Pending()
	if len(snapshot) == 0 {
		return nil
	}
	for _, task := range snapshot {
		if err := s.store.MarkQueued(task.ID); err != nil {
			s.log.Warnw("failed to queue task", "task", task.ID, "error", err)
		}
	}
	s.log.Infow("batch run started", "tasks", len(snapshot), "group_size", s.groupSize)

	for start := 0; start < len(snapshot); start += s.groupSize {
		if start > 0 {
			if err := s.sleep(ctx, s.pacing); err != nil {
				s.requeueFrom(snapshot, start)
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			s.requeueFrom(snapshot, start)
			return err
		}

		end := start + s.groupSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		s.runGroup(ctx, snapshot[start:end])
	}

	s.log.Infow("batch run finished", "tasks", len(snapshot))
	return nil
}

// RetryFailed resets every failed task and schedules a fresh run
func (s *Scheduler) RetryFailed(ctx context.Context) error {
	if reset := s.store.ResetAllFailed(); reset == 0 {
		return nil
	}
	return s.Run(ctx)
}

// runGroup resolves all group members concurrently and waits for the full
// set to settle. One member's failure never affects its siblings.
func (s *Scheduler) runGroup(ctx context.Context, group []model.Task) {
	for _, task := range group {
		if err := s.store.MarkResolving(task.ID); err != nil {
			s.log.Warnw("failed to mark task resolving", "task", task.ID, "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, task := range group {
		wg.Add(1)
		go func(task model.Task) {
			defer wg.Done()
			meta, err := s.resolver.Resolve(ctx, task.SourceURL)
			if err != nil {
				s.store.MarkFailed(task.ID, failureReason(err))
				return
			}
			s.store.MarkCompleted(task.ID, meta)
		}(task)
	}
	wg.Wait()
}

// requeueFrom returns the unprocessed tail of a cancelled snapshot to Idle
func (s *Scheduler) requeueFrom(snapshot []model.Task, start int) {
	for _, task := range snapshot[start:] {
		if err := s.store.ResetQueued(task.ID); err != nil {
			s.log.Warnw("failed to requeue task", "task", task.ID, "error", err)
		}
	}
}

// failureReason extracts the human-readable reason for a task failure
func failureReason(err error) string {
	var resErr *resolve.ResolutionError
	if errors.As(err, &resErr) {
		return resErr.Reason
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
