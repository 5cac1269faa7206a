package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/linkgrab/internal/model"
)

const taskIDPrefix = "task-"

// ErrTaskNotFound means the given id has no task in the store
var ErrTaskNotFound = errors.New("task not found")

// UpdateFunc observes task state changes
type UpdateFunc func(task model.Task)

// Store owns all task records. Collaborators observe tasks through snapshots
// and request mutations through the transition methods; fields are never
// mutated directly, so every state change is centrally auditable.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*model.Task
	order    []string // ids in enqueue order
	onUpdate UpdateFunc
}

// NewStore creates an empty task store
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*model.Task),
	}
}

// SetUpdateCallback sets the observer for task state changes
func (s *Store) SetUpdateCallback(callback UpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = callback
}

// Enqueue creates a new Idle task for a source link
func (s *Store) Enqueue(sourceURL string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject duplicates that are still in flight
	for _, task := range s.tasks {
		if task.SourceURL == sourceURL && !task.Status.IsFinished() {
			return model.Task{}, fmt.Errorf("task already exists for link: %s", sourceURL)
		}
	}

	task := &model.Task{
		ID:         generateTaskID(),
		SourceURL:  sourceURL,
		Status:     model.TaskStatusIdle,
		Progress:   0,
		EnqueuedAt: time.Now(),
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	s.notifyLocked(task)
	return *task, nil
}

// Get returns a snapshot of a task by id
func (s *Store) Get(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[id]
	if !exists {
		return model.Task{}, false
	}
	return *task, true
}

// All returns snapshots of every task in enqueue order
func (s *Store) All() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(t *model.Task) bool { return true })
}

// Pending returns snapshots of tasks eligible for a new batch run
func (s *Store) Pending() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(t *model.Task) bool { return t.Status == model.TaskStatusIdle })
}

// Completed returns snapshots of successfully resolved tasks
func (s *Store) Completed() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(t *model.Task) bool { return t.Status == model.TaskStatusCompleted })
}

// Count returns the number of tasks in the store
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// MarkQueued moves an Idle task into a running batch snapshot
func (s *Store) MarkQueued(id string) error {
	return s.transition(id, func(task *model.Task) error {
		if task.Status != model.TaskStatusIdle {
			return transitionError(task, model.TaskStatusQueued)
		}
		task.Status = model.TaskStatusQueued
		return nil
	})
}

// ResetQueued returns a queued task to Idle, used when a batch run is
// cancelled before the task's group starts
func (s *Store) ResetQueued(id string) error {
	return s.transition(id, func(task *model.Task) error {
		if task.Status != model.TaskStatusQueued {
			return transitionError(task, model.TaskStatusIdle)
		}
		task.Status = model.TaskStatusIdle
		return nil
	})
}

// MarkResolving starts a resolution attempt for a pending or failed task
func (s *Store) MarkResolving(id string) error {
	return s.transition(id, func(task *model.Task) error {
		switch task.Status {
		case model.TaskStatusIdle, model.TaskStatusQueued, model.TaskStatusFailed:
		default:
			return transitionError(task, model.TaskStatusResolving)
		}
		task.Status = model.TaskStatusResolving
		task.Progress = 20
		task.LastError = ""
		return nil
	})
}

// MarkCompleted records a successful resolution
func (s *Store) MarkCompleted(id string, meta model.Metadata) error {
	return s.transition(id, func(task *model.Task) error {
		if task.Status != model.TaskStatusResolving {
			return transitionError(task, model.TaskStatusCompleted)
		}
		task.Status = model.TaskStatusCompleted
		task.Progress = 100
		task.Title = meta.Title
		task.ThumbnailURL = meta.ThumbnailURL
		task.FetchURL = meta.FetchURL
		task.LastError = ""
		task.FinishedAt = time.Now()
		return nil
	})
}

// MarkFailed records a terminal resolution failure
func (s *Store) MarkFailed(id string, reason string) error {
	return s.transition(id, func(task *model.Task) error {
		if task.Status != model.TaskStatusResolving {
			return transitionError(task, model.TaskStatusFailed)
		}
		if reason == "" {
			reason = "resolution failed"
		}
		task.Status = model.TaskStatusFailed
		task.Progress = 0
		task.Title = ""
		task.ThumbnailURL = ""
		task.FetchURL = ""
		task.LastError = reason
		task.FinishedAt = time.Now()
		return nil
	})
}

// ResetForRetry returns a failed task to Idle with no failure residue
func (s *Store) ResetForRetry(id string) error {
	return s.transition(id, func(task *model.Task) error {
		if task.Status != model.TaskStatusFailed {
			return transitionError(task, model.TaskStatusIdle)
		}
		task.Status = model.TaskStatusIdle
		task.Progress = 0
		task.LastError = ""
		task.FinishedAt = time.Time{}
		return nil
	})
}

// ResetAllFailed resets every failed task and returns how many were reset
func (s *Store) ResetAllFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != model.TaskStatusFailed {
			continue
		}
		task.Status = model.TaskStatusIdle
		task.Progress = 0
		task.LastError = ""
		task.FinishedAt = time.Time{}
		count++
		s.notifyLocked(task)
	}
	return count
}

// Remove deletes a task in any state
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(s.tasks, id)
	s.removeFromOrderLocked(id)
	return nil
}

// ClearCompleted deletes every completed task and returns how many were removed
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	remaining := s.order[:0]
	for _, id := range s.order {
		if s.tasks[id].Status == model.TaskStatusCompleted {
			delete(s.tasks, id)
			count++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
	return count
}

// transition applies one mutation under the lock and notifies observers
func (s *Store) transition(id string, apply func(task *model.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := apply(task); err != nil {
		return err
	}
	s.notifyLocked(task)
	return nil
}

func (s *Store) collectLocked(keep func(t *model.Task) bool) []model.Task {
	tasks := make([]model.Task, 0, len(s.order))
	for _, id := range s.order {
		if task := s.tasks[id]; keep(task) {
			tasks = append(tasks, *task)
		}
	}
	return tasks
}

func (s *Store) removeFromOrderLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) notifyLocked(task *model.Task) {
	if s.onUpdate != nil {
		s.onUpdate(*task)
	}
}

func transitionError(task *model.Task, target model.TaskStatus) error {
	return fmt.Errorf("invalid transition %s -> %s for task %s", task.Status, target, task.ID)
}

// generateTaskID generates a unique task ID using UUID v7 for better uniqueness and time ordering
func generateTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(taskIDPrefix+"%d", time.Now().UnixNano())
	}
	return taskIDPrefix + id.String()
}
