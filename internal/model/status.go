package model

// TaskStatus represents the lifecycle state of a resolution task
type TaskStatus string

const (
	// TaskStatusIdle means the task is created but not yet picked up
	TaskStatusIdle TaskStatus = "Idle"

	// TaskStatusQueued means the task is part of a running batch snapshot
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusResolving means metadata resolution is in progress
	TaskStatusResolving TaskStatus = "Resolving"

	// TaskStatusCompleted means the task resolved successfully
	TaskStatusCompleted TaskStatus = "Completed"

	// TaskStatusFailed means the task failed with an error
	TaskStatusFailed TaskStatus = "Failed"
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	return string(ts)
}

// IsPending returns true if the task is eligible to be picked up by a batch run
func (ts TaskStatus) IsPending() bool {
	return ts == TaskStatusIdle || ts == TaskStatusQueued
}

// IsFinished returns true if the task reached a terminal state
func (ts TaskStatus) IsFinished() bool {
	return ts == TaskStatusCompleted || ts == TaskStatusFailed
}
