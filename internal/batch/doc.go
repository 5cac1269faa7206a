package batch

// Package batch implements the concurrency-bounded batch scheduler. It drains
// pending tasks from the store in ordered groups, resolves group members
// concurrently behind a barrier, and paces between groups to respect the
// upstream request-rate budget.
