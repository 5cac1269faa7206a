package model

// Package model defines domain data structures used across the app: resolution
// tasks, resolved metadata, and status enums. Structures are designed for
// observation by external collaborators and explicit state transitions.
