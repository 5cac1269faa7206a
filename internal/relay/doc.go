package relay

// Package relay implements the multi-endpoint fallback fetch: an ordered list
// of relay transforms is tried against a target URL until one returns a
// payload that validates for the requested kind. Per-transform failures are
// absorbed; only full exhaustion surfaces to the caller.
