package model

// Operation status constants shared by backup records and restore operations.
// Both terminal transitions (completed, failed) are final; a record never
// leaves a terminal status.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminalStatus reports whether a status permits no further transitions.
func IsTerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed
}
