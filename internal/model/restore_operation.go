package model

import "time"

// RestoreOperation is one attempt to restore from a BackupRecord. It is only
// ever created against a completed record whose artifact passed checksum
// verification.
type RestoreOperation struct {
	ID             string            `json:"id"`
	BackupID       string            `json:"backup_id"`
	RestoreType    string            `json:"restore_type"`
	TargetLocation *string           `json:"target_location,omitempty"`
	Status         string            `json:"status"`
	Progress       int               `json:"progress"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedBy      *string           `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}
