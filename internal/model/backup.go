package model

import "time"

// BackupRecord is one artifact produced by a backup operation. A record is
// inserted with StatusInProgress before any artifact work starts, so a crash
// mid-backup leaves a visibly incomplete record rather than silent loss.
type BackupRecord struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	FilePath      string `json:"file_path,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	Checksum      string `json:"checksum,omitempty"`
	Compression   string `json:"compression"`
	// EncryptionEnabled is persisted but reserved; archive production never
	// encrypts and options requesting it are rejected up front.
	EncryptionEnabled bool              `json:"encryption_enabled"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Status            string            `json:"status"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
	CreatedBy         *string           `json:"created_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

const (
	BackupTypeDatabase = "database"
	BackupTypeFiles    = "files"
	BackupTypeFull     = "full"
	BackupTypeUserData = "user_data"
)

const (
	CompressionZip  = "zip"
	CompressionNone = "none"
)
