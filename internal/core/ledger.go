package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rescuedata/platform/internal/model"
)

const backupColumns = `id, type, name, file_path, file_size_bytes, checksum, compression,
	encryption_enabled, metadata, status, error_message, created_by, created_at, expires_at, completed_at`

// Ledger persists backup and restore metadata. Records are append-mostly:
// inserts plus terminal status transitions, read back by id or filter.
type Ledger struct {
	db DB
}

func NewLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) InsertBackup(ctx context.Context, b *model.BackupRecord) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO backups (`+backupColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		b.ID, b.Type, b.Name, b.FilePath, b.FileSizeBytes, b.Checksum, b.Compression,
		b.EncryptionEnabled, b.Metadata, b.Status, b.ErrorMessage, b.CreatedBy,
		b.CreatedAt, b.ExpiresAt, b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// CompleteBackup records the terminal completed transition with the final
// artifact size and checksum. It is always the last step of a backup, so a
// completed record never points at a half-written artifact.
func (l *Ledger) CompleteBackup(ctx context.Context, id string, sizeBytes int64, sum string, completedAt time.Time) error {
	_, err := l.db.Exec(ctx,
		`UPDATE backups SET status = $1, file_size_bytes = $2, checksum = $3, completed_at = $4 WHERE id = $5`,
		model.StatusCompleted, sizeBytes, sum, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("complete backup %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) FailBackup(ctx context.Context, id, message string, completedAt time.Time) error {
	_, err := l.db.Exec(ctx,
		`UPDATE backups SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		model.StatusFailed, message, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("fail backup %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) GetBackup(ctx context.Context, id string) (*model.BackupRecord, error) {
	var b model.BackupRecord
	err := l.db.QueryRow(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = $1`, id,
	).Scan(&b.ID, &b.Type, &b.Name, &b.FilePath, &b.FileSizeBytes, &b.Checksum, &b.Compression,
		&b.EncryptionEnabled, &b.Metadata, &b.Status, &b.ErrorMessage, &b.CreatedBy,
		&b.CreatedAt, &b.ExpiresAt, &b.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError(KindNotFound, "backup %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return &b, nil
}

// BackupFilter narrows ListBackups. Zero fields are ignored.
type BackupFilter struct {
	Type      string
	Status    string
	CreatedBy string
	Limit     int
	Cursor    string
}

// ListBackups returns at most filter.Limit records ordered by id, plus a flag
// for whether more follow the cursor.
func (l *Ledger) ListBackups(ctx context.Context, filter BackupFilter) ([]model.BackupRecord, bool, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.CreatedBy != "" {
		query += fmt.Sprintf(` AND created_by = $%d`, argIdx)
		args = append(args, filter.CreatedBy)
		argIdx++
	}
	if filter.Cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, filter.Cursor)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.BackupRecord
	for rows.Next() {
		var b model.BackupRecord
		if err := rows.Scan(&b.ID, &b.Type, &b.Name, &b.FilePath, &b.FileSizeBytes, &b.Checksum, &b.Compression,
			&b.EncryptionEnabled, &b.Metadata, &b.Status, &b.ErrorMessage, &b.CreatedBy,
			&b.CreatedAt, &b.ExpiresAt, &b.CompletedAt); err != nil {
			return nil, false, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate backups: %w", err)
	}

	hasMore := len(backups) > limit
	if hasMore {
		backups = backups[:limit]
	}
	return backups, hasMore, nil
}

func (l *Ledger) DeleteBackup(ctx context.Context, id string) error {
	tag, err := l.db.Exec(ctx, `DELETE FROM backups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(KindNotFound, "backup %s not found", id)
	}
	return nil
}

// ListExpiredBackups selects records past their expires_at, or older than
// defaultTTL when expires_at is null.
func (l *Ledger) ListExpiredBackups(ctx context.Context, now time.Time, defaultTTL time.Duration) ([]model.BackupRecord, error) {
	rows, err := l.db.Query(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE (expires_at IS NOT NULL AND expires_at < $1)
		    OR (expires_at IS NULL AND created_at < $2)
		 ORDER BY created_at`,
		now, now.Add(-defaultTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired backups: %w", err)
	}
	defer rows.Close()

	var backups []model.BackupRecord
	for rows.Next() {
		var b model.BackupRecord
		if err := rows.Scan(&b.ID, &b.Type, &b.Name, &b.FilePath, &b.FileSizeBytes, &b.Checksum, &b.Compression,
			&b.EncryptionEnabled, &b.Metadata, &b.Status, &b.ErrorMessage, &b.CreatedBy,
			&b.CreatedAt, &b.ExpiresAt, &b.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan expired backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired backups: %w", err)
	}
	return backups, nil
}

func (l *Ledger) InsertRestore(ctx context.Context, op *model.RestoreOperation) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO restore_operations (id, backup_id, restore_type, target_location, status,
		 progress, error_message, metadata, created_by, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		op.ID, op.BackupID, op.RestoreType, op.TargetLocation, op.Status,
		op.Progress, op.ErrorMessage, op.Metadata, op.CreatedBy, op.CreatedAt, op.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert restore operation: %w", err)
	}
	return nil
}

func (l *Ledger) SetRestoreProgress(ctx context.Context, id string, progress int) error {
	_, err := l.db.Exec(ctx,
		`UPDATE restore_operations SET progress = $1 WHERE id = $2`, progress, id)
	if err != nil {
		return fmt.Errorf("update restore progress %s: %w", id, err)
	}
	return nil
}

// CompleteRestore records the terminal completed transition with the restore
// routine's result payload.
func (l *Ledger) CompleteRestore(ctx context.Context, id string, metadata map[string]string, completedAt time.Time) error {
	_, err := l.db.Exec(ctx,
		`UPDATE restore_operations SET status = $1, progress = 100, metadata = $2, completed_at = $3 WHERE id = $4`,
		model.StatusCompleted, metadata, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("complete restore %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) FailRestore(ctx context.Context, id, message string, completedAt time.Time) error {
	_, err := l.db.Exec(ctx,
		`UPDATE restore_operations SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		model.StatusFailed, message, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("fail restore %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) GetRestore(ctx context.Context, id string) (*model.RestoreOperation, error) {
	var op model.RestoreOperation
	err := l.db.QueryRow(ctx,
		`SELECT id, backup_id, restore_type, target_location, status, progress,
		 error_message, metadata, created_by, created_at, completed_at
		 FROM restore_operations WHERE id = $1`, id,
	).Scan(&op.ID, &op.BackupID, &op.RestoreType, &op.TargetLocation, &op.Status, &op.Progress,
		&op.ErrorMessage, &op.Metadata, &op.CreatedBy, &op.CreatedAt, &op.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError(KindNotFound, "restore operation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get restore operation %s: %w", id, err)
	}
	return &op, nil
}
