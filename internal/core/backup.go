package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rescuedata/platform/internal/archive"
	"github.com/rescuedata/platform/internal/checksum"
	"github.com/rescuedata/platform/internal/dump"
	"github.com/rescuedata/platform/internal/metrics"
	"github.com/rescuedata/platform/internal/model"
	"github.com/rescuedata/platform/internal/workspace"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BackupOptions are the options shared by all backup variants.
type BackupOptions struct {
	Name        string `validate:"omitempty,max=200"`
	Compression string `validate:"omitempty,oneof=zip none"`
	// Encrypt is reserved: requesting it is rejected with a validation error
	// rather than being silently ignored.
	Encrypt   bool
	CreatedBy string `validate:"omitempty,uuid"`
	ExpiresAt *time.Time
}

type DatabaseBackupOptions struct {
	BackupOptions
	// Tables limits the dump; empty means every user table.
	Tables []string `validate:"omitempty,dive,min=1"`
}

type FilesBackupOptions struct {
	BackupOptions
	// SourcePaths defaults to the uploads root.
	SourcePaths []string `validate:"omitempty,dive,min=1"`
}

type FullBackupOptions struct {
	BackupOptions
}

type UserDataBackupOptions struct {
	BackupOptions
	// IncludeFiles joins the user's tracked uploads into the export.
	IncludeFiles bool
}

// BackupService orchestrates the four backup variants. Every variant follows
// the same skeleton: insert an in_progress record, produce the artifact,
// fingerprint it, and record the terminal transition. The record write is
// always the last step.
type BackupService struct {
	db          DB
	ledger      *Ledger
	verifier    *checksum.Verifier
	workspaces  *workspace.Manager
	dumper      *dump.Generator
	backupRoot  string
	uploadsRoot string
	logger      zerolog.Logger
}

func NewBackupService(
	db DB,
	ledger *Ledger,
	verifier *checksum.Verifier,
	workspaces *workspace.Manager,
	dumper *dump.Generator,
	backupRoot, uploadsRoot string,
	logger zerolog.Logger,
) *BackupService {
	return &BackupService{
		db:          db,
		ledger:      ledger,
		verifier:    verifier,
		workspaces:  workspaces,
		dumper:      dumper,
		backupRoot:  backupRoot,
		uploadsRoot: uploadsRoot,
		logger:      logger,
	}
}

// CreateDatabaseBackup dumps user tables as INSERT statements, optionally
// compressed. A table that fails to read is skipped with an inline marker;
// the dump still completes.
func (s *BackupService) CreateDatabaseBackup(ctx context.Context, opts DatabaseBackupOptions) (*model.BackupRecord, error) {
	if err := s.checkOptions(&opts, opts.Encrypt); err != nil {
		return nil, err
	}

	compression := opts.Compression
	if compression == "" {
		compression = model.CompressionZip
	}
	ext := ".zip"
	if compression == model.CompressionNone {
		ext = ".sql"
	}

	metadata := map[string]string{}
	if len(opts.Tables) > 0 {
		metadata["table_list"] = strings.Join(opts.Tables, ",")
	}

	rec := s.newRecord(model.BackupTypeDatabase, opts.BackupOptions, compression, ext, metadata)

	return s.run(ctx, rec, func(ctx context.Context) error {
		var buf bytes.Buffer
		if _, err := s.dumper.Write(ctx, &buf, opts.Tables); err != nil {
			return err
		}
		if compression == model.CompressionZip {
			return archive.ArchiveBlob(rec.FilePath, "database.sql", buf.Bytes())
		}
		if err := os.MkdirAll(filepath.Dir(rec.FilePath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(rec.FilePath, buf.Bytes(), 0o644)
	})
}

// CreateFilesBackup archives one or more source directories into a single
// zip artifact. Unlike the database dump, archiving is all-or-nothing.
func (s *BackupService) CreateFilesBackup(ctx context.Context, opts FilesBackupOptions) (*model.BackupRecord, error) {
	if err := s.checkOptions(&opts, opts.Encrypt); err != nil {
		return nil, err
	}

	sources := opts.SourcePaths
	if len(sources) == 0 {
		sources = []string{s.uploadsRoot}
	}

	metadata := map[string]string{"source_paths": strings.Join(sources, ",")}
	rec := s.newRecord(model.BackupTypeFiles, opts.BackupOptions, model.CompressionZip, ".zip", metadata)

	return s.run(ctx, rec, func(ctx context.Context) error {
		return archive.ArchivePaths(rec.FilePath, sources)
	})
}

// CreateFullBackup composes a raw database dump plus a copy of the uploads
// tree inside a workspace, then archives the workspace as one artifact.
func (s *BackupService) CreateFullBackup(ctx context.Context, opts FullBackupOptions) (*model.BackupRecord, error) {
	if err := s.checkOptions(&opts, opts.Encrypt); err != nil {
		return nil, err
	}

	metadata := map[string]string{"source_paths": s.uploadsRoot}
	rec := s.newRecord(model.BackupTypeFull, opts.BackupOptions, model.CompressionZip, ".zip", metadata)

	return s.run(ctx, rec, func(ctx context.Context) error {
		return s.workspaces.With(rec.ID, func(dir string) error {
			dumpPath := filepath.Join(dir, "database.sql")
			f, err := os.Create(dumpPath)
			if err != nil {
				return fmt.Errorf("create dump file: %w", err)
			}
			_, dumpErr := s.dumper.Write(ctx, f, nil)
			closeErr := f.Close()
			if dumpErr != nil {
				return dumpErr
			}
			if closeErr != nil {
				return fmt.Errorf("close dump file: %w", closeErr)
			}

			uploadsCopy := filepath.Join(dir, "uploads")
			if err := archive.CopyDir(s.uploadsRoot, uploadsCopy); err != nil {
				return fmt.Errorf("stage uploads: %w", err)
			}

			return archive.ArchivePaths(rec.FilePath, []string{dumpPath, uploadsCopy})
		})
	})
}

// CreateUserDataBackup exports one user's profile, devices and subscription
// rows as a JSON document, optionally joined with a copy of the user's
// tracked uploads, and archives the workspace.
func (s *BackupService) CreateUserDataBackup(ctx context.Context, userID string, opts UserDataBackupOptions) (*model.BackupRecord, error) {
	if userID == "" {
		return nil, NewError(KindValidation, "user id is required")
	}
	if err := s.checkOptions(&opts, opts.Encrypt); err != nil {
		return nil, err
	}

	user, err := s.collectRows(ctx, `SELECT * FROM users WHERE id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if len(user) == 0 {
		return nil, NewError(KindNotFound, "user %s not found", userID)
	}

	devices, err := s.collectRows(ctx, `SELECT * FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load devices for user %s: %w", userID, err)
	}
	subscriptions, err := s.collectRows(ctx, `SELECT * FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions for user %s: %w", userID, err)
	}

	export := map[string]any{
		"user":          user[0],
		"devices":       devices,
		"subscriptions": subscriptions,
		"exported_at":   time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode user export: %w", err)
	}

	metadata := map[string]string{"user_id": userID}
	rec := s.newRecord(model.BackupTypeUserData, opts.BackupOptions, model.CompressionZip, ".zip", metadata)

	return s.run(ctx, rec, func(ctx context.Context) error {
		return s.workspaces.With(rec.ID, func(dir string) error {
			jsonPath := filepath.Join(dir, "userdata.json")
			if err := os.WriteFile(jsonPath, payload, 0o644); err != nil {
				return fmt.Errorf("write user export: %w", err)
			}

			sources := []string{jsonPath}
			if opts.IncludeFiles {
				filesDir, err := s.stageUserFiles(ctx, userID, dir)
				if err != nil {
					return err
				}
				if filesDir != "" {
					sources = append(sources, filesDir)
				}
			}

			return archive.ArchivePaths(rec.FilePath, sources)
		})
	})
}

// GetBackup retrieves a backup record by id.
func (s *BackupService) GetBackup(ctx context.Context, id string) (*model.BackupRecord, error) {
	return s.ledger.GetBackup(ctx, id)
}

// ListBackups lists backup records with filtering and cursor pagination.
func (s *BackupService) ListBackups(ctx context.Context, filter BackupFilter) ([]model.BackupRecord, bool, error) {
	return s.ledger.ListBackups(ctx, filter)
}

// DeleteBackup removes the artifact file, then the record. When ownerID is
// given, records owned by someone else are reported as not found.
func (s *BackupService) DeleteBackup(ctx context.Context, id string, ownerID *string) error {
	rec, err := s.ledger.GetBackup(ctx, id)
	if err != nil {
		return err
	}
	if ownerID != nil && (rec.CreatedBy == nil || *rec.CreatedBy != *ownerID) {
		return NewError(KindNotFound, "backup %s not found", id)
	}

	if rec.FilePath != "" {
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove artifact %s: %w", rec.FilePath, err)
		}
	}

	if err := s.ledger.DeleteBackup(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("backup_id", id).Str("type", rec.Type).Msg("backup deleted")
	return nil
}

// ---------- internals ----------

func (s *BackupService) checkOptions(opts any, encrypt bool) error {
	if err := validate.Struct(opts); err != nil {
		return WrapError(KindValidation, err, "invalid backup options")
	}
	if encrypt {
		return NewError(KindValidation, "encryption is not supported")
	}
	return nil
}

// newRecord allocates the identifier and id-derived destination path; the
// random id keeps concurrent operations on distinct paths without locking.
func (s *BackupService) newRecord(backupType string, opts BackupOptions, compression, ext string, metadata map[string]string) *model.BackupRecord {
	id := uuid.NewString()
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s-backup-%s", backupType, time.Now().Format("20060102-150405"))
	}

	fileName := fmt.Sprintf("%s-%s%s", sanitizeName(name), id[:8], ext)

	rec := &model.BackupRecord{
		ID:          id,
		Type:        backupType,
		Name:        name,
		FilePath:    filepath.Join(s.backupRoot, backupType, fileName),
		Compression: compression,
		Metadata:    metadata,
		Status:      model.StatusInProgress,
		CreatedAt:   time.Now(),
		ExpiresAt:   opts.ExpiresAt,
	}
	if opts.CreatedBy != "" {
		createdBy := opts.CreatedBy
		rec.CreatedBy = &createdBy
	}
	return rec
}

// run executes the common backup skeleton around a variant-specific produce
// step. Production failures are written into the record and re-raised, so
// both the ledger and the caller see them.
func (s *BackupService) run(ctx context.Context, rec *model.BackupRecord, produce func(ctx context.Context) error) (*model.BackupRecord, error) {
	if err := s.ledger.InsertBackup(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("backup_id", rec.ID).Str("type", rec.Type).Str("name", rec.Name).Msg("backup started")

	if err := produce(ctx); err != nil {
		s.recordFailure(ctx, rec, err)
		return nil, WrapError(KindOperationFailed, err, "%s backup failed", rec.Type)
	}

	info, err := os.Stat(rec.FilePath)
	if err != nil {
		s.recordFailure(ctx, rec, err)
		return nil, WrapError(KindOperationFailed, err, "stat artifact")
	}

	sum, err := s.verifier.Fingerprint(rec.FilePath)
	if err != nil {
		s.recordFailure(ctx, rec, err)
		return nil, WrapError(KindOperationFailed, err, "fingerprint artifact")
	}

	completedAt := time.Now()
	if err := s.ledger.CompleteBackup(ctx, rec.ID, info.Size(), sum, completedAt); err != nil {
		// The artifact exists but the completed transition was lost. Leaving
		// the record in_progress forever would hide the cause, so try to
		// surface it in the ledger before returning.
		s.recordFailure(ctx, rec, err)
		return nil, WrapError(KindOperationFailed, err, "record backup completion")
	}

	rec.Status = model.StatusCompleted
	rec.FileSizeBytes = info.Size()
	rec.Checksum = sum
	rec.CompletedAt = &completedAt

	metrics.BackupsTotal.WithLabelValues(rec.Type, model.StatusCompleted).Inc()
	metrics.BackupArtifactBytes.WithLabelValues(rec.Type).Add(float64(info.Size()))
	s.logger.Info().
		Str("backup_id", rec.ID).
		Str("type", rec.Type).
		Int64("size_bytes", info.Size()).
		Msg("backup completed")

	return rec, nil
}

func (s *BackupService) recordFailure(ctx context.Context, rec *model.BackupRecord, cause error) {
	msg := cause.Error()
	if err := s.ledger.FailBackup(ctx, rec.ID, msg, time.Now()); err != nil {
		s.logger.Error().Err(err).Str("backup_id", rec.ID).Msg("failed to record backup failure")
	}
	rec.Status = model.StatusFailed
	rec.ErrorMessage = &msg

	metrics.BackupsTotal.WithLabelValues(rec.Type, model.StatusFailed).Inc()
	s.logger.Error().Err(cause).Str("backup_id", rec.ID).Str("type", rec.Type).Msg("backup failed")
}

// stageUserFiles copies the user's tracked uploads into the workspace,
// preserving their layout relative to the uploads root. Files the tracking
// table references but the disk no longer holds are skipped.
func (s *BackupService) stageUserFiles(ctx context.Context, userID, dir string) (string, error) {
	rows, err := s.db.Query(ctx, `SELECT file_path FROM uploaded_files WHERE user_id = $1`, userID)
	if err != nil {
		return "", fmt.Errorf("list uploaded files for user %s: %w", userID, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return "", fmt.Errorf("scan uploaded file path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate uploaded files: %w", err)
	}

	filesDir := filepath.Join(dir, "files")
	staged := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			s.logger.Warn().Str("path", p).Str("user_id", userID).Msg("tracked upload missing on disk, skipping")
			continue
		}
		target := filepath.Base(p)
		if rel, err := filepath.Rel(s.uploadsRoot, p); err == nil && !strings.HasPrefix(rel, "..") {
			target = rel
		}
		if err := archive.CopyFile(p, filepath.Join(filesDir, target)); err != nil {
			return "", fmt.Errorf("stage upload %s: %w", p, err)
		}
		staged++
	}

	if staged == 0 {
		return "", nil
	}
	return filesDir, nil
}

// collectRows reads arbitrary rows into generic maps for the JSON export.
func (s *BackupService) collectRows(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[fd.Name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue makes driver-level values JSON-friendly.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

// sanitizeName reduces a human-readable label to a safe file name component.
func sanitizeName(raw string) string {
	var out []rune
	lastDash := false
	for _, r := range raw {
		isSafe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		if isSafe {
			out = append(out, r)
			lastDash = false
			continue
		}
		if !lastDash {
			out = append(out, '-')
			lastDash = true
		}
	}
	clean := strings.Trim(string(out), "-.")
	if clean == "" {
		return "backup"
	}
	return clean
}
