package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rescuedata/platform/internal/archive"
	"github.com/rescuedata/platform/internal/checksum"
	"github.com/rescuedata/platform/internal/dump"
	"github.com/rescuedata/platform/internal/metrics"
	"github.com/rescuedata/platform/internal/model"
	"github.com/rescuedata/platform/internal/workspace"
)

// RestoreOptions tune a restore attempt.
type RestoreOptions struct {
	// TargetLocation overrides the default restore destination for file-based
	// variants.
	TargetLocation string
	CreatedBy      string
}

// RestoreService validates a backup record, verifies artifact integrity, and
// dispatches to a type-specific restore routine. A restore never proceeds
// against a corrupted or tampered artifact: verification happens before a
// RestoreOperation row is even created.
type RestoreService struct {
	db          DB
	ledger      *Ledger
	verifier    *checksum.Verifier
	workspaces  *workspace.Manager
	uploadsRoot string
	logger      zerolog.Logger
}

func NewRestoreService(
	db DB,
	ledger *Ledger,
	verifier *checksum.Verifier,
	workspaces *workspace.Manager,
	uploadsRoot string,
	logger zerolog.Logger,
) *RestoreService {
	return &RestoreService{
		db:          db,
		ledger:      ledger,
		verifier:    verifier,
		workspaces:  workspaces,
		uploadsRoot: uploadsRoot,
		logger:      logger,
	}
}

// Restore runs the requested → verifying → dispatching → terminal state
// machine for one backup.
func (s *RestoreService) Restore(ctx context.Context, backupID string, opts RestoreOptions) (*model.RestoreOperation, error) {
	rec, err := s.ledger.GetBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusCompleted {
		return nil, NewError(KindNotFound, "backup %s is not completed (status: %s)", backupID, rec.Status)
	}

	if _, err := os.Stat(rec.FilePath); err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(KindNotFound, "artifact for backup %s no longer exists", backupID)
		}
		return nil, fmt.Errorf("stat artifact %s: %w", rec.FilePath, err)
	}

	ok, err := s.verifier.Verify(rec.FilePath, rec.Checksum)
	if err != nil {
		return nil, WrapError(KindOperationFailed, err, "verify artifact for backup %s", backupID)
	}
	if !ok {
		return nil, NewError(KindIntegrity, "checksum mismatch for backup %s, artifact is corrupted or tampered", backupID)
	}

	op := &model.RestoreOperation{
		ID:          uuid.NewString(),
		BackupID:    rec.ID,
		RestoreType: rec.Type,
		Status:      model.StatusInProgress,
		CreatedAt:   time.Now(),
	}
	if opts.TargetLocation != "" {
		target := opts.TargetLocation
		op.TargetLocation = &target
	}
	if opts.CreatedBy != "" {
		createdBy := opts.CreatedBy
		op.CreatedBy = &createdBy
	}
	if err := s.ledger.InsertRestore(ctx, op); err != nil {
		return nil, err
	}

	s.logger.Info().Str("restore_id", op.ID).Str("backup_id", rec.ID).Str("type", rec.Type).Msg("restore started")

	if err := s.ledger.SetRestoreProgress(ctx, op.ID, 50); err != nil {
		s.logger.Warn().Err(err).Str("restore_id", op.ID).Msg("failed to update restore progress")
	} else {
		op.Progress = 50
	}

	result, err := s.dispatch(ctx, op, rec, opts)
	if err != nil {
		s.recordFailure(ctx, op, err)
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, WrapError(KindOperationFailed, err, "restore of backup %s failed", backupID)
	}

	completedAt := time.Now()
	if err := s.ledger.CompleteRestore(ctx, op.ID, result, completedAt); err != nil {
		return nil, err
	}
	op.Status = model.StatusCompleted
	op.Progress = 100
	op.Metadata = result
	op.CompletedAt = &completedAt

	metrics.RestoresTotal.WithLabelValues(rec.Type, model.StatusCompleted).Inc()
	s.logger.Info().Str("restore_id", op.ID).Str("backup_id", rec.ID).Msg("restore completed")
	return op, nil
}

// GetOperation retrieves a restore operation by id.
func (s *RestoreService) GetOperation(ctx context.Context, id string) (*model.RestoreOperation, error) {
	return s.ledger.GetRestore(ctx, id)
}

func (s *RestoreService) dispatch(ctx context.Context, op *model.RestoreOperation, rec *model.BackupRecord, opts RestoreOptions) (map[string]string, error) {
	switch rec.Type {
	case model.BackupTypeDatabase:
		return s.restoreDatabase(ctx, op, rec)
	case model.BackupTypeFiles:
		return s.restoreFiles(rec, opts)
	case model.BackupTypeFull:
		return s.restoreFull(ctx, op, rec)
	case model.BackupTypeUserData:
		return s.restoreUserData(ctx, op, rec, opts)
	default:
		return nil, NewError(KindValidation, "unsupported backup type %q", rec.Type)
	}
}

func (s *RestoreService) recordFailure(ctx context.Context, op *model.RestoreOperation, cause error) {
	msg := cause.Error()
	if err := s.ledger.FailRestore(ctx, op.ID, msg, time.Now()); err != nil {
		s.logger.Error().Err(err).Str("restore_id", op.ID).Msg("failed to record restore failure")
	}
	op.Status = model.StatusFailed
	op.ErrorMessage = &msg

	metrics.RestoresTotal.WithLabelValues(op.RestoreType, model.StatusFailed).Inc()
	s.logger.Error().Err(cause).Str("restore_id", op.ID).Str("backup_id", op.BackupID).Msg("restore failed")
}

// restoreDatabase replays the dump's statements through the query interface.
func (s *RestoreService) restoreDatabase(ctx context.Context, op *model.RestoreOperation, rec *model.BackupRecord) (map[string]string, error) {
	var executed int
	var err error

	if filepath.Ext(rec.FilePath) == ".sql" {
		executed, err = s.replayFile(ctx, rec.FilePath)
	} else {
		err = s.workspaces.With(op.ID, func(dir string) error {
			if err := archive.Extract(rec.FilePath, dir); err != nil {
				return err
			}
			dumpPath, err := findDump(dir)
			if err != nil {
				return err
			}
			executed, err = s.replayFile(ctx, dumpPath)
			return err
		})
	}
	if err != nil {
		return nil, err
	}

	return map[string]string{"statements_executed": strconv.Itoa(executed)}, nil
}

// restoreFiles extracts the archive over the uploads root (or the requested
// target), overwriting existing files.
func (s *RestoreService) restoreFiles(rec *model.BackupRecord, opts RestoreOptions) (map[string]string, error) {
	// Sources were archived under their basename, so extracting into the
	// parent of the uploads root recreates the original tree for backups of
	// the default source. Backups taken of custom source paths land under
	// that same parent; callers restoring those pass TargetLocation to put
	// them back at their origin.
	target := opts.TargetLocation
	if target == "" {
		target = filepath.Dir(s.uploadsRoot)
	}
	if err := archive.Extract(rec.FilePath, target); err != nil {
		return nil, err
	}
	return map[string]string{"target": target}, nil
}

// restoreFull replays the embedded database dump and copies the uploads tree
// back into place.
func (s *RestoreService) restoreFull(ctx context.Context, op *model.RestoreOperation, rec *model.BackupRecord) (map[string]string, error) {
	result := map[string]string{}
	err := s.workspaces.With(op.ID, func(dir string) error {
		if err := archive.Extract(rec.FilePath, dir); err != nil {
			return err
		}

		dumpPath := filepath.Join(dir, "database.sql")
		if _, err := os.Stat(dumpPath); err == nil {
			executed, err := s.replayFile(ctx, dumpPath)
			if err != nil {
				return err
			}
			result["statements_executed"] = strconv.Itoa(executed)
		}

		uploadsDir := filepath.Join(dir, "uploads")
		if _, err := os.Stat(uploadsDir); err == nil {
			if err := archive.CopyDir(uploadsDir, s.uploadsRoot); err != nil {
				return fmt.Errorf("restore uploads: %w", err)
			}
			result["uploads_target"] = s.uploadsRoot
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// restoreUserData restores the user's files and surfaces the parsed export
// through the operation metadata. Externally-owned tables are never written.
func (s *RestoreService) restoreUserData(ctx context.Context, op *model.RestoreOperation, rec *model.BackupRecord, opts RestoreOptions) (map[string]string, error) {
	result := map[string]string{}
	if userID, ok := rec.Metadata["user_id"]; ok {
		result["user_id"] = userID
	}

	err := s.workspaces.With(op.ID, func(dir string) error {
		if err := archive.Extract(rec.FilePath, dir); err != nil {
			return err
		}

		exportPath := filepath.Join(dir, "userdata.json")
		payload, err := os.ReadFile(exportPath)
		if err != nil {
			return fmt.Errorf("read user export: %w", err)
		}
		var export map[string]json.RawMessage
		if err := json.Unmarshal(payload, &export); err != nil {
			return fmt.Errorf("parse user export: %w", err)
		}
		result["export_bytes"] = strconv.Itoa(len(payload))

		filesDir := filepath.Join(dir, "files")
		if _, err := os.Stat(filesDir); err == nil {
			target := opts.TargetLocation
			if target == "" {
				target = s.uploadsRoot
			}
			count, err := countFiles(filesDir)
			if err != nil {
				return err
			}
			if err := archive.CopyDir(filesDir, target); err != nil {
				return fmt.Errorf("restore user files: %w", err)
			}
			result["files_restored"] = strconv.Itoa(count)
			result["files_target"] = target
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RestoreService) replayFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()
	return dump.Replay(ctx, s.db, f)
}

// findDump locates the dump inside an extracted database artifact.
func findDump(dir string) (string, error) {
	direct := filepath.Join(dir, "database.sql")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	var found string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".sql" && found == "" {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no SQL dump found in artifact")
	}
	return found, nil
}

func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
