// Package scheduler runs the periodic retention jobs: automatic backup
// creation and expired-artifact cleanup. It is an explicit component started
// by the process entry point; nothing here wires itself into construction of
// other services.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/rescuedata/platform/internal/core"
	"github.com/rescuedata/platform/internal/model"
)

// BackupCreator is the slice of the backup manager the scheduler drives.
type BackupCreator interface {
	CreateDatabaseBackup(ctx context.Context, opts core.DatabaseBackupOptions) (*model.BackupRecord, error)
	CreateFullBackup(ctx context.Context, opts core.FullBackupOptions) (*model.BackupRecord, error)
}

// Cleaner runs one retention cleanup pass.
type Cleaner interface {
	Run(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	backups BackupCreator
	cleanup Cleaner
	logger  zerolog.Logger
}

func New(backups BackupCreator, cleanup Cleaner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		backups: backups,
		cleanup: cleanup,
		logger:  logger,
	}
}

// Start registers the jobs and begins the cron loop: daily database backup,
// weekly full backup, daily cleanup. Job failures are logged, never
// escalated; a missed scheduled backup must not crash the process.
func (s *Scheduler) Start() error {
	if err := s.cron.AddFunc("@daily", s.RunDatabaseBackup); err != nil {
		return fmt.Errorf("schedule database backup: %w", err)
	}
	if err := s.cron.AddFunc("@weekly", s.RunFullBackup); err != nil {
		return fmt.Errorf("schedule full backup: %w", err)
	}
	if err := s.cron.AddFunc("@daily", s.RunCleanup); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Msg("retention scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("retention scheduler stopped")
}

// RunDatabaseBackup creates one automatic database backup.
func (s *Scheduler) RunDatabaseBackup() {
	ctx := context.Background()
	name := fmt.Sprintf("scheduled-database-%s", time.Now().Format("20060102"))
	if _, err := s.backups.CreateDatabaseBackup(ctx, core.DatabaseBackupOptions{
		BackupOptions: core.BackupOptions{Name: name},
	}); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("scheduled database backup failed")
		return
	}
	s.logger.Info().Str("name", name).Msg("scheduled database backup completed")
}

// RunFullBackup creates one automatic full backup.
func (s *Scheduler) RunFullBackup() {
	ctx := context.Background()
	name := fmt.Sprintf("scheduled-full-%s", time.Now().Format("20060102"))
	if _, err := s.backups.CreateFullBackup(ctx, core.FullBackupOptions{
		BackupOptions: core.BackupOptions{Name: name},
	}); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("scheduled full backup failed")
		return
	}
	s.logger.Info().Str("name", name).Msg("scheduled full backup completed")
}

// RunCleanup performs one retention cleanup pass.
func (s *Scheduler) RunCleanup() {
	removed, err := s.cleanup.Run(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("retention cleanup completed")
	}
}
