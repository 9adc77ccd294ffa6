package core

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescuedata/platform/internal/metrics"
)

// DefaultRetention applies to records without an explicit expires_at.
const DefaultRetention = 30 * 24 * time.Hour

// CleanupService removes expired backup artifacts and their records. File
// deletion happens before record deletion, so a crash mid-cleanup leaves a
// record that is simply retried on the next run; a missing file is tolerated.
type CleanupService struct {
	ledger    *Ledger
	retention time.Duration
	logger    zerolog.Logger
}

func NewCleanupService(ledger *Ledger, logger zerolog.Logger) *CleanupService {
	return &CleanupService{ledger: ledger, retention: DefaultRetention, logger: logger}
}

// Run performs one cleanup pass and returns the number of removed records.
// Per-record failures are logged and skipped; running twice in succession is
// harmless.
func (s *CleanupService) Run(ctx context.Context) (int, error) {
	expired, err := s.ledger.ListExpiredBackups(ctx, time.Now(), s.retention)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range expired {
		if rec.FilePath != "" {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("backup_id", rec.ID).Str("path", rec.FilePath).
					Msg("failed to remove expired artifact, will retry next run")
				continue
			}
		}

		if err := s.ledger.DeleteBackup(ctx, rec.ID); err != nil {
			if IsNotFound(err) {
				continue
			}
			s.logger.Warn().Err(err).Str("backup_id", rec.ID).Msg("failed to delete expired backup record")
			continue
		}

		removed++
		metrics.RetentionDeletedTotal.Inc()
		s.logger.Info().Str("backup_id", rec.ID).Str("type", rec.Type).Msg("expired backup removed")
	}

	return removed, nil
}
