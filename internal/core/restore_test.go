package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rescuedata/platform/internal/archive"
	"github.com/rescuedata/platform/internal/checksum"
	"github.com/rescuedata/platform/internal/model"
	"github.com/rescuedata/platform/internal/workspace"
)

type restoreFixture struct {
	db          *mockDB
	svc         *RestoreService
	verifier    *checksum.Verifier
	uploadsRoot string
}

func newRestoreFixture(t *testing.T) *restoreFixture {
	t.Helper()

	db := &mockDB{}
	logger := zerolog.Nop()

	verifier, err := checksum.NewVerifier("sha256")
	require.NoError(t, err)

	uploadsRoot := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(uploadsRoot, 0o755))

	workspaces := workspace.NewManager(filepath.Join(t.TempDir(), "temp"), logger)
	ledger := NewLedger(db)

	return &restoreFixture{
		db:          db,
		svc:         NewRestoreService(db, ledger, verifier, workspaces, uploadsRoot, logger),
		verifier:    verifier,
		uploadsRoot: uploadsRoot,
	}
}

// stubBackup registers the ledger lookup for rec and fills in its checksum
// from the artifact on disk.
func (f *restoreFixture) stubBackup(t *testing.T, rec model.BackupRecord) {
	t.Helper()
	if rec.Checksum == "" && rec.FilePath != "" {
		sum, err := f.verifier.Fingerprint(rec.FilePath)
		require.NoError(t, err)
		rec.Checksum = sum
	}
	f.db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM backups")
	}), mock.Anything).Return(&mockRow{scanFunc: scanBackupInto(rec)})
}

func (f *restoreFixture) allowLedgerWrites() {
	f.db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
}

func TestRestoreService_UnknownBackup_NoOperationRecorded(t *testing.T) {
	f := newRestoreFixture(t)

	f.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, err := f.svc.Restore(context.Background(), "missing-id", RestoreOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	// A restore that never starts leaves no trace in the ledger.
	f.db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreService_TamperedArtifact_Rejected(t *testing.T) {
	f := newRestoreFixture(t)

	artifact := filepath.Join(t.TempDir(), "files.zip")
	require.NoError(t, archive.ArchiveBlob(artifact, "a.txt", []byte("original")))

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     model.BackupTypeFiles,
		FilePath: artifact,
		Status:   model.StatusCompleted,
	})

	// Corrupt the artifact after its checksum was recorded.
	require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0o644))

	_, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	f.db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreService_MissingArtifact(t *testing.T) {
	f := newRestoreFixture(t)

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     model.BackupTypeFiles,
		FilePath: filepath.Join(t.TempDir(), "gone.zip"),
		Checksum: "irrelevant",
		Status:   model.StatusCompleted,
	})

	_, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	f.db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreService_InProgressBackup_Rejected(t *testing.T) {
	f := newRestoreFixture(t)

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     model.BackupTypeFiles,
		Checksum: "irrelevant",
		Status:   model.StatusInProgress,
	})

	_, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRestoreService_RestoreFiles(t *testing.T) {
	f := newRestoreFixture(t)
	f.allowLedgerWrites()

	srcDir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "photos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "photos", "a.jpg"), []byte("pixels"), 0o644))

	artifact := filepath.Join(t.TempDir(), "files.zip")
	require.NoError(t, archive.ArchivePaths(artifact, []string{srcDir}))

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     model.BackupTypeFiles,
		FilePath: artifact,
		Status:   model.StatusCompleted,
	})

	target := t.TempDir()
	op, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{TargetLocation: target})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, 100, op.Progress)
	assert.Equal(t, target, op.Metadata["target"])
	assert.NotNil(t, op.CompletedAt)

	got, err := os.ReadFile(filepath.Join(target, "uploads", "photos", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(got))
}

func TestRestoreService_RestoreDatabase_ReplaysDump(t *testing.T) {
	f := newRestoreFixture(t)

	dumpPath := filepath.Join(t.TempDir(), "nightly.sql")
	content := "-- database dump\n\n" +
		"INSERT INTO \"users\" (\"id\") VALUES (1);\n" +
		"INSERT INTO \"users\" (\"id\") VALUES (2);\n"
	require.NoError(t, os.WriteFile(dumpPath, []byte(content), 0o644))

	var replayed []string
	f.db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		if strings.HasPrefix(sql, "INSERT INTO \"users\"") {
			replayed = append(replayed, sql)
		}
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	f.stubBackup(t, model.BackupRecord{
		ID:          "b-1",
		Type:        model.BackupTypeDatabase,
		FilePath:    dumpPath,
		Compression: model.CompressionNone,
		Status:      model.StatusCompleted,
	})

	op, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, "2", op.Metadata["statements_executed"])
	assert.Len(t, replayed, 2)
}

func TestRestoreService_RestoreDatabase_FromArchive(t *testing.T) {
	f := newRestoreFixture(t)
	f.allowLedgerWrites()

	artifact := filepath.Join(t.TempDir(), "nightly.zip")
	require.NoError(t, archive.ArchiveBlob(artifact, "database.sql",
		[]byte("INSERT INTO \"users\" (\"id\") VALUES (1);\n")))

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     model.BackupTypeDatabase,
		FilePath: artifact,
		Status:   model.StatusCompleted,
	})

	op, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", op.Metadata["statements_executed"])
}

func TestRestoreService_RestoreFull_RoundTrip(t *testing.T) {
	bf := newBackupFixture(t)
	bf.allowLedgerWrites()
	bf.seedUploads(t, map[string]string{"photos/a.jpg": "pixels"})

	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "information_schema.tables")
	}), mock.Anything).Return(newMockRows(func(dest ...any) error {
		*dest[0].(*string) = "users"
		return nil
	}), nil)
	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, `"users"`)
	}), mock.Anything).Return(newValueRows(
		[]string{"id", "email"},
		[]any{int64(1), "ada@example.com"},
	), nil)

	rec, err := bf.svc.CreateFullBackup(context.Background(), FullBackupOptions{})
	require.NoError(t, err)

	f := newRestoreFixture(t)
	var replayed []string
	f.db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		if strings.HasPrefix(sql, "INSERT INTO \"users\"") {
			replayed = append(replayed, sql)
		}
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	f.stubBackup(t, model.BackupRecord{
		ID:       rec.ID,
		Type:     model.BackupTypeFull,
		FilePath: rec.FilePath,
		Checksum: rec.Checksum,
		Status:   model.StatusCompleted,
	})

	op, err := f.svc.Restore(context.Background(), rec.ID, RestoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, "1", op.Metadata["statements_executed"])
	assert.Equal(t, f.uploadsRoot, op.Metadata["uploads_target"])
	assert.Len(t, replayed, 1)

	got, err := os.ReadFile(filepath.Join(f.uploadsRoot, "photos", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(got))
}

func TestRestoreService_RestoreUserData_RoundTrip(t *testing.T) {
	bf := newBackupFixture(t)
	bf.allowLedgerWrites()
	bf.seedUploads(t, map[string]string{"photos/a.jpg": "pixels"})

	userID := "6f9619ff-8b86-4d01-b42d-00cf4fc964ff"
	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM users")
	}), mock.Anything).Return(newValueRows(
		[]string{"id", "email"},
		[]any{userID, "ada@example.com"},
	), nil)
	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM devices")
	}), mock.Anything).Return(newValueRows([]string{"id"}), nil)
	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM subscriptions")
	}), mock.Anything).Return(newValueRows([]string{"id"}), nil)
	bf.db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "FROM uploaded_files")
	}), mock.Anything).Return(newMockRows(func(dest ...any) error {
		*dest[0].(*string) = filepath.Join(bf.uploadsRoot, "photos", "a.jpg")
		return nil
	}), nil)

	rec, err := bf.svc.CreateUserDataBackup(context.Background(), userID, UserDataBackupOptions{IncludeFiles: true})
	require.NoError(t, err)

	f := newRestoreFixture(t)
	f.allowLedgerWrites()
	f.stubBackup(t, model.BackupRecord{
		ID:       rec.ID,
		Type:     model.BackupTypeUserData,
		FilePath: rec.FilePath,
		Checksum: rec.Checksum,
		Metadata: map[string]string{"user_id": userID},
		Status:   model.StatusCompleted,
	})

	target := t.TempDir()
	op, err := f.svc.Restore(context.Background(), rec.ID, RestoreOptions{TargetLocation: target})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, userID, op.Metadata["user_id"])
	assert.Equal(t, "1", op.Metadata["files_restored"])
	assert.Equal(t, target, op.Metadata["files_target"])
	assert.NotEqual(t, "", op.Metadata["export_bytes"])

	got, err := os.ReadFile(filepath.Join(target, "photos", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(got))
}

func TestRestoreService_UnsupportedType_RecordedAsFailed(t *testing.T) {
	f := newRestoreFixture(t)

	artifact := filepath.Join(t.TempDir(), "odd.zip")
	require.NoError(t, archive.ArchiveBlob(artifact, "x", []byte("x")))

	var failedSQL string
	f.db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		if strings.Contains(sql, "restore_operations SET status") && strings.Contains(sql, "error_message") {
			failedSQL = sql
		}
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	f.stubBackup(t, model.BackupRecord{
		ID:       "b-1",
		Type:     "snapshot",
		FilePath: artifact,
		Status:   model.StatusCompleted,
	})

	_, err := f.svc.Restore(context.Background(), "b-1", RestoreOptions{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, failedSQL, "error_message")
}

func TestRestoreService_GetOperation_NotFound(t *testing.T) {
	f := newRestoreFixture(t)

	f.db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, err := f.svc.GetOperation(context.Background(), "missing-id")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
