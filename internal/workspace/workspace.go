// Package workspace allocates ephemeral per-operation staging directories
// under the temp root. Multi-step backups compose their intermediate
// artifacts here before the final archive is produced.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

type Manager struct {
	root   string
	logger zerolog.Logger
}

func NewManager(root string, logger zerolog.Logger) *Manager {
	return &Manager{root: root, logger: logger}
}

// Acquire creates a fresh directory for the operation. Operation ids are
// unique per call, so concurrent operations never share a workspace.
func (m *Manager) Acquire(operationID string) (string, error) {
	dir := filepath.Join(m.root, operationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Release removes the workspace recursively. Best-effort: failures are
// logged, never returned, so cleanup can sit on every exit path.
func (m *Manager) Release(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn().Err(err).Str("workspace", dir).Msg("failed to release workspace")
	}
}

// With runs fn inside a freshly acquired workspace and guarantees release on
// both success and failure paths.
func (m *Manager) With(operationID string, fn func(dir string) error) error {
	dir, err := m.Acquire(operationID)
	if err != nil {
		return err
	}
	defer m.Release(dir)
	return fn(dir)
}
