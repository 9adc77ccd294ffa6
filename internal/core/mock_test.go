package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/rescuedata/platform/internal/model"
)

// ---------- Mock DB ----------

// mockDB implements the DB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing. Next advances the cursor; Scan
// and Values read the current row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	fields    []pgconn.FieldDescription
	values    [][]any
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

// newValueRows returns a mockRows serving FieldDescriptions/Values readers.
func newValueRows(columns []string, values ...[]any) *mockRows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &mockRows{fields: fields, values: values}
}

func (m *mockRows) rowCount() int {
	if len(m.scanFuncs) > 0 {
		return len(m.scanFuncs)
	}
	return len(m.values)
}

func (m *mockRows) Next() bool {
	if m.callIndex < m.rowCount() {
		m.callIndex++
		return true
	}
	return false
}

func (m *mockRows) Scan(dest ...any) error {
	return m.scanFuncs[m.callIndex-1](dest...)
}

func (m *mockRows) Values() ([]any, error) {
	return m.values[m.callIndex-1], nil
}

func (m *mockRows) Err() error                                    { return m.err }
func (m *mockRows) Close()                                        {}
func (m *mockRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription  { return m.fields }
func (m *mockRows) RawValues() [][]byte                           { return nil }
func (m *mockRows) Conn() *pgx.Conn                               { return nil }

// ---------- Scan helpers ----------

// scanBackupInto returns a scan function that fills destinations in the
// ledger's backup column order.
func scanBackupInto(b model.BackupRecord) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = b.ID
		*dest[1].(*string) = b.Type
		*dest[2].(*string) = b.Name
		*dest[3].(*string) = b.FilePath
		*dest[4].(*int64) = b.FileSizeBytes
		*dest[5].(*string) = b.Checksum
		*dest[6].(*string) = b.Compression
		*dest[7].(*bool) = b.EncryptionEnabled
		*dest[8].(*map[string]string) = b.Metadata
		*dest[9].(*string) = b.Status
		*dest[10].(**string) = b.ErrorMessage
		*dest[11].(**string) = b.CreatedBy
		*dest[12].(*time.Time) = b.CreatedAt
		*dest[13].(**time.Time) = b.ExpiresAt
		*dest[14].(**time.Time) = b.CompletedAt
		return nil
	}
}
