// Package dump serializes database tables into a textual SQL dump and replays
// such dumps during restore. Dumps degrade partially: a table that fails to
// read is skipped with an inline marker instead of aborting the whole dump.
package dump

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the slice of the query interface the generator needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Dialect abstracts per-backend table enumeration so the generator never
// branches on the underlying engine.
type Dialect interface {
	ListUserTables(ctx context.Context) ([]string, error)
}

// PostgresDialect enumerates user tables in the public schema.
type PostgresDialect struct {
	db Querier
}

func NewPostgresDialect(db Querier) *PostgresDialect {
	return &PostgresDialect{db: db}
}

func (d *PostgresDialect) ListUserTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list user tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// Generator produces INSERT-statement dumps of a set of tables.
type Generator struct {
	db      Querier
	dialect Dialect
}

func NewGenerator(db Querier, dialect Dialect) *Generator {
	return &Generator{db: db, dialect: dialect}
}

// Result summarizes one dump run.
type Result struct {
	Tables  []string
	Skipped []string
	Rows    int
}

// Write serializes the given tables (all user tables when empty) as INSERT
// statements into w.
func (g *Generator) Write(ctx context.Context, w io.Writer, tables []string) (*Result, error) {
	if len(tables) == 0 {
		var err error
		tables, err = g.dialect.ListUserTables(ctx)
		if err != nil {
			return nil, err
		}
	}

	if _, err := fmt.Fprintf(w, "-- database dump generated at %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("write dump header: %w", err)
	}

	res := &Result{Tables: tables}
	for _, table := range tables {
		n, err := g.writeTable(ctx, w, table)
		if err != nil {
			// Partial-degradation policy: mark and move on.
			res.Skipped = append(res.Skipped, table)
			if _, werr := fmt.Fprintf(w, "\n-- skipped table %s: %s\n", table, err); werr != nil {
				return nil, fmt.Errorf("write skip marker: %w", werr)
			}
			continue
		}
		res.Rows += n
	}
	return res, nil
}

func (g *Generator) writeTable(ctx context.Context, w io.Writer, table string) (int, error) {
	rows, err := g.db.Query(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	// The section is staged in a per-table buffer and copied out only after
	// the table reads cleanly. A table that fails mid-read contributes no
	// partial INSERT block; its skip marker replaces the section entirely.
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n-- table %s\n", table)

	var cols []string
	count := 0
	for rows.Next() {
		if cols == nil {
			for _, fd := range rows.FieldDescriptions() {
				cols = append(cols, quoteIdent(fd.Name))
			}
		}

		values, err := rows.Values()
		if err != nil {
			return 0, err
		}

		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = literal(v)
		}

		fmt.Fprintf(&buf, "INSERT INTO %s (%s) VALUES (%s);\n",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(literals, ", "))
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return count, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// literal renders a row value as a SQL literal.
func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return quoteString(x)
	case []byte:
		return `'\x` + hex.EncodeToString(x) + `'`
	case time.Time:
		return quoteString(x.UTC().Format("2006-01-02 15:04:05.999999+00"))
	case [16]byte:
		// uuid column scanned without a registered codec
		return quoteString(formatUUID(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", x)
	default:
		return quoteString(fmt.Sprintf("%v", x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
