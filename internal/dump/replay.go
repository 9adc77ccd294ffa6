package dump

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of the query interface replay needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Replay executes the statements of a dump produced by Generator.Write.
// Comment lines and blank lines are ignored; statements end with a
// semicolon at end of line. It returns the number of executed statements.
func Replay(ctx context.Context, db Execer, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var stmt strings.Builder
	executed := 0
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		stmt.WriteString(line)
		stmt.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		if _, err := db.Exec(ctx, stmt.String()); err != nil {
			return executed, fmt.Errorf("replay statement %d: %w", executed+1, err)
		}
		executed++
		stmt.Reset()
	}
	if err := scanner.Err(); err != nil {
		return executed, fmt.Errorf("read dump: %w", err)
	}
	if strings.TrimSpace(stmt.String()) != "" {
		return executed, fmt.Errorf("dump ends with unterminated statement")
	}
	return executed, nil
}
