package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig defines the parameters for a multi-row insert.
type InsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns in row order
	ConflictKeys []string // unique constraint; conflicting rows are skipped
}

// InsertIgnore inserts rows in a single statement, skipping rows that
// conflict on ConflictKeys. It returns the number of rows inserted.
func InsertIgnore(ctx context.Context, ex Execer, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: insert: no conflict keys specified")
	}

	sql, args, err := buildInsert(cfg, rows)
	if err != nil {
		return 0, err
	}

	tag, err := ex.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func buildInsert(cfg InsertConfig, rows [][]any) (string, []any, error) {
	width := len(cfg.Columns)
	args := make([]any, 0, len(rows)*width)
	values := make([]string, 0, len(rows))

	for i, row := range rows {
		if len(row) != width {
			return "", nil, eris.Errorf("db: insert: row %d has %d values, want %d", i, len(row), width)
		}
		placeholders := make([]string, width)
		for j := range row {
			args = append(args, row[j])
			placeholders[j] = fmt.Sprintf("$%d", len(args))
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(values, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)
	return sql, args, nil
}

// sanitizeTable handles schema-qualified table names like "topics.analysis_results".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
