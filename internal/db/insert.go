package db

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertIgnoreConfig describes an insert that silently yields to an existing
// row with the same conflict key.
type InsertIgnoreConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // inserted columns
	ConflictKeys []string // columns forming the unique constraint
	Returning    []string // columns returned for a freshly inserted row
}

// InsertIgnore builds INSERT ... ON CONFLICT (keys) DO NOTHING RETURNING ...
// for one row. A conflicting insert returns no row, which callers read as
// "already present". Both Postgres and SQLite (3.35+) accept the statement;
// pass sq.Dollar or sq.Question to match the driver.
func InsertIgnore(cfg InsertIgnoreConfig, values []any, ph sq.PlaceholderFormat) (string, []any, error) {
	if len(cfg.Columns) == 0 {
		return "", nil, eris.New("db: insert ignore: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", nil, eris.New("db: insert ignore: no conflict keys specified")
	}
	if len(values) != len(cfg.Columns) {
		return "", nil, eris.Errorf("db: insert ignore: %d values for %d columns", len(values), len(cfg.Columns))
	}

	suffix := "ON CONFLICT (" + quoteAndJoin(cfg.ConflictKeys) + ") DO NOTHING"
	if len(cfg.Returning) > 0 {
		suffix += " RETURNING " + quoteAndJoin(cfg.Returning)
	}

	query, args, err := sq.Insert(sanitizeTable(cfg.Table)).
		Columns(quoteEach(cfg.Columns)...).
		Values(values...).
		Suffix(suffix).
		PlaceholderFormat(ph).
		ToSql()
	if err != nil {
		return "", nil, eris.Wrapf(err, "db: insert ignore: build for %s", cfg.Table)
	}
	return query, args, nil
}

// sanitizeTable handles schema-qualified table names like "app.leads".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteEach(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return quoted
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	return strings.Join(quoteEach(cols), ", ")
}
