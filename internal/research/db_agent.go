package research

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DatabaseAgent opens a short-lived connection per DSN and renders a schema
// summary (tables and columns). Connection errors become inline fragments;
// connections are always closed, including on error.
type DatabaseAgent struct {
	timeout    time.Duration
	maxTables  int
	maxColumns int
}

func NewDatabaseAgent(timeout time.Duration, maxTables, maxColumns int) *DatabaseAgent {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxTables <= 0 {
		maxTables = 20
	}
	if maxColumns <= 0 {
		maxColumns = 10
	}
	return &DatabaseAgent{timeout: timeout, maxTables: maxTables, maxColumns: maxColumns}
}

func (a *DatabaseAgent) Name() string { return "data_analyzer" }

func (a *DatabaseAgent) Run(ctx context.Context, sources []Source, query string) (string, error) {
	dsns := filterPaths(sources, KindDatabase)
	if len(dsns) == 0 {
		return "", nil
	}

	var parts []string
	for _, dsn := range dsns {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		parts = append(parts, a.analyze(ctx, dsn, query))
	}

	return "# Database Findings\n\n" + strings.Join(parts, "\n\n"), nil
}

func (a *DatabaseAgent) analyze(ctx context.Context, dsn, query string) string {
	path, ok := sqlitePath(dsn)
	if !ok {
		return fmt.Sprintf("Error analyzing database %s: unsupported DSN scheme", dsn)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Sprintf("Error analyzing database %s: %v", dsn, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Sprintf("Error analyzing database %s: %v", dsn, err)
	}

	tables, total, err := a.listTables(ctx, db)
	if err != nil {
		return fmt.Sprintf("Error analyzing database %s: %v", dsn, err)
	}
	if total == 0 {
		return fmt.Sprintf("## Database: %s\n\nNo tables found.", dsn)
	}

	var schema []string
	for _, table := range tables {
		cols, err := a.listColumns(ctx, db, table)
		if err != nil {
			schema = append(schema, fmt.Sprintf("- **%s**: error reading columns: %v", table, err))
			continue
		}
		schema = append(schema, fmt.Sprintf("- **%s**: %s", table, strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("## Database: %s\n\nQuery context: %s\n\nTables (%d):\n%s",
		dsn, query, total, strings.Join(schema, "\n"))
}

func (a *DatabaseAgent) listTables(ctx context.Context, db *sql.DB) ([]string, int, error) {
	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name LIMIT ?`,
		a.maxTables)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, 0, err
		}
		tables = append(tables, name)
	}
	return tables, total, rows.Err()
}

func (a *DatabaseAgent) listColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		if len(cols) < a.maxColumns {
			cols = append(cols, fmt.Sprintf("%s (%s)", name, typ))
		}
	}
	return cols, rows.Err()
}

// sqlitePath extracts the file path from a sqlite DSN. Other engines are
// not supported and surface as an inline error fragment.
func sqlitePath(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return dsn, true
	default:
		return "", false
	}
}
