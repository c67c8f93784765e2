package inspect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultSampleRows = 20
	maxSampleRows     = 200
	maxCellLength     = 120
)

// querier abstracts the subset of pgxpool.Pool used by the viewer for easier testing.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresPool opens a small pool for the viewer.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// PostgresInspector lists user tables and samples one of them.
type PostgresInspector struct {
	db         querier
	sampleRows int
}

// NewPostgresInspector builds the viewer. db may be nil when no database is
// configured; the view then says so instead of failing.
func NewPostgresInspector(db querier, sampleRows int) *PostgresInspector {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	return &PostgresInspector{db: db, sampleRows: min(sampleRows, maxSampleRows)}
}

func (p *PostgresInspector) Key() string  { return "Postgres Viewer" }
func (p *PostgresInspector) Icon() string { return "database" }

func (p *PostgresInspector) Inspect(ctx context.Context) (View, error) {
	return p.InspectQuery(ctx, nil)
}

type tableStat struct {
	schema string
	name   string
	rows   int64
}

func (t tableStat) qualified() string {
	return t.schema + "." + t.name
}

// InspectQuery accepts "table" (schema.table or table in public) and "limit".
func (p *PostgresInspector) InspectQuery(ctx context.Context, query map[string]string) (View, error) {
	view := View{Title: "Postgres Viewer"}
	if p.db == nil {
		view.Sections = []Section{{Title: "Connection", Note: "no database configured (set inspect.database_url)"}}
		return view, nil
	}

	var database, user, version string
	if err := p.db.QueryRow(ctx, "SELECT current_database(), current_user, version()").Scan(&database, &user, &version); err != nil {
		return View{}, fmt.Errorf("postgres: connection info: %w", err)
	}
	view.Sections = append(view.Sections, Section{
		Title: "Connection",
		Fields: []Field{
			{Name: "Database", Value: database},
			{Name: "User", Value: user},
			{Name: "Server", Value: version},
		},
	})

	tables, err := p.listTables(ctx)
	if err != nil {
		return View{}, err
	}
	list := &Table{Columns: []string{"Schema", "Table", "Live rows (est.)"}}
	for _, t := range tables {
		list.Rows = append(list.Rows, []string{t.schema, t.name, strconv.FormatInt(t.rows, 10)})
	}
	tablesSection := Section{Title: "Tables", Table: list}
	if len(tables) == 0 {
		tablesSection.Note = "no user tables"
	}
	view.Sections = append(view.Sections, tablesSection)

	selected := strings.TrimSpace(query["table"])
	if selected == "" {
		return view, nil
	}
	target, ok := findTable(tables, selected)
	if !ok {
		view.Sections = append(view.Sections, Section{Title: "Sample", Note: fmt.Sprintf("table %q not found", selected)})
		return view, nil
	}
	limit := p.sampleRows
	if raw := query["limit"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxSampleRows)
		}
	}
	sample, err := p.sample(ctx, target, limit)
	if err != nil {
		return View{}, err
	}
	view.Sections = append(view.Sections, Section{
		Title: "Sample: " + target.qualified(),
		Table: sample,
		Note:  fmt.Sprintf("first %d rows", limit),
	})
	return view, nil
}

func (p *PostgresInspector) listTables(ctx context.Context) ([]tableStat, error) {
	rows, err := p.db.Query(ctx, "SELECT schemaname, relname, n_live_tup FROM pg_stat_user_tables ORDER BY schemaname, relname")
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	defer rows.Close()

	var tables []tableStat
	for rows.Next() {
		var t tableStat
		if err := rows.Scan(&t.schema, &t.name, &t.rows); err != nil {
			return nil, fmt.Errorf("postgres: scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	return tables, nil
}

// findTable only allows sampling tables reported by pg_stat_user_tables.
func findTable(tables []tableStat, name string) (tableStat, bool) {
	schema, table := "public", name
	if i := strings.Index(name, "."); i >= 0 {
		schema, table = name[:i], name[i+1:]
	}
	for _, t := range tables {
		if t.schema == schema && t.name == table {
			return t, true
		}
	}
	return tableStat{}, false
}

func (p *PostgresInspector) sample(ctx context.Context, t tableStat, limit int) (*Table, error) {
	ident := pgx.Identifier{t.schema, t.name}.Sanitize()
	rows, err := p.db.Query(ctx, "SELECT * FROM "+ident+" LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: sample %s: %w", t.qualified(), err)
	}
	defer rows.Close()

	out := &Table{}
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: read sample row: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatCell(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sample %s: %w", t.qualified(), err)
	}
	return out, nil
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		if utf8.Valid(val) {
			s = string(val)
		} else {
			s = fmt.Sprintf("\\x%x", val)
		}
	case time.Time:
		s = val.Format(time.RFC3339)
	default:
		s = fmt.Sprint(val)
	}
	if utf8.RuneCountInString(s) > maxCellLength {
		runes := []rune(s)
		s = string(runes[:maxCellLength-1]) + "…"
	}
	return s
}

var _ QueryInspector = (*PostgresInspector)(nil)
