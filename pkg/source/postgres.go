package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource is a relational adapter over one table, using a shared
// pgx connection pool.
type PostgresSource struct {
	pool    *pgxpool.Pool
	table   string
	idField string
}

// NewPostgresSource creates a Postgres-backed source for one table.
func NewPostgresSource(pool *pgxpool.Pool, table, idField string) *PostgresSource {
	if idField == "" {
		idField = "id"
	}
	return &PostgresSource{pool: pool, table: table, idField: idField}
}

// OpenPostgres creates a connection pool from a DSN.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// Initialize pings the pool.
func (p *PostgresSource) Initialize(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Read returns the single row matching the query.
func (p *PostgresSource) Read(ctx context.Context, query Query, opts Options) (Record, error) {
	where, args := buildWhere(query)
	sql := fmt.Sprintf("SELECT * FROM %s%s LIMIT 1", quoteIdent(p.table), where)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return rowToRecord(rows)
}

// List returns all rows matching the query, sorted and paged server-side.
func (p *PostgresSource) List(ctx context.Context, query Query, opts Options) ([]Record, error) {
	where, args := buildWhere(query)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s%s", quoteIdent(p.table), where)
	if opts.SortField != "" {
		dir := "ASC"
		if opts.SortOrder == SortDesc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", quoteIdent(opts.SortField), dir)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", opts.Offset)
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := rowToRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of rows matching the query.
func (p *PostgresSource) Count(ctx context.Context, query Query, opts Options) (int64, error) {
	where, args := buildWhere(query)
	sql := fmt.Sprintf("SELECT count(*) FROM %s%s", quoteIdent(p.table), where)

	var n int64
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// NewInstance creates a row handle seeded with a snapshot.
func (p *PostgresSource) NewInstance(data Record) Instance {
	return &postgresInstance{src: p, changeTracker: newChangeTracker(data)}
}

// Close releases the pool.
func (p *PostgresSource) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresSource) flush(ctx context.Context, inst *postgresInstance) error {
	if inst.Get(p.idField) == nil {
		return p.insert(ctx, inst)
	}
	return p.update(ctx, inst)
}

func (p *PostgresSource) insert(ctx context.Context, inst *postgresInstance) error {
	cols := inst.ModifiedFields()
	var sb strings.Builder
	args := make([]any, 0, len(cols))

	fmt.Fprintf(&sb, "INSERT INTO %s (", quoteIdent(p.table))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
		args = append(args, inst.values[col])
	}
	sb.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", i+1)
	}
	fmt.Fprintf(&sb, ") RETURNING %s", quoteIdent(p.idField))

	var id any
	if err := p.pool.QueryRow(ctx, sb.String(), args...).Scan(&id); err != nil {
		return translatePgError(err)
	}
	inst.setClean(p.idField, id)
	inst.clearModified()
	return nil
}

func (p *PostgresSource) update(ctx context.Context, inst *postgresInstance) error {
	cols := inst.ModifiedFields()
	if len(cols) == 0 {
		return nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(cols)+1)

	fmt.Fprintf(&sb, "UPDATE %s SET ", quoteIdent(p.table))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = $%d", quoteIdent(col), i+1)
		args = append(args, inst.values[col])
	}
	args = append(args, inst.Get(p.idField))
	fmt.Fprintf(&sb, " WHERE %s = $%d", quoteIdent(p.idField), len(args))

	tag, err := p.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	inst.clearModified()
	return nil
}

func (p *PostgresSource) remove(ctx context.Context, inst *postgresInstance) error {
	id := inst.Get(p.idField)
	if id == nil {
		return ErrInvalidData
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteIdent(p.table), quoteIdent(p.idField))
	tag, err := p.pool.Exec(ctx, sql, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type postgresInstance struct {
	changeTracker
	src *PostgresSource
}

func (i *postgresInstance) ID() any { return i.Get(i.src.idField) }

func (i *postgresInstance) Flush(ctx context.Context) error { return i.src.flush(ctx, i) }

func (i *postgresInstance) Remove(ctx context.Context) error { return i.src.remove(ctx, i) }

// buildWhere renders query terms as a parameterized WHERE clause. Slice
// values render as "col = ANY($n)".
func buildWhere(q Query) (string, []any) {
	if len(q) == 0 {
		return "", nil
	}
	cols := make([]string, 0, len(q))
	for col := range q {
		cols = append(cols, col)
	}
	// Deterministic parameter ordering.
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(q))
	sb.WriteString(" WHERE ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		if _, isSet := q[col].([]any); isSet {
			fmt.Fprintf(&sb, "%s = ANY($%d)", quoteIdent(col), i+1)
		} else {
			fmt.Fprintf(&sb, "%s = $%d", quoteIdent(col), i+1)
		}
		args = append(args, q[col])
	}
	return sb.String(), args
}

func rowToRecord(rows pgx.Rows) (Record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	rec := make(Record, len(fields))
	for i, fd := range fields {
		rec[fd.Name] = values[i]
	}
	return rec, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// translatePgError maps driver errors onto the adapter sentinels the engine
// understands; everything else passes through.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrInvalidData, pgErr.ConstraintName)
		}
	}
	return err
}

// Verify PostgresSource implements the Source interface.
var _ Source = (*PostgresSource)(nil)
