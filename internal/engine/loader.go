// Package engine loads datasets into memory and writes them back out using
// an embedded DuckDB instance.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"datawrangler/internal/domain"
)

// QueryPrefix marks a source that is a SQL query rather than a file path.
const QueryPrefix = "query:"

// Engine reads and writes tabular files through DuckDB.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger
	tmpSeq atomic.Uint64
}

// Open starts an in-memory DuckDB instance.
func Open(logger *slog.Logger) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing DuckDB handle.
func New(db *sql.DB, logger *slog.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// Close closes the DuckDB handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// sourceQuery maps a dataset source to the SELECT that reads it.
func sourceQuery(source string) (string, error) {
	if q, ok := strings.CutPrefix(source, QueryPrefix); ok {
		q = strings.TrimSpace(q)
		if q == "" {
			return "", fmt.Errorf("empty query source")
		}
		return q, nil
	}
	lit := quoteLiteral(source)
	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv", ".tsv", ".txt":
		return "SELECT * FROM read_csv_auto(" + lit + ")", nil
	case ".parquet":
		return "SELECT * FROM read_parquet(" + lit + ")", nil
	case ".json", ".jsonl", ".ndjson":
		return "SELECT * FROM read_json_auto(" + lit + ")", nil
	}
	return "", fmt.Errorf("unsupported dataset source %q: expected .csv, .parquet, .json or %s<sql>", source, QueryPrefix)
}

// Load reads a source into a Dataset. Row ids follow the source row order.
func (e *Engine) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	query, err := sourceQuery(source)
	if err != nil {
		return nil, domain.ErrProfiling("load dataset").Wrap(err)
	}
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.ErrProfiling("load dataset %s", source).Wrap(err)
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, domain.ErrProfiling("read column types").Wrap(err)
	}
	cols := make([]domain.Column, len(types))
	for i, ct := range types {
		cols[i] = domain.Column{Name: ct.Name(), DType: dtypeOf(ct.DatabaseTypeName())}
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, domain.ErrProfiling("scan row").Wrap(err)
		}
		for i, v := range vals {
			cols[i].Values = append(cols[i].Values, normalizeValue(v, cols[i].DType))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrProfiling("read rows").Wrap(err)
	}

	ds, err := domain.NewDataset(cols)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("dataset loaded",
		"source", source,
		"rows", ds.NumRows(),
		"columns", ds.NumColumns(),
		"duration", time.Since(start),
	)
	return ds, nil
}

// Write stores ds at path. The format follows the file extension.
func (e *Engine) Write(ctx context.Context, ds *domain.Dataset, path string) error {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		format = "FORMAT csv, HEADER true"
	case ".parquet":
		format = "FORMAT parquet"
	case ".json", ".jsonl", ".ndjson":
		format = "FORMAT json"
	default:
		return fmt.Errorf("unsupported output %q: expected .csv, .parquet or .json", path)
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	table := fmt.Sprintf("wrangler_out_%d", e.tmpSeq.Add(1))
	if _, err := conn.ExecContext(ctx, createTableSQL(table, ds)); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+quoteIdent(table))
	}()

	err = conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", raw)
		}
		app, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return err
		}
		row := make([]driver.Value, ds.NumColumns())
		for p := 0; p < ds.NumRows(); p++ {
			for i := range ds.Columns {
				row[i] = ds.Columns[i].Values[p]
			}
			if err := app.AppendRow(row...); err != nil {
				_ = app.Close()
				return fmt.Errorf("append row %d: %w", p, err)
			}
		}
		return app.Close()
	})
	if err != nil {
		return fmt.Errorf("stage rows: %w", err)
	}

	copySQL := fmt.Sprintf("COPY %s TO %s (%s)", quoteIdent(table), quoteLiteral(path), format)
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	e.logger.Debug("dataset written", "path", path, "rows", ds.NumRows())
	return nil
}

func createTableSQL(table string, ds *domain.Dataset) string {
	defs := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		defs[i] = quoteIdent(c.Name) + " " + sqlType(c.DType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

func sqlType(d domain.DType) string {
	switch d {
	case domain.DTypeInt64:
		return "BIGINT"
	case domain.DTypeFloat64:
		return "DOUBLE"
	case domain.DTypeBool:
		return "BOOLEAN"
	case domain.DTypeDatetime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// dtypeOf maps a DuckDB type name to a column dtype.
func dtypeOf(dbType string) domain.DType {
	t := strings.ToUpper(dbType)
	switch {
	case t == "BOOLEAN":
		return domain.DTypeBool
	case t == "TINYINT", t == "SMALLINT", t == "INTEGER", t == "BIGINT", t == "HUGEINT",
		t == "UTINYINT", t == "USMALLINT", t == "UINTEGER", t == "UBIGINT":
		return domain.DTypeInt64
	case t == "FLOAT", t == "DOUBLE", strings.HasPrefix(t, "DECIMAL"):
		return domain.DTypeFloat64
	case t == "DATE", strings.HasPrefix(t, "TIMESTAMP"):
		return domain.DTypeDatetime
	}
	return domain.DTypeString
}

// normalizeValue converts a scanned driver value to the dataset's value set:
// nil, int64, float64, string, bool, or time.Time.
func normalizeValue(v any, dtype domain.DType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x) //nolint:gosec // values above MaxInt64 are not expected in tabular inputs
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case float32:
		return float64(x)
	case duckdb.Decimal:
		return x.Float64()
	case []byte:
		return string(x)
	case int64, float64, bool, time.Time:
		return x
	case string:
		return x
	}
	if dtype == domain.DTypeString {
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
	}
	return fmt.Sprint(v)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
