package tableloader

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Conn is the subset of *sql.DB, *sql.Conn and *sql.Tx used by a Loader.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxBeginner is implemented by connections that can start a transaction. Inserts
// issued through a Conn that is not a TxBeginner, such as a *sql.Tx, run inside the
// caller's transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func queryRecords(ctx context.Context, conn Conn, query string, args []any) ([]Record, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		row := make(map[string]any)
		if err := sqlx.MapScan(rows, row); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		records = append(records, Record(row))
	}
	return records, rows.Err()
}

func queryCount(ctx context.Context, conn Conn, query string, args []any) (int64, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, errors.Wrap(err, "scanning count")
		}
	}
	return n, rows.Err()
}
