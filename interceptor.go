package tableloader

import (
	"context"
	"database/sql/driver"
	"sync/atomic"

	"github.com/ngrok/sqlmw"
	"github.com/sirupsen/logrus"
)

// ProbeConfig is the configuration passed to NewProbe.
type ProbeConfig struct {
	// Logger, when set, receives every statement at debug level.
	Logger logrus.FieldLogger
	// OnStatement is called with every statement before it runs.
	OnStatement func(Statement)
}

// Probe is a ngrok/sqlmw interceptor counting the statements and rows going through
// a database handle. Wrap a driver with Driver to observe how loads were batched.
type Probe struct {
	logger      logrus.FieldLogger
	onStatement func(Statement)
	stats       Stats
	sqlmw.NullInterceptor
}

// NewProbe returns a new Probe. A nil config is allowed.
func NewProbe(config *ProbeConfig) *Probe {
	p := &Probe{}
	if config != nil {
		p.logger = config.Logger
		p.onStatement = config.OnStatement
	}
	return p
}

// Driver wraps d so that every connection opened through it reports to p.
func (p *Probe) Driver(d driver.Driver) driver.Driver {
	return sqlmw.Driver(d, p)
}

func (p *Probe) observe(query string, args []driver.NamedValue) {
	stmt := getStatement(query, len(args))
	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"verb":  stmt.Verb,
			"table": stmt.Table,
			"args":  stmt.Args,
		}).Debug(query)
	}
	if p.onStatement != nil {
		p.onStatement(stmt)
	}
}

// StmtQueryContext intercepts database/sql's stmt.QueryContext calls from a prepared statement.
func (p *Probe) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	atomic.AddUint64(&p.stats.Queries, 1)
	p.observe(query, args)

	rows, err := conn.QueryContext(ctx, args)
	if err != nil {
		return rows, err
	}
	return newRowsRecorder(rows, &p.stats.Rows), nil
}

// ConnQueryContext intercepts database/sql's DB.QueryContext Conn.QueryContext calls.
func (p *Probe) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	atomic.AddUint64(&p.stats.Queries, 1)
	p.observe(query, args)

	rows, err := conn.QueryContext(ctx, query, args)
	if err != nil {
		return rows, err
	}
	return newRowsRecorder(rows, &p.stats.Rows), nil
}

// StmtExecContext intercepts database/sql's stmt.ExecContext calls from a prepared statement.
func (p *Probe) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	atomic.AddUint64(&p.stats.Execs, 1)
	p.observe(query, args)
	return conn.ExecContext(ctx, args)
}

// ConnExecContext intercepts database/sql's DB.ExecContext Conn.ExecContext calls.
func (p *Probe) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	atomic.AddUint64(&p.stats.Execs, 1)
	p.observe(query, args)
	return conn.ExecContext(ctx, query, args)
}

// TxCommit intercepts transaction commits.
func (p *Probe) TxCommit(ctx context.Context, tx driver.Tx) error {
	err := tx.Commit()
	if err == nil {
		atomic.AddUint64(&p.stats.Commits, 1)
	}
	return err
}

// TxRollback intercepts transaction rollbacks.
func (p *Probe) TxRollback(ctx context.Context, tx driver.Tx) error {
	atomic.AddUint64(&p.stats.Rollbacks, 1)
	return tx.Rollback()
}

// Stats contains Probe statistics.
type Stats struct {
	Queries   uint64
	Execs     uint64
	Rows      uint64
	Commits   uint64
	Rollbacks uint64
}

// Stats returns a snapshot of the Probe's counters.
func (p *Probe) Stats() *Stats {
	return &Stats{
		Queries:   atomic.LoadUint64(&p.stats.Queries),
		Execs:     atomic.LoadUint64(&p.stats.Execs),
		Rows:      atomic.LoadUint64(&p.stats.Rows),
		Commits:   atomic.LoadUint64(&p.stats.Commits),
		Rollbacks: atomic.LoadUint64(&p.stats.Rollbacks),
	}
}

// Reset zeroes the Probe's counters.
func (p *Probe) Reset() {
	atomic.StoreUint64(&p.stats.Queries, 0)
	atomic.StoreUint64(&p.stats.Execs, 0)
	atomic.StoreUint64(&p.stats.Rows, 0)
	atomic.StoreUint64(&p.stats.Commits, 0)
	atomic.StoreUint64(&p.stats.Rollbacks, 0)
}
