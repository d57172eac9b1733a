package tableloader

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Loader loads, inserts and mutates the rows of one table. Reads registered within
// the same batch window are answered by one query per field and refinement, and their
// results are cached until the next mutation made through the Loader.
//
// A Loader is meant to live for a single scope, such as one request. All methods are
// safe for concurrent use.
type Loader struct {
	table    *Table
	conn     Conn
	settings *Settings
	codec    *codec
	logger   logrus.FieldLogger
	bindType int

	mu         sync.Mutex
	partitions map[partitionKey]*partition
	pairs      map[[2]string]*PairLoader
	signatures map[string]map[string]uint64
	clearers   []func()

	inserts *dispatcher[*insertRequest, Record]
}

// Meta exposes the conversion rules of a Loader's table without any caching, for
// callers that build their own queries.
type Meta struct {
	table    *Table
	conn     Conn
	settings *Settings
	codec    *codec
}

// New returns a Loader for config.Table and the Meta describing it.
func New(config *Config) (*Loader, *Meta, error) {
	if config == nil {
		return nil, nil, errors.New("config can't be nil")
	}
	if config.Conn == nil {
		return nil, nil, errors.New("conn must be set in Config")
	}
	if config.Table == nil || config.Table.Name == "" {
		return nil, nil, errors.New("table with a name must be set in Config")
	}

	settings := config.Settings
	if settings == nil {
		settings = DefaultSettings()
	} else if err := settings.validate(); err != nil {
		return nil, nil, err
	}

	caser := config.Caser
	if caser == nil {
		caser = NewCaser(nil)
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := newCodec(config.Table.Name, caser, config.Table.Converters)
	l := &Loader{
		table:      config.Table,
		conn:       config.Conn,
		settings:   settings,
		codec:      c,
		logger:     logger.WithField("table", config.Table.Name),
		bindType:   settings.bindType(),
		partitions: make(map[partitionKey]*partition),
		pairs:      make(map[[2]string]*PairLoader),
		signatures: make(map[string]map[string]uint64),
	}
	l.inserts = newDispatcher(l.resolveInserts, settings, false)

	meta := &Meta{
		table:    config.Table,
		conn:     config.Conn,
		settings: settings,
		codec:    c,
	}
	return l, meta, nil
}

// Table returns the table the Loader works on.
func (l *Loader) Table() *Table {
	return l.table
}

func (l *Loader) rebind(query string) string {
	return sqlx.Rebind(l.bindType, query)
}

// Clear drops every cached result of the Loader. Mutations made through the Loader
// clear automatically.
func (l *Loader) Clear() {
	l.mu.Lock()
	clearers := make([]func(), len(l.clearers))
	copy(clearers, l.clearers)
	l.mu.Unlock()

	for _, fn := range clearers {
		fn()
	}
}

// addClearer must be called with l.mu held.
func (l *Loader) addClearer(fn func()) {
	l.clearers = append(l.clearers, fn)
}

// visible reports whether rec passes the table's filter.
func (l *Loader) visible(rec Record) bool {
	return l.table.Filter == nil || l.table.Filter(rec)
}

// ByID returns the row with id, or nil when there is none.
func (l *Loader) ByID(ctx context.Context, id ID) (Record, error) {
	return l.ByField("id").One(ctx, id)
}

// ByIDStrict is like ByID but fails with *NotFoundError when there is no row.
func (l *Loader) ByIDStrict(ctx context.Context, id ID) (Record, error) {
	return l.ByField("id").OneStrict(ctx, id)
}

// ByIDThunk registers a lookup of id without waiting for it.
func (l *Loader) ByIDThunk(ctx context.Context, id ID) Thunk[Record] {
	return l.ByField("id").OneThunk(ctx, id)
}

// ByIDs looks up several ids in one batch. The result is aligned with ids and holds nil
// for ids without a row. Lookup errors are combined into the returned error.
func (l *Loader) ByIDs(ctx context.Context, ids []ID) ([]Record, error) {
	f := l.ByField("id")
	thunks := make([]Thunk[Record], len(ids))
	for i, id := range ids {
		thunks[i] = f.OneThunk(ctx, id)
	}

	var result *multierror.Error
	records := make([]Record, len(ids))
	for i, thunk := range thunks {
		rec, err := thunk()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		records[i] = rec
	}
	return records, result.ErrorOrNil()
}

// All returns every visible row of the table, bypassing batching and caching.
func (l *Loader) All(ctx context.Context) ([]Record, error) {
	return l.Raw(ctx, nil)
}

// Raw runs a SELECT refined by refine, bypassing batching and caching. Returned rows
// are converted and filtered like batched loads.
func (l *Loader) Raw(ctx context.Context, refine func(q *Query)) ([]Record, error) {
	q := &Query{}
	if refine != nil {
		refine(q)
	}
	query, args := selectSQL(l.table.Name, q)
	rows, err := queryRecords(ctx, l.conn, l.rebind(query), args)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %q", l.table.Name)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := l.codec.fromStorage(row)
		if err != nil {
			return nil, err
		}
		if l.visible(rec) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Count returns the number of rows matching refine, bypassing batching and caching.
// The table's Filter is not applied.
func (l *Loader) Count(ctx context.Context, refine func(q *Query)) (int64, error) {
	q := &Query{}
	if refine != nil {
		refine(q)
	}
	query, args := countSQL(l.table.Name, q)
	n, err := queryCount(ctx, l.conn, l.rebind(query), args)
	if err != nil {
		return 0, errors.Wrapf(err, "counting %q", l.table.Name)
	}
	return n, nil
}

// Column returns the storage column of field.
func (m *Meta) Column(field string) string {
	return m.codec.caser.ToStorage(field)
}

// Converter returns the converter configured for field.
func (m *Meta) Converter(field string) (Converter, bool) {
	conv, ok := m.codec.converters[field]
	return conv, ok
}

// FromStorage converts a raw database row into an application record.
func (m *Meta) FromStorage(row Record) (Record, error) {
	return m.codec.fromStorage(row)
}

// ToStorage converts an application record into storage columns and values. Unless
// ignoreMissing is set, every field with a converter must be present.
func (m *Meta) ToStorage(rec Record, ignoreMissing bool) (Record, error) {
	return m.codec.toStorage(rec, ignoreMissing)
}

// Table returns the described table.
func (m *Meta) Table() *Table {
	return m.table
}

// Conn returns the connection the Loader was created with.
func (m *Meta) Conn() Conn {
	return m.conn
}

// Settings returns the effective settings.
func (m *Meta) Settings() *Settings {
	return m.settings
}
