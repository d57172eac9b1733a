package tableloader

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/sirupsen/logrus"
)

// Refinement restricts the rows a FieldLoader considers.
type Refinement struct {
	// Key identifies the refinement. Loads refined with equal keys, compared by value,
	// share batches and cached results, so Apply must depend on nothing but Key. It
	// can't be nil.
	Key any
	// Apply adds predicates and ordering to the batched query.
	Apply func(q *Query)
}

type partitionKey struct {
	field      string
	refined    bool
	refinement uint64
}

// partition is the batching and caching unit for loads by one field under one
// refinement.
type partition struct {
	field  string
	column string
	query  *Query

	loads *dispatcher[any, []Record]
}

func (l *Loader) partition(field string, r *Refinement) (*partition, error) {
	key := partitionKey{field: field}
	var q *Query
	if r != nil {
		if r.Key == nil {
			return nil, errors.Newf("refinement of %q on %q has a nil key", field, l.table.Name)
		}
		h, err := hashKey(r.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "hashing refinement key of %q", field)
		}
		key.refined, key.refinement = true, h
		q = &Query{}
		if r.Apply != nil {
			r.Apply(q)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.partitions[key]; ok {
		return p, nil
	}
	if r != nil {
		l.checkHazard(field, key.refinement, q)
	}

	p := &partition{
		field:  field,
		column: l.codec.caser.ToStorage(field),
		query:  q,
	}
	p.loads = newDispatcher(l.resolveField(p), l.settings, true)
	l.addClearer(p.loads.clear)
	l.partitions[key] = p
	return p, nil
}

// checkHazard warns when refinements with different keys render the same query for
// field. Their loads would be answered by separate batches. Must be called with l.mu
// held.
func (l *Loader) checkHazard(field string, key uint64, q *Query) {
	if l.settings.Production {
		return
	}
	where, args := q.predicates()
	sql := where + q.tail(false)
	signature := fmt.Sprintf("%s %#v", sql, args)

	seen, ok := l.signatures[field]
	if !ok {
		seen = make(map[string]uint64)
		l.signatures[field] = seen
	}
	if prev, ok := seen[signature]; ok && prev != key {
		l.logger.WithFields(logrus.Fields{
			"field": field,
			"sql":   sql,
		}).Warn("refinements with different keys render the same query and will not share batches")
		return
	}
	seen[signature] = key
}

func (l *Loader) resolveField(p *partition) dataloader.BatchFunc[any, []Record] {
	return func(ctx context.Context, keys []any) []*dataloader.Result[[]Record] {
		log := l.logger.WithFields(logrus.Fields{
			"field": p.field,
			"keys":  len(keys),
		})
		log.Debug("dispatching batched load")

		pending := newPendingValues(keys, p.loads.take(keys))
		rows, err := l.selectIn(ctx, p, pending.values())
		if err != nil {
			log.WithError(err).Error("batched load failed")
			return resultsWithError[[]Record](len(keys), errors.Wrapf(err, "loading %q by %s", l.table.Name, p.field))
		}

		grouped := make(map[any][]Record, len(keys))
		failures := make(map[any]error)
		for _, row := range rows {
			value := l.codec.canonical(p.field, row[p.column])
			key, ok := pending.match(keyOf(value), value)
			if !ok {
				log.WithField("column", p.column).Debug("returned row matches no pending value")
				continue
			}
			rec, err := l.codec.fromStorage(row)
			if err != nil {
				if _, ok := failures[key]; !ok {
					failures[key] = err
				}
				continue
			}
			if l.visible(rec) {
				grouped[key] = append(grouped[key], rec)
			}
		}

		results := make([]*dataloader.Result[[]Record], len(keys))
		for i, key := range keys {
			if err, ok := failures[key]; ok {
				results[i] = &dataloader.Result[[]Record]{Error: err}
				continue
			}
			records := grouped[key]
			if records == nil {
				records = []Record{}
			}
			results[i] = &dataloader.Result[[]Record]{Data: records}
		}
		return results
	}
}

// selectIn loads the rows whose partition column is one of values, splitting values
// so that no statement exceeds the bind limit.
func (l *Loader) selectIn(ctx context.Context, p *partition, values []any) ([]Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	size := l.settings.BindLimit - p.query.numArgs()
	if size < 1 {
		return nil, errors.Newf("refinement binds %d parameters, leaving no room under the bind limit of %d",
			p.query.numArgs(), l.settings.BindLimit)
	}

	var rows []Record
	for start := 0; start < len(values); start += size {
		chunk := values[start:min(start+size, len(values))]
		query, args := selectSQL(l.table.Name, p.query, inPredicate(quote(p.column), chunk))
		got, err := queryRecords(ctx, l.conn, l.rebind(query), args)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
	}
	return rows, nil
}

// FieldLoader loads rows by the value of one field.
type FieldLoader struct {
	loader *Loader
	field  string
	p      *partition
	err    error
}

// ByField returns a FieldLoader for field. Loads through any FieldLoader of the same
// field share batches and cached results.
func (l *Loader) ByField(field string) *FieldLoader {
	p, err := l.partition(field, nil)
	return &FieldLoader{loader: l, field: field, p: p, err: err}
}

// Refine returns a FieldLoader for the same field whose loads are restricted by r.
func (f *FieldLoader) Refine(r Refinement) *FieldLoader {
	p, err := f.loader.partition(f.field, &r)
	return &FieldLoader{loader: f.loader, field: f.field, p: p, err: err}
}

// LoadThunk registers a load of the rows whose field equals value. The value is an
// application value and goes through the field's converter.
func (f *FieldLoader) LoadThunk(ctx context.Context, value any) Thunk[[]Record] {
	if f.err != nil {
		return failed[[]Record](f.err)
	}
	_, storage, err := f.loader.codec.encode(f.field, value)
	if err != nil {
		return failed[[]Record](err)
	}
	return f.p.loads.load(ctx, keyOf(storage), storage)
}

// Load returns the rows whose field equals value. No match yields an empty slice.
func (f *FieldLoader) Load(ctx context.Context, value any) ([]Record, error) {
	return f.LoadThunk(ctx, value)()
}

// LoadMany loads several values in one batch. Both results are aligned with values;
// the error slice is nil when every load succeeded.
func (f *FieldLoader) LoadMany(ctx context.Context, values []any) ([][]Record, []error) {
	thunks := make([]Thunk[[]Record], len(values))
	for i, v := range values {
		thunks[i] = f.LoadThunk(ctx, v)
	}

	var (
		records = make([][]Record, len(values))
		errs    []error
	)
	for i, thunk := range thunks {
		recs, err := thunk()
		if err != nil {
			if errs == nil {
				errs = make([]error, len(values))
			}
			errs[i] = err
			continue
		}
		records[i] = recs
	}
	return records, errs
}

// OneThunk registers a load of the single row whose field equals value. The thunk
// yields nil when there is no such row and a *CardinalityError when there are several.
func (f *FieldLoader) OneThunk(ctx context.Context, value any) Thunk[Record] {
	thunk := f.LoadThunk(ctx, value)
	return func() (Record, error) {
		records, err := thunk()
		if err != nil {
			return nil, err
		}
		return f.single(value, records)
	}
}

// One returns the single row whose field equals value, or nil.
func (f *FieldLoader) One(ctx context.Context, value any) (Record, error) {
	return f.OneThunk(ctx, value)()
}

// OneStrict is like One but fails with *NotFoundError when there is no row.
func (f *FieldLoader) OneStrict(ctx context.Context, value any) (Record, error) {
	rec, err := f.One(ctx, value)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Table: f.loader.table.Name, Field: f.field, Value: value}
	}
	return rec, nil
}

func (f *FieldLoader) single(value any, records []Record) (Record, error) {
	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		return records[0], nil
	default:
		return nil, &CardinalityError{
			Table: f.loader.table.Name,
			Field: f.field,
			Value: value,
			Count: len(records),
		}
	}
}
