package tableloader

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/sirupsen/logrus"
)

// PairLoader loads single rows by the values of two fields together, typically the
// columns of a composite unique constraint.
type PairLoader struct {
	loader         *Loader
	fieldA, fieldB string
	columnA        string
	columnB        string

	loads *dispatcher[[2]any, []Record]
}

// ByPair returns the PairLoader for fieldA and fieldB.
func (l *Loader) ByPair(fieldA, fieldB string) *PairLoader {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := [2]string{fieldA, fieldB}
	if p, ok := l.pairs[key]; ok {
		return p
	}
	p := &PairLoader{
		loader:  l,
		fieldA:  fieldA,
		fieldB:  fieldB,
		columnA: l.codec.caser.ToStorage(fieldA),
		columnB: l.codec.caser.ToStorage(fieldB),
	}
	p.loads = newDispatcher(p.resolve, l.settings, true)
	l.addClearer(p.loads.clear)
	l.pairs[key] = p
	return p
}

// LoadThunk registers a load of the row whose fields equal a and b.
func (p *PairLoader) LoadThunk(ctx context.Context, a, b any) Thunk[Record] {
	_, storageA, err := p.loader.codec.encode(p.fieldA, a)
	if err != nil {
		return failed[Record](err)
	}
	_, storageB, err := p.loader.codec.encode(p.fieldB, b)
	if err != nil {
		return failed[Record](err)
	}

	var arg any
	// NULL never matches IN
	if storageA != nil && storageB != nil {
		arg = [2]any{storageA, storageB}
	}
	thunk := p.loads.load(ctx, [2]any{keyOf(storageA), keyOf(storageB)}, arg)
	return func() (Record, error) {
		records, err := thunk()
		if err != nil {
			return nil, err
		}
		if len(records) > 1 {
			return nil, &CardinalityError{
				Table: p.loader.table.Name,
				Field: p.fieldA + "," + p.fieldB,
				Value: [2]any{a, b},
				Count: len(records),
			}
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	}
}

// Load returns the row whose fields equal a and b, or nil.
func (p *PairLoader) Load(ctx context.Context, a, b any) (Record, error) {
	return p.LoadThunk(ctx, a, b)()
}

func (p *PairLoader) resolve(ctx context.Context, keys [][2]any) []*dataloader.Result[[]Record] {
	l := p.loader
	log := l.logger.WithFields(logrus.Fields{
		"field": p.fieldA + "," + p.fieldB,
		"keys":  len(keys),
	})
	log.Debug("dispatching batched pair load")

	pending := newPendingValues(keys, p.loads.take(keys))
	pairs := make([][2]any, 0, len(pending.keys))
	for _, v := range pending.values() {
		pairs = append(pairs, v.([2]any))
	}

	var rows []Record
	size := l.settings.BindLimit / 2
	for start := 0; start < len(pairs); start += size {
		chunk := pairs[start:min(start+size, len(pairs))]
		query, args := selectSQL(l.table.Name, nil, pairsPredicate(p.columnA, p.columnB, chunk))
		got, err := queryRecords(ctx, l.conn, l.rebind(query), args)
		if err != nil {
			log.WithError(err).Error("batched pair load failed")
			return resultsWithError[[]Record](len(keys), errors.Wrapf(err, "loading %q by %s and %s", l.table.Name, p.fieldA, p.fieldB))
		}
		rows = append(rows, got...)
	}

	grouped := make(map[[2]any][]Record, len(keys))
	failures := make(map[[2]any]error)
	for _, row := range rows {
		value := [2]any{
			l.codec.canonical(p.fieldA, row[p.columnA]),
			l.codec.canonical(p.fieldB, row[p.columnB]),
		}
		key, ok := pending.match([2]any{keyOf(value[0]), keyOf(value[1])}, value)
		if !ok {
			continue
		}
		rec, err := l.codec.fromStorage(row)
		if err != nil {
			failures[key] = err
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
		results[i] = &dataloader.Result[[]Record]{Data: grouped[key]}
	}
	return results
}
