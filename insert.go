package tableloader

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

type insertRequest struct {
	// row holds storage columns and values.
	row Record
}

// bound returns the number of values the request binds.
func (r *insertRequest) bound() int {
	n := 0
	for _, v := range r.row {
		if !isDefault(v) {
			n++
		}
	}
	return n
}

// InsertThunk registers an insert of rec. Inserts registered within the same batch
// window run as a single multi-row statement per slice of the batch, all in one
// transaction, and each thunk yields the row the database returned for its request.
// A request whose row was skipped by a conflict fails with *InsertError.
func (l *Loader) InsertThunk(ctx context.Context, rec Record) Thunk[Record] {
	row, err := l.codec.toStorage(rec, true)
	if err != nil {
		return failed[Record](err)
	}
	return l.inserts.load(ctx, &insertRequest{row: row}, nil)
}

// Insert inserts rec and returns the stored row.
func (l *Loader) Insert(ctx context.Context, rec Record) (Record, error) {
	return l.InsertThunk(ctx, rec)()
}

// InsertMany inserts recs in one batch. Both results are aligned with recs; the
// error slice is nil when every insert succeeded.
func (l *Loader) InsertMany(ctx context.Context, recs []Record) ([]Record, []error) {
	thunks := make([]Thunk[Record], len(recs))
	for i, rec := range recs {
		thunks[i] = l.InsertThunk(ctx, rec)
	}

	var (
		records = make([]Record, len(recs))
		errs    []error
	)
	for i, thunk := range thunks {
		rec, err := thunk()
		if err != nil {
			if errs == nil {
				errs = make([]error, len(recs))
			}
			errs[i] = err
			continue
		}
		records[i] = rec
	}
	return records, errs
}

// splitInserts separates requests that bind no value at all. Those can only be
// written with DEFAULT VALUES, one statement each.
func splitInserts(reqs []*insertRequest) (batchable, singletons []*insertRequest) {
	for _, req := range reqs {
		if req.bound() == 0 {
			singletons = append(singletons, req)
			continue
		}
		batchable = append(batchable, req)
	}
	return batchable, singletons
}

// sliceInserts cuts reqs into consecutive slices small enough that no statement binds
// more than bindLimit values.
func sliceInserts(reqs []*insertRequest, bindLimit int) ([][]*insertRequest, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	widest := 0
	for _, req := range reqs {
		widest = max(widest, req.bound())
	}
	if widest > bindLimit {
		return nil, errors.Newf("a row binds %d values, more than the bind limit of %d", widest, bindLimit)
	}

	size := bindLimit / widest
	var chunks [][]*insertRequest
	for start := 0; start < len(reqs); start += size {
		chunks = append(chunks, reqs[start:min(start+size, len(reqs))])
	}

	joined := make([]*insertRequest, 0, len(reqs))
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}
	if !slices.Equal(joined, reqs) {
		return nil, errors.AssertionFailedf("%d insert slices do not reproduce the batch of %d", len(chunks), len(reqs))
	}
	return chunks, nil
}

type insertOutcome struct {
	rec Record
	err error
}

func (l *Loader) resolveInserts(ctx context.Context, reqs []*insertRequest) []*dataloader.Result[Record] {
	log := l.logger.WithField("rows", len(reqs))
	log.Debug("dispatching batched insert")

	batchable, singletons := splitInserts(reqs)
	chunks, err := sliceInserts(batchable, l.settings.BindLimit)
	if err != nil {
		return resultsWithError[Record](len(reqs), err)
	}
	for _, req := range singletons {
		chunks = append(chunks, []*insertRequest{req})
	}

	outcomes := make(map[*insertRequest]insertOutcome, len(reqs))
	var ids []ID
	err = inTransaction(ctx, l.conn, func(tx Conn) error {
		for _, chunk := range chunks {
			inserted, err := l.insertChunk(ctx, tx, chunk, outcomes)
			if err != nil {
				return err
			}
			ids = append(ids, inserted...)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("batched insert failed")
		return resultsWithError[Record](len(reqs), errors.Wrapf(err, "inserting into %q", l.table.Name))
	}

	l.Clear()
	l.notify(ctx, l.table.OnInsert, ids)

	results := make([]*dataloader.Result[Record], len(reqs))
	for i, req := range reqs {
		o := outcomes[req]
		results[i] = &dataloader.Result[Record]{Data: o.rec, Error: o.err}
	}
	return results
}

// insertChunk inserts one slice of requests and matches the returned rows back to
// them. Rows returned in excess of the requests fail the whole batch.
func (l *Loader) insertChunk(ctx context.Context, tx Conn, chunk []*insertRequest, outcomes map[*insertRequest]insertOutcome) ([]ID, error) {
	rows := make([]Record, len(chunk))
	for i, req := range chunk {
		if req.bound() == 0 {
			rows[i] = Record{}
			continue
		}
		rows[i] = req.row
	}

	query, args := insertSQL(l.table.Name, rows)
	returned, err := queryRecords(ctx, tx, l.rebind(query), args)
	if err != nil {
		return nil, err
	}

	// Requests with fewer don't-care columns claim first, so a request leaving a
	// column to its default can't take the row of one that set it.
	order := slices.Clone(chunk)
	slices.SortStableFunc(order, func(a, b *insertRequest) bool {
		return a.bound() > b.bound()
	})

	var ids []ID
	pool := returned
	for _, req := range order {
		var row Record
		var ok bool
		row, pool, ok = claim(req.row, pool)
		if !ok {
			outcomes[req] = insertOutcome{err: &InsertError{Table: l.table.Name, Value: req.row}}
			continue
		}
		rec, err := l.codec.fromStorage(row)
		if err != nil {
			outcomes[req] = insertOutcome{err: err}
			continue
		}
		if id, ok := rec.ID(); ok {
			ids = append(ids, id)
		}
		outcomes[req] = insertOutcome{rec: rec}
	}

	if len(pool) > 0 {
		l.logger.WithFields(logrus.Fields{
			"requested": len(chunk),
			"returned":  len(returned),
		}).Error("insert returned rows that match no request")
		return nil, errors.WithDetailf(
			errors.AssertionFailedf("insert into %q returned %d unmatched rows", l.table.Name, len(pool)),
			"requested %d rows, database returned %d", len(chunk), len(returned))
	}
	return ids, nil
}
