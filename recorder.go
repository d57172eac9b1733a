package tableloader

import (
	"database/sql/driver"
	"sync/atomic"
)

func newRowsRecorder(rows driver.Rows, counter *uint64) *rowsRecorder {
	return &rowsRecorder{
		counter: counter,
		dr:      rows,
	}
}

// rowsRecorder counts the rows read through it.
type rowsRecorder struct {
	counter *uint64
	dr      driver.Rows
}

func (r *rowsRecorder) Columns() []string {
	return r.dr.Columns()
}

func (r *rowsRecorder) Close() error {
	return r.dr.Close()
}

func (r *rowsRecorder) Next(dest []driver.Value) error {
	err := r.dr.Next(dest)
	if err == nil {
		atomic.AddUint64(r.counter, 1)
	}
	return err
}
