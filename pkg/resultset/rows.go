package resultset

import (
	"context"
	"errors"
	"io"
)

// Rows is a forward-only cursor over a result set: the inline first page,
// then every downloaded chunk in order.
type Rows struct {
	d               *Downloader
	pending         [][]Value
	current         []Value
	rowsRead        int64
	recordsAffected int64
	err             error
	closed          bool
}

// NewRows creates a cursor. first holds rows returned inline with the query
// response; d may be nil when there are no chunks. The downloader must have
// been started.
func NewRows(d *Downloader, first [][]Value, recordsAffected int64) *Rows {
	return &Rows{
		d:               d,
		pending:         first,
		recordsAffected: recordsAffected,
	}
}

// Next advances to the next row. It returns false at the end of the result
// set, after Close, or on error; check Err to tell them apart.
func (r *Rows) Next(ctx context.Context) bool {
	if r.closed || r.err != nil {
		return false
	}

	for len(r.pending) == 0 {
		if r.d == nil {
			r.current = nil
			return false
		}
		c, err := r.d.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.current = nil
			return false
		}
		if err != nil {
			r.err = err
			r.current = nil
			return false
		}
		r.pending = c.Rows()
	}

	r.current = r.pending[0]
	r.pending = r.pending[1:]
	r.rowsRead++
	return true
}

// Values returns the current row.
func (r *Rows) Values() []Value {
	return r.current
}

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error {
	return r.err
}

// RowsRead returns the number of rows returned by Next so far.
// It stays valid after Close.
func (r *Rows) RowsRead() int64 {
	return r.rowsRead
}

// RecordsAffected returns the affected-record count of the statement.
// It stays valid after Close.
func (r *Rows) RecordsAffected() int64 {
	return r.recordsAffected
}

// Close stops the downloader and releases buffered rows.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = nil
	r.current = nil
	if r.d != nil {
		return r.d.Close()
	}
	return nil
}
