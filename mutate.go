package tableloader

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Update sets the fields of partial on the row with id. An "id" in partial is
// ignored and an empty partial is a no-op.
func (l *Loader) Update(ctx context.Context, id ID, partial Record) error {
	return l.UpdateWhere(ctx, partial, id)
}

// UpdateWhere sets the fields of partial on every row in ids. No ids is a no-op.
func (l *Loader) UpdateWhere(ctx context.Context, partial Record, ids ...ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys, err := l.codec.encodeIDs(ids)
	if err != nil {
		return err
	}
	partial = partial.Clone()
	delete(partial, "id")
	set, err := l.codec.toStorage(partial, true)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}

	query, args := updateSQL(l.table.Name, set, keys)
	if _, err := l.conn.ExecContext(ctx, l.rebind(query), args...); err != nil {
		return errors.Wrapf(err, "updating %q", l.table.Name)
	}
	l.logger.WithFields(logrus.Fields{"ids": len(ids), "columns": len(set)}).Debug("updated rows")

	l.Clear()
	l.notify(ctx, l.table.OnUpdate, ids)
	return nil
}

// Delete removes the rows in ids. No ids is a no-op.
func (l *Loader) Delete(ctx context.Context, ids ...ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys, err := l.codec.encodeIDs(ids)
	if err != nil {
		return err
	}

	query, args := deleteSQL(l.table.Name, keys)
	if _, err := l.conn.ExecContext(ctx, l.rebind(query), args...); err != nil {
		return errors.Wrapf(err, "deleting from %q", l.table.Name)
	}
	l.logger.WithField("ids", len(ids)).Debug("deleted rows")

	l.Clear()
	l.notify(ctx, l.table.OnUpdate, ids)
	return nil
}
