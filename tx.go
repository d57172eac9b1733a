package tableloader

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

// inTransaction runs scope inside a transaction started on conn, or directly on conn
// when it cannot begin one (it already is a transaction). The transaction commits when
// scope returns nil and rolls back otherwise.
func inTransaction(ctx context.Context, conn Conn, scope func(tx Conn) error) (retErr error) {
	beginner, ok := conn.(TxBeginner)
	if !ok {
		return scope(conn)
	}

	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	defer func() {
		if retErr != nil {
			if txErr := tx.Rollback(); txErr != nil {
				retErr = multierror.Append(retErr, errors.Wrap(txErr, "rolling back"))
			}
			return
		}
		if txErr := tx.Commit(); txErr != nil {
			retErr = errors.Wrap(txErr, "committing transaction")
		}
	}()

	return scope(tx)
}
