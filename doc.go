/*
Package tableloader provides typed, request-scoped access to relational tables for
database/sql users. A Loader converts between a table's storage representation and
an application representation, coalesces concurrent point lookups into one query per
batch window and memoizes the results until the next write made through the same
Loader.

Usage:

	import (
		"database/sql"

		"github.com/prashanthpai/tableloader"
		"github.com/prashanthpai/tableloader/converter"
		_ "github.com/jackc/pgx/v4/stdlib"
	)

	var users = &tableloader.Table{
		Name: "users",
		Converters: map[string]tableloader.ConverterFactory{
			"createdAt": converter.DateTime(),
			"role":      converter.Enum(map[string]int64{"admin": 1, "member": 2}),
		},
	}

	func handle(ctx context.Context, db *sql.DB) error {
		// one Loader per request
		loader, _, err := tableloader.New(&tableloader.Config{
			Conn:  db,
			Table: users,
		})
		...
		// both lookups are served by a single SELECT ... WHERE "id" IN ($1, $2)
		a := loader.ByIDThunk(ctx, tableloader.NewID("users", 1))
		b := loader.ByIDThunk(ctx, tableloader.NewID("users", 2))
		alice, err := a()
		bob, err := b()
		...
	}

Reads registered on the same field within one batch window (Settings.Wait) are
delivered to the database as one query. Inserts registered within one window are
written by as few multi-row statements as the bind parameter limit allows, inside a
single transaction, and every caller still receives its own row. Every successful
insert, update or delete clears all cached reads of the Loader.

Loaders are meant to be discarded at the end of the request. NewMiddleware installs a
fresh Scope in every HTTP request context so handlers can share loaders for the
lifetime of that request.
*/
package tableloader
