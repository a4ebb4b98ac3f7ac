// Package storage provides the persistence layer shared by the directory, site and role stores.
//
// # Overview
//
// A DB wraps a *sql.DB opened with either the PostgreSQL driver (lib/pq) or the embedded
// SQLite driver (mattn/go-sqlite3). Schema migrations for both dialects are embedded and
// applied with goose.
//
// # Transactions
//
// Every top-level operation of the role engine runs in a single transaction. WithTx begins a
// transaction and carries it in the context; stores obtain their Querier through Conn, so any
// store call made with that context joins the transaction. Nested WithTx calls reuse the outer
// transaction:
//
//	err := db.WithTx(ctx, func(ctx context.Context) error {
//		if err := groups.Create(ctx, group); err != nil {
//			return err
//		}
//		return roles.Create(ctx, role)
//	})
//
// # Errors
//
// Unique constraint violations from either driver are reported through IsUniqueViolation.
package storage
