// Package storage opens the relational database behind the credential store,
// reset ledger, RBAC graph, and audit trail, and owns its schema.
//
// Two drivers are supported: lib/pq for PostgreSQL in production and
// mattn/go-sqlite3 for development and tests. Every query in this module uses
// $N placeholders, which both drivers accept.
//
//	db, err := storage.Open(ctx, storage.Config{Driver: "postgres", URL: url})
//	if err := storage.Migrate(ctx, db, storage.DialectFor("postgres"), logger); err != nil {
//		...
//	}
package storage
