// Package postgres implements the run-state backend on PostgreSQL. New
// opens a pgx/v5 pool and runs queries through sqlx on the pgx stdlib
// driver; text arrays use lib/pq's array types. Run creation is one
// transaction guarded by a unique (group, time zone, run date) key, job
// claims are conditional updates, and item counters are incremented in
// place. Schema changes ship as embedded SQL migrations.
package postgres
