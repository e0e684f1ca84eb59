// Package recorder persists selected inbound gateway events to PostgreSQL.
//
// A Writer exposes one callback handler per configured event name. Handlers
// enqueue without blocking; a consumer goroutine batches rows and flushes
// them into gateway_events on size or interval. Rows are append-only.
package recorder
