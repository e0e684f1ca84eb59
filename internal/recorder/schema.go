package recorder

import (
	"context"
	"fmt"
)

// Schema creates the events table. On TimescaleDB the table may be turned
// into a hypertable on received_at; plain PostgreSQL works unchanged.
const Schema = `
CREATE TABLE IF NOT EXISTS gateway_events (
	id          BIGSERIAL,
	session_id  UUID        NOT NULL,
	event       TEXT        NOT NULL,
	event_key   TEXT        NOT NULL,
	req_id      BIGINT,
	fields      JSONB       NOT NULL,
	received_at BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS gateway_events_session_idx ON gateway_events (session_id, received_at);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
