package telemetry

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const usageTableDDL = `
CREATE TABLE IF NOT EXISTS moniker_usage (
	id              BIGSERIAL PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	request_id      TEXT NOT NULL,
	app_id          TEXT NOT NULL DEFAULT '',
	team            TEXT NOT NULL DEFAULT '',
	moniker         TEXT NOT NULL,
	operation       TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	source_type     TEXT NOT NULL DEFAULT '',
	latency_ms      DOUBLE PRECISION NOT NULL DEFAULT 0,
	owner_at_access TEXT NOT NULL DEFAULT '',
	deprecated      BOOLEAN NOT NULL DEFAULT FALSE,
	successor       TEXT NOT NULL DEFAULT '',
	redirected_from TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS moniker_usage_ts_idx ON moniker_usage (ts);
CREATE INDEX IF NOT EXISTS moniker_usage_moniker_idx ON moniker_usage (moniker);
`

const usageInsert = `
INSERT INTO moniker_usage (
	ts, request_id, app_id, team, moniker, operation, outcome,
	source_type, latency_ms, owner_at_access, deprecated, successor,
	redirected_from, error_message
) VALUES (
	:ts, :request_id, :app_id, :team, :moniker, :operation, :outcome,
	:source_type, :latency_ms, :owner_at_access, :deprecated, :successor,
	:redirected_from, :error_message
)`

// PostgresSink persists events for usage analytics and sunset planning.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink connects and ensures the usage table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect telemetry database: %w", err)
	}
	db.SetMaxOpenConns(4)
	if _, err := db.ExecContext(ctx, usageTableDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure usage table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

type usageRow struct {
	UsageEvent
	AppID string `db:"app_id"`
	Team  string `db:"team"`
}

func (s *PostgresSink) Write(ctx context.Context, events []UsageEvent) error {
	rows := make([]usageRow, len(events))
	for i, ev := range events {
		rows[i] = usageRow{UsageEvent: ev, AppID: ev.Caller.AppID, Team: ev.Caller.Team}
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, usageInsert, rows); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert usage batch: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
