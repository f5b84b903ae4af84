package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pm-updown-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const writeTimeout = 3 * time.Second

// PGWriter appends events to a Postgres/Timescale table. It is meant to
// sit behind a Queue; writes are synchronous here.
type PGWriter struct {
	db     *sql.DB
	schema string
}

func NewPGWriter(cfg config.EventsConfig) (*PGWriter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("events dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	w := &PGWriter{db: db, schema: schema}
	if err := w.ensureTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *PGWriter) ensureTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.control_events (
		ts          TIMESTAMPTZ NOT NULL,
		event_type  TEXT NOT NULL,
		market_id   TEXT NOT NULL,
		asset       TEXT,
		run_id      TEXT,
		reason_code TEXT,
		data        JSONB
	)`, w.schema))
	return err
}

func (w *PGWriter) WriteEvent(ctx context.Context, ev Event) error {
	var data []byte
	if ev.Data != nil {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return err
		}
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(writeCtx,
		fmt.Sprintf(`INSERT INTO %s.control_events (ts, event_type, market_id, asset, run_id, reason_code, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, w.schema),
		at, string(ev.Type), ev.MarketID, ev.Asset, ev.RunID, ev.ReasonCode, data,
	)
	return err
}

func (w *PGWriter) Close() error {
	return w.db.Close()
}
