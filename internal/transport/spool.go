package transport

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/gyaneshwarpardhi/policytrace/internal/event"
	"github.com/gyaneshwarpardhi/policytrace/internal/metrics"
)

// Spool is an offline fallback: batches are written to a local SQLite outbox
// instead of the network. Nothing drains it automatically; see Drain.
type Spool struct {
	db  *sql.DB
	now func() time.Time
}

// DrainStats summarizes one Drain run.
type DrainStats struct {
	Sent      int
	Remaining int
}

// OpenSpool opens (or creates) the outbox at path.
func OpenSpool(path string) (*Spool, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createOutbox(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Spool{db: db, now: time.Now}, nil
}

func createOutbox(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox(
	  id         INTEGER PRIMARY KEY AUTOINCREMENT,
	  created_ms INTEGER NOT NULL,
	  body       TEXT    NOT NULL CHECK (json_valid(body))
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_created ON outbox(created_ms);
	`)
	if err != nil {
		return fmt.Errorf("create spool tables: %w", err)
	}
	return nil
}

// Beacon stores body and reports whether the write succeeded.
func (s *Spool) Beacon(body []byte) bool {
	ok := s.store(body) == nil
	metrics.BeaconResults.WithLabelValues("spool", boolLabel(ok)).Inc()
	return ok
}

func (s *Spool) store(body []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("spool not open")
	}
	if !json.Valid(body) {
		return fmt.Errorf("spool: body is not valid JSON")
	}
	_, err := s.db.Exec(`INSERT INTO outbox(created_ms, body) VALUES(?, ?)`, s.now().UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("spool insert: %w", err)
	}
	return nil
}

// Pending counts stored batches.
func (s *Spool) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("spool count: %w", err)
	}
	return n, nil
}

// PendingEvents counts the events inside stored batches. Rows that do not
// decode as a batch are skipped and reported in bad.
func (s *Spool) PendingEvents(ctx context.Context) (events, bad int, err error) {
	rows, err := s.oldest(ctx, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		batch, err := event.Decode([]byte(row.body))
		if err != nil {
			bad++
			continue
		}
		events += len(batch.Events)
	}
	return events, bad, nil
}

type spooled struct {
	id   int64
	body string
}

// Drain replays stored batches oldest-first through sender, deleting each one
// it delivers. It stops at the first failed send and returns that error.
// limit <= 0 means no limit.
func (s *Spool) Drain(ctx context.Context, sender Sender, limit int) (DrainStats, error) {
	var stats DrainStats
	rows, err := s.oldest(ctx, limit)
	if err != nil {
		return stats, err
	}

	var sendErr error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			sendErr = err
			break
		}
		if err := sender.Send(ctx, []byte(row.body)); err != nil {
			metrics.SpoolDrained.WithLabelValues("failed").Inc()
			sendErr = fmt.Errorf("replay spooled batch %d: %w", row.id, err)
			break
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, row.id); err != nil {
			sendErr = fmt.Errorf("spool delete %d: %w", row.id, err)
			break
		}
		metrics.SpoolDrained.WithLabelValues("sent").Inc()
		stats.Sent++
	}

	remaining, err := s.Pending(ctx)
	if err != nil && sendErr == nil {
		sendErr = err
	}
	stats.Remaining = remaining
	return stats, sendErr
}

func (s *Spool) oldest(ctx context.Context, limit int) ([]spooled, error) {
	query := `SELECT id, body FROM outbox ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spool query: %w", err)
	}
	defer rows.Close()

	var out []spooled
	for rows.Next() {
		var r spooled
		if err := rows.Scan(&r.id, &r.body); err != nil {
			return nil, fmt.Errorf("spool scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Spool) Close() error {
	return s.db.Close()
}
