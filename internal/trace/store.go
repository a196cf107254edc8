// Package trace persists per-tick timing for the current run.
package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/plantctl/internal/scheduler"
)

// Entry is one stored tick.
type Entry struct {
	Seq        uint64        `json:"seq"`
	At         time.Time     `json:"at"`
	DT         time.Duration `json:"dt_ns"`
	Read       time.Duration `json:"read_ns"`
	Control    time.Duration `json:"control_ns"`
	Feedback   time.Duration `json:"feedback_ns"`
	Active     string        `json:"active,omitempty"`
	Late       bool          `json:"late"`
	Missed     bool          `json:"missed"`
	ReadFailed bool          `json:"read_failed"`
	SendFailed bool          `json:"send_failed"`
}

// Summary aggregates the stored ticks.
type Summary struct {
	RunID        string `json:"run_id"`
	Ticks        int64  `json:"ticks"`
	Late         int64  `json:"late"`
	Missed       int64  `json:"missed"`
	ReadFailures int64  `json:"read_failures"`
	SendFailures int64  `json:"send_failures"`
}

// Store reads and writes the tick_trace table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun records the run the trace belongs to.
func (s *Store) BeginRun(ctx context.Context, runID string, period time.Duration, digest string) error {
	if runID == "" {
		return fmt.Errorf("run id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_info(run_id, started_at, period_ns, digest)
VALUES(?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  started_at = excluded.started_at,
  period_ns = excluded.period_ns,
  digest = excluded.digest;
`, runID, time.Now().UTC().Format(time.RFC3339Nano), int64(period), digest)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Append stores rec. A late marker flags the tick it follows instead of
// adding a row.
func (s *Store) Append(ctx context.Context, rec scheduler.TickRecord) error {
	if rec.Late {
		if _, err := s.db.ExecContext(ctx, "UPDATE tick_trace SET late = 1 WHERE seq = ?;", int64(rec.Seq)); err != nil {
			return fmt.Errorf("mark tick late: %w", err)
		}
		return nil
	}

	var active any
	if rec.Active != "" {
		active = rec.Active
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tick_trace(seq, at, dt_ns, read_ns, control_ns, feedback_ns, active, missed, read_failed, send_failed)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		int64(rec.Seq),
		rec.At.UTC().Format(time.RFC3339Nano),
		int64(rec.DT),
		int64(rec.Read),
		int64(rec.Control),
		int64(rec.Feedback),
		active,
		boolInt(rec.Missed),
		boolInt(rec.ReadFailed),
		boolInt(rec.SendFailed),
	)
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", rec.Seq, err)
	}
	return nil
}

// Recent returns up to limit of the newest ticks, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, at, dt_ns, read_ns, control_ns, feedback_ns, COALESCE(active, ''), late, missed, read_failed, send_failed
FROM (SELECT * FROM tick_trace ORDER BY seq DESC LIMIT ?)
ORDER BY seq ASC;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                  Entry
			seq, dt, read, control, feedback   int64
			at                                 string
			late, missed, readFailed, sendFail int
		)
		if err := rows.Scan(&seq, &at, &dt, &read, &control, &feedback, &e.Active, &late, &missed, &readFailed, &sendFail); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse tick %d time: %w", seq, err)
		}
		e.Seq = uint64(seq)
		e.At = ts
		e.DT = time.Duration(dt)
		e.Read = time.Duration(read)
		e.Control = time.Duration(control)
		e.Feedback = time.Duration(feedback)
		e.Late = late != 0
		e.Missed = missed != 0
		e.ReadFailed = readFailed != 0
		e.SendFailed = sendFail != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return out, nil
}

// Summarize counts the stored ticks by outcome.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, "SELECT run_id FROM run_info ORDER BY started_at DESC LIMIT 1;").Scan(&sum.RunID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Summary{}, fmt.Errorf("read run: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(late), 0), COALESCE(SUM(missed), 0), COALESCE(SUM(read_failed), 0), COALESCE(SUM(send_failed), 0)
FROM tick_trace;
`).Scan(&sum.Ticks, &sum.Late, &sum.Missed, &sum.ReadFailures, &sum.SendFailures)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize ticks: %w", err)
	}
	return sum, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
