package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/mvektor/weft/pkg/api"
)

// SQLiteEventStore stores run events in SQLite. Event content is persisted
// through the gob codec so streamed chunks survive a restart.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			node TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL DEFAULT 0,
			content BLOB,
			output BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	content, err := EncodeValue(ev.Content)
	if err != nil {
		return err
	}
	var output []byte
	if ev.Output != nil {
		if output, err = EncodeValue(*ev.Output); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, at, type, node, detail, iteration, content, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID,
		at.UnixNano(),
		string(ev.Type),
		ev.Node,
		ev.Detail,
		ev.Iteration,
		content,
		output,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, at, type, node, detail, iteration, content, output
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			id        string
			atN       int64
			typ       string
			node      string
			detail    string
			iteration int
			content   []byte
			output    []byte
		)
		if err := rows.Scan(&id, &atN, &typ, &node, &detail, &iteration, &content, &output); err != nil {
			return nil, err
		}

		ev := api.Event{
			RunID:     id,
			At:        time.Unix(0, atN),
			Type:      api.EventType(typ),
			Node:      node,
			Detail:    detail,
			Iteration: iteration,
		}

		if ev.Content, err = DecodeValue(content); err != nil {
			return nil, err
		}
		if len(output) > 0 {
			v, err := DecodeValue(output)
			if err != nil {
				return nil, err
			}
			if so, ok := v.(api.StepOutput); ok {
				ev.Output = &so
			}
		}

		out = append(out, ev)
	}
	return out, rows.Err()
}
