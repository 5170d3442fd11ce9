package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mvektor/weft/pkg/api"
)

// SQLiteStore implements RunStore and SessionStore on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ RunStore     = (*SQLiteStore)(nil)
	_ SessionStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			input BLOB,
			content BLOB,
			step_results BLOB,
			extra BLOB,
			error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			state BLOB
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveRun(rec *api.RunRecord) error {
	input, content, stepResults, extra, err := encodeRunPayloads(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, pipeline, session_id, status, input, content, step_results, extra, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Pipeline,
		rec.SessionID,
		string(rec.Status),
		input,
		content,
		stepResults,
		extra,
		rec.Err,
		rec.CreatedAt.UnixNano(),
		rec.CompletedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateRun(rec *api.RunRecord) error {
	input, content, stepResults, extra, err := encodeRunPayloads(rec)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET pipeline = ?, session_id = ?, status = ?, input = ?, content = ?, step_results = ?, extra = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		rec.Pipeline,
		rec.SessionID,
		string(rec.Status),
		input,
		content,
		stepResults,
		extra,
		rec.Err,
		rec.CompletedAt.UnixNano(),
		rec.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (*api.RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, pipeline, session_id, status, input, content, step_results, extra, error, created_at, completed_at
		FROM runs
		WHERE id = ?`,
		id,
	)

	rec, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListRuns(filter RunFilter) ([]*api.RunRecord, error) {
	query := `
		SELECT id, pipeline, session_id, status, input, content, step_results, extra, error, created_at, completed_at
		FROM runs`
	var args []any
	var clauses []string

	if filter.Pipeline != "" {
		clauses = append(clauses, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *SQLiteStore) GetSessionState(sessionID string) (map[string]any, error) {
	row := s.db.QueryRow(`SELECT state FROM sessions WHERE id = ?`, sessionID)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return decodeSessionState(blob)
}

func (s *SQLiteStore) PutSessionState(sessionID string, state map[string]any) error {
	blob, err := EncodeValue(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, state) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state`,
		sessionID, blob,
	)
	return err
}

func encodeRunPayloads(rec *api.RunRecord) (input, content, stepResults, extra []byte, err error) {
	if input, err = EncodeValue(rec.Input); err != nil {
		return nil, nil, nil, nil, err
	}
	if content, err = EncodeValue(rec.Content); err != nil {
		return nil, nil, nil, nil, err
	}
	if stepResults, err = EncodeValue(rec.StepResults); err != nil {
		return nil, nil, nil, nil, err
	}
	if len(rec.Extra) > 0 {
		if extra, err = EncodeValue(rec.Extra); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return input, content, stepResults, extra, nil
}

func scanRun(scan func(dest ...any) error) (*api.RunRecord, error) {
	var rec api.RunRecord
	var statusStr string
	var input, content, stepResults, extra []byte
	var errStr sql.NullString
	var createdAt, completedAt int64

	if err := scan(&rec.ID, &rec.Pipeline, &rec.SessionID, &statusStr, &input, &content, &stepResults, &extra, &errStr, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	rec.Status = api.Status(statusStr)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.CompletedAt = time.Unix(0, completedAt)
	if errStr.Valid {
		rec.Err = errStr.String
	}

	inVal, err := DecodeValue(input)
	if err != nil {
		return nil, err
	}
	rec.Input = inVal

	contentVal, err := DecodeValue(content)
	if err != nil {
		return nil, err
	}
	rec.Content = contentVal

	results, err := decodeStepResults(stepResults)
	if err != nil {
		return nil, err
	}
	rec.StepResults = results

	extraVal, err := decodeExtra(extra)
	if err != nil {
		return nil, err
	}
	rec.Extra = extraVal

	return &rec, nil
}

func decodeExtra(data []byte) (map[string]any, error) {
	v, err := DecodeValue(data)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("stored extra data has unexpected type")
	}
	return m, nil
}

func decodeStepResults(data []byte) ([]api.StepOutput, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	results, ok := v.([]api.StepOutput)
	if !ok {
		return nil, errors.New("stored step results have unexpected type")
	}
	return results, nil
}

func decodeSessionState(data []byte) (map[string]any, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	state, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("stored session state has unexpected type")
	}
	return state, nil
}
