package rowlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the SQLite row log. Rows are append-only: nothing in this
// package updates or deletes them.
const schema = `
CREATE TABLE IF NOT EXISTS telemetry_rows (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ms    INTEGER NOT NULL,
    session_id      TEXT NOT NULL,
    student_id      TEXT NOT NULL,
    keystrokes      INTEGER NOT NULL,
    tab_switches    INTEGER NOT NULL,
    mouse_velocity  REAL NOT NULL,
    copy_paste      INTEGER NOT NULL,
    scroll_speed    REAL NOT NULL,
    raise_hand      TEXT NOT NULL,
    question        TEXT NOT NULL DEFAULT '',
    need_break      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry_rows(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_telemetry_student ON telemetry_rows(student_id, timestamp_ms);
`

// SQLite is a local row log backed by a SQLite database. It serves
// deployments that keep the shared store on a common filesystem instead of a
// published spreadsheet.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the row log database at path.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append stamps the record server-side and inserts it.
func (s *SQLite) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_rows
		    (timestamp_ms, session_id, student_id, keystrokes, tab_switches,
		     mouse_velocity, copy_paste, scroll_speed, raise_hand, question, need_break)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), rec.SessionID, rec.StudentID,
		rec.KeystrokeCount, rec.TabSwitches, rec.MouseVelocity,
		rec.CopyPasteEvents, rec.ScrollSpeed,
		yesNo(rec.RaiseHand), rec.Question, yesNo(rec.NeedBreak),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry row: %w", err)
	}
	return nil
}

// ReadAll returns every row oldest first, in the positional cell layout.
func (s *SQLite) ReadAll(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, session_id, student_id, keystrokes, tab_switches,
		       mouse_velocity, copy_paste, scroll_speed, raise_hand, question, need_break
		FROM telemetry_rows
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query telemetry rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			timestampMs   int64
			sessionID     string
			studentID     string
			keystrokes    int
			tabSwitches   int
			mouseVelocity float64
			copyPaste     int
			scrollSpeed   float64
			raiseHand     string
			question      string
			needBreak     string
		)
		if err := rows.Scan(&timestampMs, &sessionID, &studentID, &keystrokes,
			&tabSwitches, &mouseVelocity, &copyPaste, &scrollSpeed,
			&raiseHand, &question, &needBreak); err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}

		out = append(out, Row{
			strconv.FormatInt(timestampMs, 10),
			sessionID,
			studentID,
			strconv.Itoa(keystrokes),
			strconv.Itoa(tabSwitches),
			strconv.FormatFloat(mouseVelocity, 'f', -1, 64),
			strconv.Itoa(copyPaste),
			strconv.FormatFloat(scrollSpeed, 'f', -1, 64),
			raiseHand,
			question,
			needBreak,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry rows: %w", err)
	}

	return out, nil
}
