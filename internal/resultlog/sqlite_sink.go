package resultlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS throughput (
		run_id TEXT PRIMARY KEY,
		finished_at TEXT NOT NULL,
		mean_fps REAL NOT NULL,
		records INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detections (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		frame INTEGER NOT NULL,
		label TEXT NOT NULL,
		score REAL NOT NULL,
		xmin INTEGER NOT NULL,
		ymin INTEGER NOT NULL,
		xmax INTEGER NOT NULL,
		ymax INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES throughput(run_id)
	);
`

// SQLiteSink stores each finished run in a SQLite database, keyed by a
// random run id, so several runs can share one file.
type SQLiteSink struct {
	Path  string
	RunID string
	now   func() time.Time
}

// NewSQLiteSink creates a sink with a fresh run id.
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{Path: path, RunID: uuid.NewString(), now: time.Now}
}

func (s *SQLiteSink) Write(records []types.LogRecord, meanFPS float64) error {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if _, err := tx.Exec(
		`INSERT INTO throughput (run_id, finished_at, mean_fps, records) VALUES (?, ?, ?, ?)`,
		s.RunID, now().UTC().Format(time.RFC3339), meanFPS, len(records),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, seq, frame, label, score, xmin, ymin, xmax, ymax)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.Exec(s.RunID, i, r.FrameIndex, r.Label, r.Score,
			r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y); err != nil {
			return fmt.Errorf("insert detection %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadSQLite loads the run runID from a database written by SQLiteSink.
func ReadSQLite(path, runID string) ([]types.LogRecord, float64, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, 0, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var mean float64
	if err := db.QueryRow(`SELECT mean_fps FROM throughput WHERE run_id = ?`, runID).Scan(&mean); err != nil {
		return nil, 0, fmt.Errorf("query run %s: %w", runID, err)
	}

	rows, err := db.Query(`
		SELECT frame, label, score, xmin, ymin, xmax, ymax
		FROM detections WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, 0, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var records []types.LogRecord
	for rows.Next() {
		var r types.LogRecord
		if err := rows.Scan(&r.FrameIndex, &r.Label, &r.Score,
			&r.TopLeft.X, &r.TopLeft.Y, &r.BottomRight.X, &r.BottomRight.Y); err != nil {
			return nil, 0, fmt.Errorf("scan detection: %w", err)
		}
		records = append(records, r)
	}
	return records, mean, rows.Err()
}
