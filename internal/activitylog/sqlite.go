package activitylog

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"sbh/internal/errs"
	"sbh/internal/xlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	severity TEXT,
	path TEXT,
	size_bytes INTEGER,
	score REAL,
	score_factors TEXT,
	pressure_level TEXT,
	free_pct REAL,
	duration_ms INTEGER,
	success INTEGER NOT NULL,
	error_code TEXT,
	error_message TEXT,
	details TEXT
);

CREATE TABLE IF NOT EXISTS pressure_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	mount_point TEXT NOT NULL,
	total_bytes INTEGER NOT NULL,
	free_bytes INTEGER NOT NULL,
	free_pct REAL NOT NULL,
	rate_bytes_per_sec REAL,
	pressure_level TEXT NOT NULL,
	ewma_rate REAL,
	pid_output TEXT
);

CREATE TABLE IF NOT EXISTS ballast_inventory (
	file_index INTEGER PRIMARY KEY,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	released_at INTEGER,
	replenished_at INTEGER,
	integrity_hash TEXT
);

CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_activity_event_type ON activity_log(event_type);
CREATE INDEX IF NOT EXISTS idx_activity_type_time ON activity_log(event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_pressure_timestamp ON pressure_history(timestamp);
CREATE INDEX IF NOT EXISTS idx_pressure_mount ON pressure_history(mount_point);
CREATE INDEX IF NOT EXISTS idx_pressure_mount_timestamp ON pressure_history(mount_point, timestamp);
`

const pragmas = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -8000;
PRAGMA mmap_size = 67108864;
PRAGMA temp_store = MEMORY;
PRAGMA busy_timeout = 5000;
`

// SqliteLogger is the indexed query-store backend of the activity
// logger, exercising modernc.org/sqlite (pure Go, no cgo).
type SqliteLogger struct {
	db *sql.DB
}

func OpenSqliteLogger(path string) (*SqliteLogger, error) {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errs.NewIO(dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.NewSql("open", err)
	}
	for _, stmt := range splitStatements(pragmas) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errs.NewSql("pragma", err)
		}
	}
	if !verifyWAL(db) {
		xlog.Printf("[SBH-SQLITE] WARNING: requested WAL mode but did not get it")
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errs.NewSql("schema", err)
		}
	}
	return &SqliteLogger{db: db}, nil
}

func verifyWAL(db *sql.DB) bool {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false
	}
	return mode == "wal"
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func splitStatements(sqlText string) []string {
	var stmts []string
	var cur []byte
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		cur = append(cur, c)
		if c == ';' {
			s := trimSpace(string(cur))
			if s != "" {
				stmts = append(stmts, s)
			}
			cur = nil
		}
	}
	if s := trimSpace(string(cur)); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }

func (s *SqliteLogger) Close() error { return s.db.Close() }

func (s *SqliteLogger) LogActivity(e Event) error {
	factorsJSON := fmt.Sprintf(`{"location":%f,"name":%f,"age":%f,"size":%f,"structure":%f}`,
		e.Factors.Location, e.Factors.Name, e.Factors.Age, e.Factors.Size, e.Factors.Structure)
	_, err := s.db.Exec(`INSERT INTO activity_log
		(timestamp, event_type, severity, path, size_bytes, score, score_factors,
		 pressure_level, free_pct, duration_ms, success, error_code, error_message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixNano(), e.Type.String(), e.Severity, e.Path, e.SizeBytes, e.Score,
		factorsJSON, e.Pressure, e.FreePct, e.DurationMs, boolToInt(e.Success),
		e.ErrorCode, e.ErrorMsg, e.Details)
	if err != nil {
		return errs.NewSql("log_activity", err)
	}
	return nil
}

func (s *SqliteLogger) LogPressure(e Event) error {
	_, err := s.db.Exec(`INSERT INTO pressure_history
		(timestamp, mount_point, total_bytes, free_bytes, free_pct, rate_bytes_per_sec,
		 pressure_level, ewma_rate, pid_output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixNano(), e.MountPoint, e.TotalBytes, e.FreeBytes, e.FreePct,
		e.RateBps, e.Pressure, e.EwmaRate, "")
	if err != nil {
		return errs.NewSql("log_pressure", err)
	}
	return nil
}

func (s *SqliteLogger) UpsertBallast(fileIndex int, path string, sizeBytes uint64, createdAtNanos int64) error {
	_, err := s.db.Exec(`INSERT INTO ballast_inventory (file_index, path, size_bytes, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_index) DO UPDATE SET path=excluded.path, size_bytes=excluded.size_bytes`,
		fileIndex, path, sizeBytes, createdAtNanos)
	if err != nil {
		return errs.NewSql("upsert_ballast", err)
	}
	return nil
}

func (s *SqliteLogger) CountEventsSince(eventType string, sinceNanos int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM activity_log WHERE event_type = ? AND timestamp >= ?`,
		eventType, sinceNanos).Scan(&n)
	if err != nil {
		return 0, errs.NewSql("count_events_since", err)
	}
	return n, nil
}

func (s *SqliteLogger) BytesFreedSince(sinceNanos int64) (uint64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(size_bytes) FROM activity_log
		WHERE event_type = ? AND timestamp >= ? AND success = 1`,
		EventArtifactDeleted.String(), sinceNanos).Scan(&total)
	if err != nil {
		return 0, errs.NewSql("bytes_freed_since", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}

func (s *SqliteLogger) IsWALMode() bool { return verifyWAL(s.db) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
