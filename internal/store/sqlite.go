package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStorage marks write failures that the supervisor must treat as fatal
// for the affected subsystem (disk full, permission denied, corruption).
var ErrStorage = errors.New("storage unavailable")

var errDiskFull = errors.New("disk full")

// Store is the durable event store shared by the sampler and the watcher.
//
// Writes are serialized by a single writer mutex so that the extend-if-open
// logic of AppendActivity is atomic. Reads go straight to SQLite; WAL mode
// keeps them from blocking on the writer.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. The journal runs in WAL mode with synchronous=FULL so that
// every committed append survives a process kill.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := ApplyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if err := ValidateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path. The watcher uses it to exclude the
// store's own files (including -wal and -shm siblings) from capture.
func (s *Store) Path() string {
	return s.path
}

// storageErr wraps a write failure so callers can match ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// AppendActivity persists a segment. A closed segment is inserted as-is.
// For an open segment, if an open row with the same kind and label already
// exists it is extended in place (end_ns advanced to seg.EndNs) rather than
// duplicated; otherwise a new open row is inserted. seg.ID is set on return.
func (s *Store) AppendActivity(seg *ActivitySegment) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin append activity", err)
	}
	defer tx.Rollback()

	if seg.Open() {
		var id int64
		err := tx.QueryRow(`
			SELECT id FROM activity_segments
			WHERE kind = ? AND label = ? AND closed = 0
			ORDER BY start_ns DESC
			LIMIT 1`, seg.Kind, seg.Label,
		).Scan(&id)
		switch {
		case err == nil:
			if _, err := tx.Exec(
				`UPDATE activity_segments SET end_ns = ? WHERE id = ?`,
				seg.EndNs, id,
			); err != nil {
				return storageErr("extend open segment", err)
			}
			seg.ID = id
			if err := tx.Commit(); err != nil {
				return storageErr("commit extend", err)
			}
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// No open row for this kind+label, fall through to insert.
		default:
			return storageErr("find open segment", err)
		}
	}

	closed := 0
	if seg.Closed {
		closed = 1
	}
	result, err := tx.Exec(`
		INSERT INTO activity_segments (kind, label, start_ns, end_ns, closed)
		VALUES (?, ?, ?, ?, ?)`,
		seg.Kind, seg.Label, seg.StartNs, seg.EndNs, closed,
	)
	if err != nil {
		return storageErr("insert segment", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("get last insert id", err)
	}
	seg.ID = id

	if err := tx.Commit(); err != nil {
		return storageErr("commit insert", err)
	}
	return nil
}

// CloseSegment seals one open segment at endNs. Closing an already closed
// segment is an error; segments are immutable once closed.
func (s *Store) CloseSegment(id int64, endNs int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.Exec(
		`UPDATE activity_segments SET end_ns = ?, closed = 1 WHERE id = ? AND closed = 0`,
		endNs, id,
	)
	if err != nil {
		return storageErr("close segment", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("get rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("segment not open: %d", id)
	}
	return nil
}

// CloseOpenSegments seals every open segment, used at startup to recover from
// an unclean shutdown and at graceful shutdown as a backstop. A row that
// carries a heartbeat end_ns keeps it as the last-known-alive timestamp;
// rows without one are sealed at atNs. Returns the number of sealed rows.
func (s *Store) CloseOpenSegments(atNs int64) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.Exec(
		`UPDATE activity_segments SET closed = 1, end_ns = COALESCE(end_ns, ?) WHERE closed = 0`,
		atNs,
	)
	if err != nil {
		return 0, storageErr("close open segments", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("get rows affected", err)
	}
	return affected, nil
}

// AppendChange persists a change record. When the most recent record for the
// same path carries the same content hash the write is suppressed (editors
// that touch a file without changing bytes); the first return value reports
// whether a row was inserted.
func (s *Store) AppendChange(rec *ChangeRecord) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, storageErr("begin append change", err)
	}
	defer tx.Rollback()

	if rec.ContentHash != "" {
		var lastHash string
		err := tx.QueryRow(`
			SELECT content_hash FROM change_records
			WHERE root = ? AND file_path = ?
			ORDER BY timestamp_ns DESC, id DESC
			LIMIT 1`, rec.Root, rec.FilePath,
		).Scan(&lastHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, storageErr("find last change", err)
		}
		if err == nil && lastHash == rec.ContentHash {
			return false, nil
		}
	}

	result, err := tx.Exec(`
		INSERT INTO change_records (timestamp_ns, root, file_path, old_path, change_type, diff, content_hash, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TimestampNs, rec.Root, rec.FilePath, rec.OldPath, rec.ChangeType, rec.Diff, rec.ContentHash, rec.FileSize,
	)
	if err != nil {
		return false, storageErr("insert change", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, storageErr("get last insert id", err)
	}
	rec.ID = id

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit change", err)
	}
	return true, nil
}

// QueryRange returns both event kinds whose interval intersects
// [startNs, endNs), ordered by timestamp ascending. Open segments intersect
// any range that begins before their start heartbeat frontier.
func (s *Store) QueryRange(startNs, endNs int64) ([]ActivitySegment, []ChangeRecord, error) {
	segRows, err := s.db.Query(`
		SELECT id, kind, label, start_ns, end_ns, closed
		FROM activity_segments
		WHERE start_ns < ? AND (end_ns IS NULL OR end_ns >= ?)
		ORDER BY start_ns ASC`, endNs, startNs,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query segments: %w", err)
	}
	defer segRows.Close()

	segments, err := scanSegments(segRows)
	if err != nil {
		return nil, nil, err
	}

	chRows, err := s.db.Query(`
		SELECT id, timestamp_ns, root, file_path, old_path, change_type, diff, content_hash, file_size
		FROM change_records
		WHERE timestamp_ns >= ? AND timestamp_ns < ?
		ORDER BY timestamp_ns ASC`, startNs, endNs,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query changes: %w", err)
	}
	defer chRows.Close()

	changes, err := scanChanges(chRows)
	if err != nil {
		return nil, nil, err
	}

	return segments, changes, nil
}

// LatestChanges returns the most recent n change records, newest first.
func (s *Store) LatestChanges(n int) ([]ChangeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp_ns, root, file_path, old_path, change_type, diff, content_hash, file_size
		FROM change_records
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest changes: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

// LastContentHash returns the most recent stored hash for a path, or empty.
// The watcher uses it to seed suppression state after a restart.
func (s *Store) LastContentHash(root, filePath string) (string, error) {
	var hash string
	err := s.db.QueryRow(`
		SELECT content_hash FROM change_records
		WHERE root = ? AND file_path = ?
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT 1`, root, filePath,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last content hash: %w", err)
	}
	return hash, nil
}

// Counts returns stored event totals.
func (s *Store) Counts() (Counts, error) {
	var c Counts
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM activity_segments`).Scan(&c.ActivitySegments); err != nil {
		return c, fmt.Errorf("count segments: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM activity_segments WHERE closed = 0`).Scan(&c.OpenSegments); err != nil {
		return c, fmt.Errorf("count open segments: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM change_records`).Scan(&c.ChangeRecords); err != nil {
		return c, fmt.Errorf("count changes: %w", err)
	}
	return c, nil
}

// StatsForRange aggregates activity between startNs and endNs for the
// status command: distinct applications and domains seen, files changed,
// and total non-idle segment time.
func (s *Store) StatsForRange(startNs, endNs int64) (DayStats, error) {
	var st DayStats

	if err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT label) FROM activity_segments
		WHERE kind = ? AND start_ns >= ? AND start_ns < ?`,
		KindAppFocus, startNs, endNs,
	).Scan(&st.Applications); err != nil {
		return st, fmt.Errorf("count applications: %w", err)
	}

	if err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT label) FROM activity_segments
		WHERE kind = ? AND start_ns >= ? AND start_ns < ?`,
		KindWebsite, startNs, endNs,
	).Scan(&st.Domains); err != nil {
		return st, fmt.Errorf("count domains: %w", err)
	}

	if err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT file_path) FROM change_records
		WHERE timestamp_ns >= ? AND timestamp_ns < ?`,
		startNs, endNs,
	).Scan(&st.FilesChanged); err != nil {
		return st, fmt.Errorf("count changed files: %w", err)
	}

	var activeNs sql.NullInt64
	if err := s.db.QueryRow(`
		SELECT SUM(COALESCE(end_ns, start_ns) - start_ns) FROM activity_segments
		WHERE kind = ? AND start_ns >= ? AND start_ns < ?`,
		KindAppFocus, startNs, endNs,
	).Scan(&activeNs); err != nil {
		return st, fmt.Errorf("sum active time: %w", err)
	}
	if activeNs.Valid {
		st.ActiveSeconds = activeNs.Int64 / 1e9
	}

	return st, nil
}

// scanSegments is a helper to scan segment rows into a slice.
func scanSegments(rows *sql.Rows) ([]ActivitySegment, error) {
	var segments []ActivitySegment

	for rows.Next() {
		var seg ActivitySegment
		var endNs sql.NullInt64
		var closed int
		if err := rows.Scan(&seg.ID, &seg.Kind, &seg.Label, &seg.StartNs, &endNs, &closed); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if endNs.Valid {
			v := endNs.Int64
			seg.EndNs = &v
		}
		seg.Closed = closed != 0
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return segments, nil
}

// scanChanges is a helper to scan change rows into a slice.
func scanChanges(rows *sql.Rows) ([]ChangeRecord, error) {
	var changes []ChangeRecord

	for rows.Next() {
		var rec ChangeRecord
		if err := rows.Scan(
			&rec.ID, &rec.TimestampNs, &rec.Root, &rec.FilePath, &rec.OldPath,
			&rec.ChangeType, &rec.Diff, &rec.ContentHash, &rec.FileSize,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}
