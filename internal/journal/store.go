package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sqlStore mirrors journal events to SQLite so they survive restarts.
type sqlStore struct {
	db *sql.DB
}

func openStore(path string) (*sqlStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS protocol_events (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		iface       TEXT NOT NULL,
		direction   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		sequence_id INTEGER,
		remote_addr TEXT,
		reason      TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_iface ON protocol_events(iface)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_ts ON protocol_events(timestamp)`)

	return &sqlStore{db: db}, nil
}

func (s *sqlStore) insert(evt Event) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO protocol_events
		 (id, timestamp, iface, direction, kind, sequence_id, remote_addr, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID,
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
		string(evt.Iface),
		string(evt.Direction),
		evt.Kind,
		int64(evt.SequenceID),
		evt.RemoteAddr,
		evt.Reason,
	)
	return err
}

func (s *sqlStore) loadRecent(limit int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, iface, direction, kind, sequence_id, remote_addr, reason
		 FROM protocol_events ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e     Event
			ts    string
			iface string
			dir   string
			seq   int64
		)
		if err := rows.Scan(&e.ID, &ts, &iface, &dir, &e.Kind, &seq, &e.RemoteAddr, &e.Reason); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		e.Iface = Iface(iface)
		e.Direction = Direction(dir)
		e.SequenceID = uint16(seq)
		out = append(out, e)
	}

	// Oldest first, matching the in-memory ring order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *sqlStore) close() error {
	return s.db.Close()
}
