// Package sqlite provides an optional queryable capture.Store backend
// using the pure-Go modernc.org/sqlite driver, grounded on the pack's
// registry.DB pattern: WAL mode, a single migrate step, no cgo.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
)

// sqliteTimeLayouts covers both the driver's default datetime('now') text
// format and the RFC3339Nano format Append writes for message timestamps.
var sqliteTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

func parseSQLiteTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// Store is a capture.Store backed by a single SQLite database file,
// useful when an operator wants session history to survive restarts and
// to be queryable without loading the whole session into memory.
type Store struct {
	db        *sql.DB
	sessionID uuid.UUID
}

// Open opens (or creates) the database at dbPath and prepares it to hold
// sessionID's messages, tagged with meta.
func Open(dbPath string, sessionID uuid.UUID, meta capture.SessionMeta) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, sessionID: sessionID}
	if err := s.migrate(meta); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(meta capture.SessionMeta) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			version        TEXT NOT NULL,
			started_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			ended_at       TEXT,
			transport      TEXT NOT NULL DEFAULT '',
			server_command TEXT NOT NULL DEFAULT '',
			server_url     TEXT NOT NULL DEFAULT '',
			metadata       TEXT
		);
		CREATE TABLE IF NOT EXISTS messages (
			session_id    TEXT NOT NULL,
			proxy_id      TEXT PRIMARY KEY,
			sequence      INTEGER NOT NULL,
			timestamp     TEXT NOT NULL,
			direction     TEXT NOT NULL,
			transport     TEXT NOT NULL,
			kind          TEXT NOT NULL,
			method        TEXT,
			jsonrpc_id    TEXT,
			correlated_id TEXT,
			raw           BLOB NOT NULL,
			modified      INTEGER NOT NULL DEFAULT 0,
			original_raw  BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session_seq
			ON messages(session_id, sequence);
	`)
	if err != nil {
		return err
	}

	var metadataJSON []byte
	if len(meta.Metadata) > 0 {
		metadataJSON, err = json.Marshal(meta.Metadata)
		if err != nil {
			return fmt.Errorf("marshal session metadata: %w", err)
		}
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, version, started_at, updated_at, transport, server_command, server_url, metadata)
		 VALUES (?, ?, datetime('now'), datetime('now'), ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		s.sessionID.String(), capture.CurrentVersion,
		meta.Transport, meta.ServerCommand, meta.ServerURL, metadataJSON,
	)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// End stamps the session's ended_at time. Calling it more than once
// leaves the first timestamp in place.
func (s *Store) End(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = datetime('now') WHERE id = ? AND ended_at IS NULL`,
		s.sessionID.String())
	return err
}

func (s *Store) Append(ctx context.Context, record capture.EnvelopeRecord) error {
	var method, jsonrpcID, correlatedID sql.NullString
	if record.Method != nil {
		method = sql.NullString{String: *record.Method, Valid: true}
	}
	if len(record.JSONRPCID) > 0 {
		jsonrpcID = sql.NullString{String: string(record.JSONRPCID), Valid: true}
	}
	if record.CorrelatedID != nil {
		correlatedID = sql.NullString{String: record.CorrelatedID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			session_id, proxy_id, sequence, timestamp, direction, transport,
			kind, method, jsonrpc_id, correlated_id, raw, modified, original_raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID.String(), record.ProxyID.String(), record.Sequence,
		record.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		record.Direction, record.Transport, record.Kind, method, jsonrpcID, correlatedID,
		[]byte(record.Raw), record.Modified, []byte(record.OriginalRaw),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = datetime('now') WHERE id = ?`, s.sessionID.String())
	return err
}

func (s *Store) Messages(ctx context.Context) ([]capture.EnvelopeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proxy_id, sequence, timestamp, direction, transport, kind,
		       method, jsonrpc_id, correlated_id, raw, modified, original_raw
		FROM messages WHERE session_id = ? ORDER BY sequence ASC`, s.sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) ByID(ctx context.Context, proxyID uuid.UUID) (capture.EnvelopeRecord, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proxy_id, sequence, timestamp, direction, transport, kind,
		       method, jsonrpc_id, correlated_id, raw, modified, original_raw
		FROM messages WHERE session_id = ? AND proxy_id = ?`, s.sessionID.String(), proxyID.String())
	if err != nil {
		return capture.EnvelopeRecord{}, false, fmt.Errorf("query message: %w", err)
	}
	defer rows.Close()
	records, err := scanMessages(rows)
	if err != nil || len(records) == 0 {
		return capture.EnvelopeRecord{}, false, err
	}
	return records[0], true, nil
}

func (s *Store) Snapshot(ctx context.Context) (capture.SessionRecord, error) {
	messages, err := s.Messages(ctx)
	if err != nil {
		return capture.SessionRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT version, started_at, updated_at, ended_at, transport, server_command, server_url, metadata
		 FROM sessions WHERE id = ?`, s.sessionID.String())
	var (
		version, startedAt, updatedAt                string
		endedAt, transport, serverCommand, serverURL sql.NullString
		metadataJSON                                 sql.NullString
	)
	if err := row.Scan(&version, &startedAt, &updatedAt, &endedAt, &transport, &serverCommand, &serverURL, &metadataJSON); err != nil {
		return capture.SessionRecord{}, fmt.Errorf("query session: %w", err)
	}
	record := capture.SessionRecord{
		Version:       version,
		SessionID:     s.sessionID,
		Transport:     transport.String,
		ServerCommand: serverCommand.String,
		ServerURL:     serverURL.String,
		Messages:      messages,
	}
	record.StartedAt, _ = parseSQLiteTime(startedAt)
	record.UpdatedAt, _ = parseSQLiteTime(updatedAt)
	if endedAt.Valid {
		if t, err := parseSQLiteTime(endedAt.String); err == nil {
			record.EndedAt = &t
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(metadataJSON.String), &md); err == nil {
			record.Metadata = md
		}
	}
	return record, nil
}

func scanMessages(rows *sql.Rows) ([]capture.EnvelopeRecord, error) {
	var out []capture.EnvelopeRecord
	for rows.Next() {
		var (
			proxyID                                string
			sequence                                int64
			timestamp, direction, transport, kind   string
			method, jsonrpcID, correlatedID         sql.NullString
			raw, originalRaw                        []byte
			modified                                bool
		)
		if err := rows.Scan(&proxyID, &sequence, &timestamp, &direction, &transport,
			&kind, &method, &jsonrpcID, &correlatedID, &raw, &modified, &originalRaw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec := capture.EnvelopeRecord{
			Direction: direction,
			Transport: transport,
			Kind:      kind,
			Sequence:  uint64(sequence),
			Raw:       json.RawMessage(raw),
			Modified:  modified,
		}
		rec.ProxyID, _ = uuid.Parse(proxyID)
		rec.Timestamp, _ = parseSQLiteTime(timestamp)
		if method.Valid {
			m := method.String
			rec.Method = &m
		}
		if jsonrpcID.Valid {
			rec.JSONRPCID = json.RawMessage(jsonrpcID.String)
		}
		if correlatedID.Valid {
			if id, err := uuid.Parse(correlatedID.String); err == nil {
				rec.CorrelatedID = &id
			}
		}
		if len(originalRaw) > 0 {
			rec.OriginalRaw = json.RawMessage(originalRaw)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ capture.Store = (*Store)(nil)
