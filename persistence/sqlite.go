package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wfunc/econgames/models"
)

// SQLiteStore persists session documents in a single SQLite file. Change
// notifications are process local.
type SQLiteStore struct {
	db  *sql.DB
	hub *hub
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
	}
	s := &SQLiteStore{db: db, hub: newHub()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			data       TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS game_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			game_id    TEXT NOT NULL,
			players    TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_records_session_id ON game_records(session_id);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, doc *models.Session) error {
	stamp(doc, 1)
	data, err := encodeSession(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, version, data, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		doc.ID, doc.Version, string(data), doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	s.hub.publish(doc)
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, id string) (*models.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return decodeSession([]byte(data))
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fields map[string]any) (*models.Session, error) {
	for {
		var data string
		err := s.db.QueryRowContext(ctx, "SELECT data FROM sessions WHERE id = ?", id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		doc, err := mergeFields([]byte(data), fields)
		if err != nil {
			return nil, err
		}
		err = s.CompareAndSwap(ctx, doc, doc.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, doc *models.Session, expected int64) error {
	next := *doc
	stamp(&next, expected+1)
	data, err := encodeSession(&next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET version = ?, data = ?, updated_at = ? WHERE id = ? AND version = ?",
		next.Version, string(data), next.UpdatedAt, doc.ID, expected)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", doc.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}
	*doc = next
	s.hub.publish(doc)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	s.hub.closeTopic(id)
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var list []*models.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		doc, err := decodeSession([]byte(data))
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByCreated(list)
	return list, nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	if _, err := s.Read(ctx, id); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, id), nil
}

func (s *SQLiteStore) SaveGameRecord(ctx context.Context, rec *models.GameRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO game_records (session_id, game_id, players, data, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.SessionID, rec.GameID, string(players), string(data), completed)
	if err != nil {
		return fmt.Errorf("insert game record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListGameRecords(ctx context.Context, playerID string) ([]*models.GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.data FROM game_records r
		WHERE ? = '' OR EXISTS (SELECT 1 FROM json_each(r.players) WHERE json_each.value = ?)
		ORDER BY r.id`, playerID, playerID)
	if err != nil {
		return nil, fmt.Errorf("list game records: %w", err)
	}
	defer rows.Close()
	var out []*models.GameRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.GameRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}
