package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

// migrations are applied in order and recorded in _migrations.
var migrations = []struct{ name, sql string }{
	{"001_rooms", `CREATE TABLE rooms (
		code       TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		doc        TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`},
	{"002_rounds", `CREATE TABLE rounds (
		code  TEXT NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
		round INTEGER NOT NULL,
		doc   TEXT NOT NULL,
		PRIMARY KEY (code, round)
	);`},
}

// SQLite stores each room as a JSON document with a version column. Writes
// are optimistic: UPDATE ... WHERE version = ? and re-run on a lost race.
type SQLite struct {
	db  *sql.DB
	hub *hub
	now func() time.Time
}

func OpenSQLite(dsn string) (*SQLite, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, hub: newHub(), now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	for _, m := range migrations {
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, m.name).Scan(&done)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.name, err)
		}
		log.Info().Str("migration", m.name).Msg("applied")
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, r *room.Room) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (code, version, doc, updated_at) VALUES (?, 1, ?, ?)`,
		r.Code, string(b), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return ErrRoomExists
		}
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (s *SQLite) Read(ctx context.Context, code string) (Snapshot, error) {
	var (
		version int64
		doc     string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, doc FROM rooms WHERE code=?`, code).Scan(&version, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrRoomNotFound
		}
		return Snapshot{}, err
	}
	r := &room.Room{}
	if err := json.Unmarshal([]byte(doc), r); err != nil {
		return Snapshot{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	r.Normalize()
	return Snapshot{Version: version, Room: r}, nil
}

func (s *SQLite) Subscribe(ctx context.Context, code string) (<-chan Snapshot, error) {
	sub, err := s.hub.subscribe(ctx, code)
	if err != nil {
		return nil, err
	}
	snap, err := s.Read(ctx, code)
	if err != nil {
		sub.stop()
		return nil, err
	}
	sub.offer(snap)
	return sub.out, nil
}

func (s *SQLite) Update(ctx context.Context, code string, fn func(r *room.Room)) error {
	_, err := s.RunTransaction(ctx, code, always(fn))
	return err
}

func (s *SQLite) RunTransaction(ctx context.Context, code string, fn TxFunc) (TxResult, error) {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		snap, err := s.Read(ctx, code)
		if err != nil {
			return TxSkipped, err
		}
		commit, err := fn(snap.Room)
		if err != nil || !commit {
			return TxSkipped, err
		}
		now := s.now().UTC()
		snap.Room.Timestamps.UpdatedAt = now
		b, err := json.Marshal(snap.Room)
		if err != nil {
			return TxSkipped, err
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE rooms SET doc=?, version=version+1, updated_at=? WHERE code=? AND version=?`,
			string(b), now.Format(time.RFC3339Nano), code, snap.Version)
		if err != nil {
			return TxSkipped, fmt.Errorf("%w: %w", ErrWrite, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			s.hub.publish(code, Snapshot{Version: snap.Version + 1, Room: snap.Room})
			return TxCommitted, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("transaction lost race, retrying")
	}
	return TxSkipped, ErrContention
}

func (s *SQLite) PutRound(ctx context.Context, code string, c room.RoundContent) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rounds (code, round, doc) VALUES (?, ?, ?)
		ON CONFLICT(code, round) DO UPDATE SET doc=excluded.doc`,
		code, c.Round, string(b))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return ErrRoomNotFound
		}
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (s *SQLite) Round(ctx context.Context, code string, n int) (room.RoundContent, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM rounds WHERE code=? AND round=?`, code, n).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return room.RoundContent{}, ErrRoundNotFound
		}
		return room.RoundContent{}, err
	}
	var c room.RoundContent
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return room.RoundContent{}, fmt.Errorf("decode round %s/%d: %w", code, n, err)
	}
	return c, nil
}

func (s *SQLite) RoundCount(ctx context.Context, code string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rounds WHERE code=?`, code).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Close() error {
	s.hub.close()
	return s.db.Close()
}
