// Package store is the shared room document: read, subscribe, plain field
// writes, and conditional transactions, plus the read-only per-round content
// subcollection.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoundNotFound = errors.New("round not found")
	ErrClosed        = errors.New("store closed")
	ErrWrite         = errors.New("write failed")
	ErrContention    = errors.New("transaction kept losing to concurrent writers")
)

// maxTxAttempts bounds optimistic retries when a concurrent commit wins.
const maxTxAttempts = 8

// Snapshot is a versioned deep copy of a room. Versions increase by one per
// committed write.
type Snapshot struct {
	Version int64      `json:"version"`
	Room    *room.Room `json:"room"`
}

type TxResult int

const (
	TxSkipped TxResult = iota
	TxCommitted
)

func (r TxResult) String() string {
	if r == TxCommitted {
		return "committed"
	}
	return "skipped"
}

// TxFunc inspects the current document and either mutates it and returns
// true (commit) or returns false (precondition failed, nothing written).
// It may run more than once and must not call back into the store.
type TxFunc func(r *room.Room) (bool, error)

type Store interface {
	Create(ctx context.Context, r *room.Room) error
	Read(ctx context.Context, code string) (Snapshot, error)
	// Subscribe delivers the current snapshot and then every newer one. A slow
	// reader only ever skips ahead. The channel closes when ctx ends or the
	// store closes.
	Subscribe(ctx context.Context, code string) (<-chan Snapshot, error)
	// Update is a plain field write with no precondition.
	Update(ctx context.Context, code string, fn func(r *room.Room)) error
	RunTransaction(ctx context.Context, code string, fn TxFunc) (TxResult, error)

	PutRound(ctx context.Context, code string, c room.RoundContent) error
	Round(ctx context.Context, code string, n int) (room.RoundContent, error)
	RoundCount(ctx context.Context, code string) (int, error)

	Close() error
}

// Open returns the backend named by driver ("memory" or "sqlite").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func always(fn func(r *room.Room)) TxFunc {
	return func(r *room.Room) (bool, error) {
		fn(r)
		return true, nil
	}
}
