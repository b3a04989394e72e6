package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

type memEntry struct {
	version int64
	doc     *room.Room
	rounds  map[int]room.RoundContent
}

// Memory keeps rooms in a map guarded by an RWMutex. Transactions run under
// the write lock, so they never need to retry. State is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	rooms  map[string]*memEntry
	closed bool
	hub    *hub
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memEntry), hub: newHub(), now: time.Now}
}

func (m *Memory) Create(ctx context.Context, r *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.rooms[r.Code]; ok {
		return ErrRoomExists
	}
	m.rooms[r.Code] = &memEntry{version: 1, doc: r.Clone(), rounds: make(map[int]room.RoundContent)}
	return nil
}

func (m *Memory) Read(ctx context.Context, code string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	e, ok := m.rooms[code]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return Snapshot{Version: e.version, Room: e.doc.Clone()}, nil
}

func (m *Memory) Subscribe(ctx context.Context, code string) (<-chan Snapshot, error) {
	sub, err := m.hub.subscribe(ctx, code)
	if err != nil {
		return nil, err
	}
	snap, err := m.Read(ctx, code)
	if err != nil {
		sub.stop()
		return nil, err
	}
	sub.offer(snap)
	return sub.out, nil
}

func (m *Memory) Update(ctx context.Context, code string, fn func(r *room.Room)) error {
	_, err := m.RunTransaction(ctx, code, always(fn))
	return err
}

func (m *Memory) RunTransaction(ctx context.Context, code string, fn TxFunc) (TxResult, error) {
	if err := ctx.Err(); err != nil {
		return TxSkipped, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return TxSkipped, ErrClosed
	}
	e, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return TxSkipped, ErrRoomNotFound
	}
	doc := e.doc.Clone()
	commit, err := fn(doc)
	if err != nil || !commit {
		m.mu.Unlock()
		return TxSkipped, err
	}
	doc.Timestamps.UpdatedAt = m.now().UTC()
	e.doc = doc
	e.version++
	snap := Snapshot{Version: e.version, Room: doc}
	m.mu.Unlock()

	m.hub.publish(code, snap)
	return TxCommitted, nil
}

func (m *Memory) PutRound(ctx context.Context, code string, c room.RoundContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	e.rounds[c.Round] = c
	return nil
}

func (m *Memory) Round(ctx context.Context, code string, n int) (room.RoundContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return room.RoundContent{}, ErrClosed
	}
	e, ok := m.rooms[code]
	if !ok {
		return room.RoundContent{}, ErrRoomNotFound
	}
	c, ok := e.rounds[n]
	if !ok {
		return room.RoundContent{}, ErrRoundNotFound
	}
	return c, nil
}

func (m *Memory) RoundCount(ctx context.Context, code string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[code]
	if !ok {
		return 0, ErrRoomNotFound
	}
	return len(e.rounds), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}
