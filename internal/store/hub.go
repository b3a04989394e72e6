package store

import (
	"context"
	"sync"
)

// hub fans committed snapshots out to subscribers. Each subscriber has a
// one-slot mailbox holding the newest undelivered snapshot, so publishing
// never blocks and delivery stays monotonic.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	latest *Snapshot
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan Snapshot
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context, code string) (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Snapshot),
	}
	if h.subs[code] == nil {
		h.subs[code] = make(map[*subscriber]struct{})
	}
	h.subs[code][s] = struct{}{}
	go s.run(ctx, func() { h.remove(code, s) })
	return s, nil
}

func (h *hub) remove(code string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[code]; m != nil {
		delete(m, s)
		if len(m) == 0 {
			delete(h.subs, code)
		}
	}
}

func (h *hub) publish(code string, snap Snapshot) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs[code]))
	for s := range h.subs[code] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.offer(Snapshot{Version: snap.Version, Room: snap.Room.Clone()})
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, m := range h.subs {
		for s := range m {
			s.stop()
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// offer replaces the mailbox content if snap is newer.
func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	if s.latest == nil || snap.Version > s.latest.Version {
		s.latest = &snap
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context, unsubscribe func()) {
	defer close(s.out)
	defer unsubscribe()
	sent := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		snap := s.latest
		s.latest = nil
		s.mu.Unlock()
		if snap == nil || snap.Version <= sent {
			continue
		}
		select {
		case s.out <- *snap:
			sent = snap.Version
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}
