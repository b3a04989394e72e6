// Package watcher is the per-client loop over a room's snapshot stream. A
// Writer watcher also issues the phase-advancing transactions; a Follower
// only observes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

var (
	ErrRoomUnreachable = errors.New("can't reach the room")
	ErrNotWriter       = errors.New("watcher is not the designated writer")
)

// retryDelay is how long a Writer waits before re-evaluating after a failed
// advance when no newer snapshot shows up.
const retryDelay = 500 * time.Millisecond

type Capability int

const (
	Follower Capability = iota
	Writer
)

func (c Capability) String() string {
	if c == Writer {
		return "writer"
	}
	return "follower"
}

type Watcher struct {
	ID         string
	Code       string
	Role       room.Role
	Capability Capability

	// OnSnapshot is called for every delivered snapshot, OnPhase only when
	// the state differs from the last one seen. Both run on the Run goroutine.
	OnSnapshot func(snap store.Snapshot)
	OnPhase    func(prev room.Phase, snap store.Snapshot)

	store   store.Store
	machine *game.Machine
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.Mutex
	phase   room.Phase
	latest  *store.Snapshot
	content map[int]*room.RoundContent
}

func New(st store.Store, m *game.Machine, code string, role room.Role, c Capability) *Watcher {
	id := uuid.NewString()
	return &Watcher{
		ID:         id,
		Code:       code,
		Role:       role,
		Capability: c,
		store:      st,
		machine:    m,
		now:        time.Now,
		log: log.With().
			Str("code", code).
			Str("role", string(role)).
			Str("watcher", id[:8]).
			Logger(),
		content: make(map[int]*room.RoundContent),
	}
}

// Phase is the phase of the last snapshot this watcher has seen.
func (w *Watcher) Phase() room.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Latest returns the last snapshot seen, if any.
func (w *Watcher) Latest() (store.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return store.Snapshot{}, false
	}
	return *w.latest, true
}

// Player returns the role-bound write handle for this watcher's role.
func (w *Watcher) Player() *Player {
	return NewPlayer(w.store, w.Code, w.Role)
}

// Run consumes snapshots until ctx ends. It returns ErrRoomUnreachable when
// the subscription ends while ctx is still alive.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.store.Subscribe(ctx, w.Code)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, store.ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrRoomUnreachable, err)
	}
	w.log.Debug().Str("capability", w.Capability.String()).Msg("watching room")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var wait time.Duration
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Warn().Msg("room subscription ended")
				return ErrRoomUnreachable
			}
			w.observe(snap)
			wait = w.advance(ctx, snap)
		case <-timer.C:
			snap, ok := w.Latest()
			if !ok {
				continue
			}
			wait = w.advance(ctx, snap)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if wait > 0 {
			timer.Reset(wait)
		}
	}
}

func (w *Watcher) observe(snap store.Snapshot) {
	w.mu.Lock()
	prev := w.phase
	w.phase = snap.Room.State
	w.latest = &snap
	w.mu.Unlock()

	if w.OnSnapshot != nil {
		w.OnSnapshot(snap)
	}
	if prev != snap.Room.State {
		w.log.Debug().
			Str("from", string(prev)).
			Str("to", string(snap.Room.State)).
			Int("round", snap.Room.Round).
			Msg("phase changed")
		if w.OnPhase != nil {
			w.OnPhase(prev, snap)
		}
	}
}

// advance runs the readiness check and, when it passes, the conditional
// transaction. It returns how long to wait before re-evaluating without a
// new snapshot, or 0.
func (w *Watcher) advance(ctx context.Context, snap store.Snapshot) time.Duration {
	if w.Capability != Writer {
		return 0
	}
	r := snap.Room
	var content *room.RoundContent
	if r.State == room.PhaseMarking {
		c, err := w.roundContent(ctx, r.Round)
		if err != nil {
			w.log.Error().Err(err).Int("round", r.Round).Msg("failed to load round content")
			return retryDelay
		}
		content = c
	}

	now := w.now()
	tr, ok := w.machine.Next(r, content, now)
	if !ok {
		if r.State == room.PhaseCountdown && r.Countdown.StartAt != nil {
			return r.Countdown.StartAt.Sub(now)
		}
		return 0
	}

	res, err := w.store.RunTransaction(ctx, w.Code, func(fresh *room.Room) (bool, error) {
		next, ok := w.machine.Next(fresh, content, w.now())
		if !ok || !tr.Matches(fresh) || next.To != tr.To {
			return false, nil
		}
		next.Apply(fresh)
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		w.log.Error().Err(err).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Msg("failed to advance phase")
		return retryDelay
	}
	w.log.Info().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Int("round", tr.Round).
		Str("result", res.String()).
		Msg("advance")
	return 0
}

// roundContent loads and caches a round. Missing content is not an error:
// scoring pads with placeholders.
func (w *Watcher) roundContent(ctx context.Context, n int) (*room.RoundContent, error) {
	w.mu.Lock()
	c, ok := w.content[n]
	w.mu.Unlock()
	if ok {
		return c, nil
	}
	rc, err := w.store.Round(ctx, w.Code, n)
	if errors.Is(err, store.ErrRoundNotFound) {
		w.log.Warn().Int("round", n).Msg("round content missing, scoring against placeholders")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c = &rc
	w.mu.Lock()
	w.content[n] = c
	w.mu.Unlock()
	return c, nil
}

// Start is the host-start action. A room that already left lobby/keyroom is
// a silent skip.
func (w *Watcher) Start(ctx context.Context, hostCode string) error {
	if w.Capability != Writer {
		return ErrNotWriter
	}
	res, err := w.store.RunTransaction(ctx, w.Code, func(r *room.Room) (bool, error) {
		tr, err := w.machine.Start(r, hostCode)
		if errors.Is(err, game.ErrInvalidPhase) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		tr.Apply(r)
		return true, nil
	})
	if err != nil {
		return err
	}
	w.log.Info().Str("result", res.String()).Msg("host start")
	return nil
}
