package pack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

// Seed writes p into room code and leaves the room in keyroom. A missing
// room is created; an existing one must be in lobby, or still in seeding
// from an earlier attempt. Player uids already on the room are kept.
func Seed(ctx context.Context, st store.Store, m *game.Machine, code string, p *Pack, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	meta := room.Meta{HostUID: p.Meta.HostUID, GuestUID: p.Meta.GuestUID}

	err := st.Create(ctx, room.New(code, meta, p.Maths, now))
	switch {
	case errors.Is(err, store.ErrRoomExists):
		_, err = st.RunTransaction(ctx, code, func(r *room.Room) (bool, error) {
			if r.State != room.PhaseSeeding {
				tr, err := m.BeginSeeding(r)
				if err != nil {
					return false, err
				}
				tr.Apply(r)
			}
			if r.Meta.HostUID == "" {
				r.Meta.HostUID = meta.HostUID
			}
			if r.Meta.GuestUID == "" {
				r.Meta.GuestUID = meta.GuestUID
			}
			r.Maths = p.Maths
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("begin seeding %s: %w", code, err)
		}
	case err != nil:
		return fmt.Errorf("create room %s: %w", code, err)
	}

	for n := 1; n <= room.RoundCount; n++ {
		c, _ := p.Round(n)
		c.Round = n
		c.HostItems = room.PadItems(c.HostItems)
		c.GuestItems = room.PadItems(c.GuestItems)
		if err := st.PutRound(ctx, code, c); err != nil {
			return fmt.Errorf("store round %d: %w", n, err)
		}
	}
	stored, err := st.RoundCount(ctx, code)
	if err != nil {
		return err
	}

	_, err = st.RunTransaction(ctx, code, func(r *room.Room) (bool, error) {
		tr, err := m.FinishSeeding(r, stored)
		if err != nil {
			return false, err
		}
		tr.Apply(r)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("finish seeding %s: %w", code, err)
	}
	log.Info().Str("code", code).Int("rounds", stored).Msg("room seeded")
	return nil
}
