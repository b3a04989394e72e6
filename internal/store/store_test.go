package store

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemory()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newRoom(code string) *room.Room {
	r := room.New(code, room.Meta{HostUID: "h", GuestUID: "g"}, room.Maths{Total: 968}, t0)
	r.State = room.PhaseQuestions
	return r
}

func TestCreateAndRead(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))
		assert.ErrorIs(t, s.Create(ctx, newRoom("CAT")), ErrRoomExists)

		snap, err := s.Read(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Version)
		assert.Equal(t, room.PhaseQuestions, snap.Room.State)
		assert.Equal(t, 968, snap.Room.Maths.Total)

		_, err = s.Read(ctx, "DOG")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestUpdateBumpsVersion(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))
		require.NoError(t, s.Update(ctx, "CAT", func(r *room.Room) {
			r.Submitted.MarkReady(room.RoleHost, 1)
		}))

		snap, err := s.Read(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap.Version)
		assert.True(t, snap.Room.Submitted.Ready(room.RoleHost, 1))
		assert.ErrorIs(t, s.Update(ctx, "DOG", func(*room.Room) {}), ErrRoomNotFound)
	})
}

func TestTransactionSkipWritesNothing(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))
		res, err := s.RunTransaction(ctx, "CAT", func(r *room.Room) (bool, error) {
			r.State = room.PhaseFinal
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, TxSkipped, res)

		snap, err := s.Read(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Version)
		assert.Equal(t, room.PhaseQuestions, snap.Room.State)
	})
}

// Many writers race the same conditional advance; exactly one commits.
func TestConcurrentTransactionsCommitOnce(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))

		var committed atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 16; i++ {
			g.Go(func() error {
				res, err := s.RunTransaction(gctx, "CAT", func(r *room.Room) (bool, error) {
					if r.State != room.PhaseQuestions || r.Round != 1 {
						return false, nil
					}
					r.State = room.PhaseMarking
					return true, nil
				})
				if res == TxCommitted {
					committed.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), committed.Load())

		snap, err := s.Read(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, room.PhaseMarking, snap.Room.State)
		assert.Equal(t, int64(2), snap.Version)
	})
}

func TestSubscribeIsMonotonic(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))

		ch, err := s.Subscribe(ctx, "CAT")
		require.NoError(t, err)

		const writes = 20
		go func() {
			for i := 0; i < writes; i++ {
				_ = s.Update(ctx, "CAT", func(r *room.Room) { r.Seeds.Progress++ })
			}
		}()

		last := int64(0)
		timeout := time.After(5 * time.Second)
		for last < writes+1 {
			select {
			case snap, ok := <-ch:
				require.True(t, ok, "channel closed early")
				require.Greater(t, snap.Version, last)
				last = snap.Version
			case <-timeout:
				t.Fatalf("did not observe final version, last=%d", last)
			}
		}
		snap, err := s.Read(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, writes, snap.Room.Seeds.Progress)

		cancel()
		for range ch {
		}
	})
}

func TestCloseEndsSubscriptions(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))
		ch, err := s.Subscribe(ctx, "CAT")
		require.NoError(t, err)
		<-ch
		require.NoError(t, s.Close())

		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("subscription not closed")
		}
	})
}

func TestRounds(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRoom("CAT")))
		for n := 1; n <= 2; n++ {
			require.NoError(t, s.PutRound(ctx, "CAT", room.RoundContent{
				Round:     n,
				HostItems: []room.Item{{Question: "q", CorrectAnswer: "a"}},
			}))
		}
		// Re-putting a round replaces it.
		require.NoError(t, s.PutRound(ctx, "CAT", room.RoundContent{
			Round:     2,
			HostItems: []room.Item{{Question: "q2", CorrectAnswer: "b"}},
		}))

		n, err := s.RoundCount(ctx, "CAT")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		c, err := s.Round(ctx, "CAT", 2)
		require.NoError(t, err)
		assert.Equal(t, "q2", c.HostItems[0].Question)

		_, err = s.Round(ctx, "CAT", 3)
		assert.ErrorIs(t, err, ErrRoundNotFound)
	})
}

func TestPutRoundNeedsRoom(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		// Concurrent calls spread over several pooled connections.
		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				err := s.PutRound(ctx, "DOG", room.RoundContent{Round: 1})
				assert.ErrorIs(t, err, ErrRoomNotFound)
				return nil
			})
		}
		require.NoError(t, g.Wait())
		_, err := s.Round(ctx, "DOG", 1)
		assert.Error(t, err)
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "")
	assert.Error(t, err)
}
