package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

const item = `{"question":"Q","correct_answer":"A","distractors":{"easy":"x","medium":"y","hard":"z"}}`

func roundsJSON(n int, asMap bool) string {
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		body := fmt.Sprintf(`"hostItems":[%s,%s,%s],"guestItems":[%s]`, item, item, item, item)
		if asMap {
			parts = append(parts, fmt.Sprintf(`"%d":{%s}`, i, body))
		} else {
			parts = append(parts, fmt.Sprintf(`{"round":%d,%s}`, i, body))
		}
	}
	if asMap {
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func packJSON(rounds string) string {
	return `{"version":"jemima-pack-1","meta":{"roomCode":"cat","hostUid":"h","guestUid":"g","generatedAt":"2026-03-01T20:00:00Z"},` +
		`"rounds":` + rounds + `,"maths":{"events":[{"prompt":"Moon landing","year":1969}],"total":968,"scoring":{"perfectPoints":5}}}`
}

func TestParseRoundShapes(t *testing.T) {
	for _, asMap := range []bool{false, true} {
		p, err := Parse([]byte(packJSON(roundsJSON(5, asMap))))
		require.NoError(t, err)
		require.Len(t, p.Rounds, 5)
		assert.Equal(t, "CAT", p.Meta.RoomCode)
		assert.Equal(t, 5, p.Rounds[4].Round)
		assert.Equal(t, 968, p.Maths.Total)
		assert.NoError(t, p.Validate())
	}
}

func TestParseRejectsOtherVersions(t *testing.T) {
	_, err := Parse([]byte(`{"version":"jemima-maths-chain-2"}`))
	assert.ErrorIs(t, err, ErrVersion)
	_, err = Parse([]byte(`{"rounds":{"one":{}}}`))
	assert.ErrorIs(t, err, ErrBadPack)
}

func TestValidateNeedsEveryRound(t *testing.T) {
	p, err := Parse([]byte(packJSON(roundsJSON(4, false))))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Validate(), ErrIncompletePack)
}

func TestSealRoundTrip(t *testing.T) {
	plain := []byte(packJSON(roundsJSON(5, false)))
	sealed, err := Seal(plain, "DEMO-ONLY")
	require.NoError(t, err)
	require.True(t, IsSealed(sealed))
	assert.False(t, IsSealed(plain))

	out, err := Unseal(sealed, "DEMO-ONLY")
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	_, err = Unseal(sealed, "wrong")
	assert.ErrorIs(t, err, ErrUnseal)

	_, err = Unseal([]byte(`{"alg":"AES-GCM","salt_b64":"AAAA","nonce_b64":"AAAA","ct_b64":"AAAA"}`), "DEMO-ONLY")
	assert.ErrorIs(t, err, ErrEnvelope)
}

func TestUnsealRefusesOversizedKDF(t *testing.T) {
	sealed, err := Seal([]byte(packJSON(roundsJSON(5, false))), "DEMO-ONLY")
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(sealed, &env))

	for _, kdf := range []string{"PBKDF2-HMAC-SHA256/2000000000", "PBKDF2-HMAC-SHA256/0", "PBKDF2-HMAC-SHA1/150000"} {
		env.KDF = kdf
		_, err := env.rounds()
		assert.ErrorIs(t, err, ErrEnvelope, kdf)

		b, err := json.Marshal(env)
		require.NoError(t, err)
		start := time.Now()
		_, err = Unseal(b, "DEMO-ONLY")
		assert.ErrorIs(t, err, ErrEnvelope, kdf)
		assert.Less(t, time.Since(start), time.Second, kdf)
	}

	env.KDF = "PBKDF2-HMAC-SHA256/150000"
	n, err := env.rounds()
	require.NoError(t, err)
	assert.Equal(t, 150000, n)
}

func TestChecksumIgnoresIntegrityAndKeepsOrder(t *testing.T) {
	body := `{"version":"jemima-pack-1","meta":{"roomCode":"CAT"}}`
	want := sha256.Sum256([]byte(body))

	got, err := Checksum([]byte(`{ "version": "jemima-pack-1",
		"integrity": {"checksum": "x"},
		"meta": {"roomCode": "CAT"} }`))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)

	reordered, err := Checksum([]byte(`{"meta":{"roomCode":"CAT"},"version":"jemima-pack-1"}`))
	require.NoError(t, err)
	assert.NotEqual(t, got, reordered)
}

func TestLoadReportsChecksum(t *testing.T) {
	body := packJSON(roundsJSON(5, false))
	sum, err := Checksum([]byte(body))
	require.NoError(t, err)
	withIntegrity := strings.TrimSuffix(body, "}") + `,"integrity":{"checksum":"` + sum + `","verified":true}}`
	sealed, err := Seal([]byte(withIntegrity), "pw")
	require.NoError(t, err)

	p, rep, err := Load(sealed, "pw")
	require.NoError(t, err)
	assert.True(t, rep.Sealed)
	assert.True(t, rep.HasChecksum)
	assert.True(t, rep.ChecksumOK)
	assert.Equal(t, 5, rep.RoundsCount)
	assert.Equal(t, 5*4, rep.ItemsTotal)
	assert.Equal(t, "CAT", p.Meta.RoomCode)
}

func TestSeedNewRoom(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	p, err := Parse([]byte(packJSON(roundsJSON(5, true))))
	require.NoError(t, err)

	require.NoError(t, Seed(ctx, st, game.NewMachine(0), "CAT", p, time.Now()))
	snap, err := st.Read(ctx, "CAT")
	require.NoError(t, err)
	assert.Equal(t, room.PhaseKeyroom, snap.Room.State)
	assert.Equal(t, 1, snap.Room.Round)
	assert.Equal(t, room.Seeds{Progress: 100, Message: "Pack ready."}, snap.Room.Seeds)
	assert.Equal(t, "h", snap.Room.Meta.HostUID)

	c, err := st.Round(ctx, "CAT", 3)
	require.NoError(t, err)
	require.Len(t, c.GuestItems, room.QuestionsPerRound)
	assert.True(t, c.GuestItems[2].Placeholder)
}

func TestSeedLobbyRoomKeepsMeta(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	r := room.New("CAT", room.Meta{HostUID: "owner"}, room.Maths{}, time.Now())
	r.State = room.PhaseLobby
	require.NoError(t, st.Create(ctx, r))

	p, err := Parse([]byte(packJSON(roundsJSON(5, false))))
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, st, game.NewMachine(0), "CAT", p, time.Now()))

	snap, err := st.Read(ctx, "CAT")
	require.NoError(t, err)
	assert.Equal(t, room.PhaseKeyroom, snap.Room.State)
	assert.Equal(t, "owner", snap.Room.Meta.HostUID)
	assert.Equal(t, "g", snap.Room.Meta.GuestUID)
	assert.Equal(t, 968, snap.Room.Maths.Total)
}

func TestSeedRejectsRunningRoom(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	r := room.New("CAT", room.Meta{}, room.Maths{}, time.Now())
	r.State = room.PhaseQuestions
	require.NoError(t, st.Create(ctx, r))

	p, err := Parse([]byte(packJSON(roundsJSON(5, false))))
	require.NoError(t, err)
	assert.ErrorIs(t, Seed(ctx, st, game.NewMachine(0), "CAT", p, time.Now()), game.ErrInvalidPhase)
}
