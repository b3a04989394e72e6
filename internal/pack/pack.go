// Package pack turns a finished question pack (plain JSON or a sealed
// envelope) into a seeded room.
package pack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kiliankoe/jemimas-asking/internal/room"
)

const Version = "jemima-pack-1"

var (
	ErrBadPack        = errors.New("malformed pack")
	ErrVersion        = errors.New("unsupported pack version")
	ErrIncompletePack = fmt.Errorf("pack must contain rounds 1-%d", room.RoundCount)
)

type Meta struct {
	RoomCode    string `json:"roomCode"`
	HostUID     string `json:"hostUid,omitempty"`
	GuestUID    string `json:"guestUid,omitempty"`
	GeneratedAt string `json:"generatedAt,omitempty"`
}

type Integrity struct {
	Checksum string `json:"checksum"`
	Verified bool   `json:"verified,omitempty"`
}

type Pack struct {
	Version   string              `json:"version"`
	Meta      Meta                `json:"meta"`
	Rounds    []room.RoundContent `json:"rounds"`
	Maths     room.Maths          `json:"maths"`
	Integrity *Integrity          `json:"integrity,omitempty"`
}

// Report summarises a loaded pack. The checksum is reported, not enforced.
type Report struct {
	Version     string `json:"version"`
	RoomCode    string `json:"roomCode"`
	GeneratedAt string `json:"generatedAt,omitempty"`
	Sealed      bool   `json:"sealed"`
	RoundsCount int    `json:"roundsCount"`
	ItemsTotal  int    `json:"itemsTotal"`
	HasChecksum bool   `json:"hasChecksum"`
	ChecksumOK  bool   `json:"checksumOk"`
}

// Parse decodes a plain pack. Rounds may be a list or an object keyed by
// round number.
func Parse(data []byte) (*Pack, error) {
	var raw struct {
		Version   string          `json:"version"`
		Meta      Meta            `json:"meta"`
		Rounds    json.RawMessage `json:"rounds"`
		Maths     room.Maths      `json:"maths"`
		Integrity *Integrity      `json:"integrity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPack, err)
	}
	if raw.Version != "" && raw.Version != Version {
		return nil, fmt.Errorf("%w: %q", ErrVersion, raw.Version)
	}
	rounds, err := canonicalRounds(raw.Rounds)
	if err != nil {
		return nil, err
	}
	p := &Pack{
		Version:   Version,
		Meta:      raw.Meta,
		Rounds:    rounds,
		Maths:     raw.Maths,
		Integrity: raw.Integrity,
	}
	if code, err := room.NormalizeCode(p.Meta.RoomCode); err == nil {
		p.Meta.RoomCode = code
	}
	return p, nil
}

func canonicalRounds(raw json.RawMessage) ([]room.RoundContent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []room.RoundContent
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: rounds: %w", ErrBadPack, err)
		}
		return list, nil
	}
	var byKey map[string]room.RoundContent
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("%w: rounds: %w", ErrBadPack, err)
	}
	out := make([]room.RoundContent, 0, len(byKey))
	for k, c := range byKey {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: round key %q", ErrBadPack, k)
		}
		c.Round = n
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

// Round returns round n, if present.
func (p *Pack) Round(n int) (room.RoundContent, bool) {
	for _, c := range p.Rounds {
		if c.Round == n {
			return c, true
		}
	}
	return room.RoundContent{}, false
}

// Validate checks that every round is present. Short item lists are padded
// at seeding time rather than rejected.
func (p *Pack) Validate() error {
	for n := 1; n <= room.RoundCount; n++ {
		if _, ok := p.Round(n); !ok {
			return fmt.Errorf("%w: round %d missing", ErrIncompletePack, n)
		}
	}
	return nil
}

// Load accepts either a sealed envelope or a plain pack.
func Load(data []byte, password string) (*Pack, Report, error) {
	sealed := IsSealed(data)
	if sealed {
		plain, err := Unseal(data, password)
		if err != nil {
			return nil, Report{}, err
		}
		data = plain
	}
	p, err := Parse(data)
	if err != nil {
		return nil, Report{}, err
	}
	rep := Report{
		Version:     p.Version,
		RoomCode:    p.Meta.RoomCode,
		GeneratedAt: p.Meta.GeneratedAt,
		Sealed:      sealed,
		RoundsCount: len(p.Rounds),
	}
	for _, c := range p.Rounds {
		rep.ItemsTotal += len(c.HostItems) + len(c.GuestItems)
	}
	if p.Integrity != nil && p.Integrity.Checksum != "" {
		rep.HasChecksum = true
		sum, err := Checksum(data)
		rep.ChecksumOK = err == nil && sum == p.Integrity.Checksum
	}
	return p, rep, nil
}
