package room

import (
	"errors"
	"math/rand"
	"strings"
)

var (
	ErrInvalidCode = errors.New("room code must be 3-5 uppercase letters or digits")
	ErrRoleUnknown = errors.New("cannot tell whether you are host or guest")
)

const codeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NormalizeCode upper-cases and trims a user-typed code, then validates it.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidCode(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

func ValidCode(code string) bool {
	if len(code) < 3 || len(code) > 5 {
		return false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func RandomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeLetters[rand.Intn(len(codeLetters))]
	}
	return string(b)
}

// ResolveRole decides which slot a client plays. A uid match on the room's
// meta wins; otherwise a previously stored role is trusted. When neither
// applies the caller must ask the player (ErrRoleUnknown).
func ResolveRole(meta Meta, stored Role, uid string) (Role, error) {
	switch {
	case uid != "" && uid == meta.HostUID:
		return RoleHost, nil
	case uid != "" && uid == meta.GuestUID:
		return RoleGuest, nil
	case stored.Valid():
		return stored, nil
	}
	return "", ErrRoleUnknown
}
