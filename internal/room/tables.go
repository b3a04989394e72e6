package room

// RoundTable holds one value per role and round, e.g. answers.host.2.
type RoundTable[T any] map[Role]map[int]T

func (t RoundTable[T]) Get(role Role, round int) (T, bool) {
	v, ok := t[role][round]
	return v, ok
}

func (t RoundTable[T]) Set(role Role, round int, v T) {
	if t[role] == nil {
		t[role] = make(map[int]T)
	}
	t[role][round] = v
}

// Has reports whether both roles have an entry for round.
func (t RoundTable[T]) Has(round int) bool {
	_, h := t[RoleHost][round]
	_, g := t[RoleGuest][round]
	return h && g
}

// AckTable is a per-round readiness gate: one flag per role and round.
type AckTable map[Role]map[int]bool

// MarkReady sets the flag and reports whether it changed. Re-marking is a no-op.
func (a AckTable) MarkReady(role Role, round int) bool {
	if a[role][round] {
		return false
	}
	if a[role] == nil {
		a[role] = make(map[int]bool)
	}
	a[role][round] = true
	return true
}

func (a AckTable) Ready(role Role, round int) bool { return a[role][round] }

func (a AckTable) BothReady(round int) bool {
	return a[RoleHost][round] && a[RoleGuest][round]
}

// RoleFlags is the round-less variant of AckTable (presence, maths acks).
type RoleFlags map[Role]bool

func (f RoleFlags) MarkReady(role Role) bool {
	if f[role] {
		return false
	}
	f[role] = true
	return true
}

func (f RoleFlags) Ready(role Role) bool { return f[role] }

func (f RoleFlags) BothReady() bool { return f[RoleHost] && f[RoleGuest] }
