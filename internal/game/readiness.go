package game

import "github.com/kiliankoe/jemimas-asking/internal/room"

// Gate is the dual-acknowledgement predicate for one phase and round. It
// carries no transition logic.
type Gate struct {
	Host  bool `json:"host"`
	Guest bool `json:"guest"`
}

func (g Gate) BothReady() bool { return g.Host && g.Guest }

func (g Gate) Ready(role room.Role) bool {
	if role == room.RoleHost {
		return g.Host
	}
	return g.Guest
}

// GateFor reads the readiness flags that gate leaving r's current phase.
func GateFor(r *room.Room) Gate {
	round := r.Round
	switch r.State {
	case room.PhaseCoderoom:
		return Gate{Host: r.Presence.Ready(room.RoleHost), Guest: r.Presence.Ready(room.RoleGuest)}
	case room.PhaseQuestions:
		return ackGate(r.Submitted, round)
	case room.PhaseMarking:
		return ackGate(r.MarkingAck, round)
	case room.PhaseAward:
		return ackGate(r.AwardAck, round)
	case room.PhaseMaths:
		return Gate{Host: r.MathsAnswersAck.Ready(room.RoleHost), Guest: r.MathsAnswersAck.Ready(room.RoleGuest)}
	}
	return Gate{}
}

func ackGate(a room.AckTable, round int) Gate {
	return Gate{Host: a.Ready(room.RoleHost, round), Guest: a.Ready(room.RoleGuest, round)}
}
