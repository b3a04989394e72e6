package game

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/scoring"
)

var (
	ErrInvalidPhase     = errors.New("invalid phase for action")
	ErrHostCodeTooShort = errors.New("host code must be at least 3 characters")
	ErrRoundsMissing    = errors.New("round content incomplete")
)

const DefaultCountdown = 3 * time.Second

// graph is the full set of legal phase moves.
var graph = map[room.Phase][]room.Phase{
	room.PhaseLobby:     {room.PhaseSeeding, room.PhaseCoderoom},
	room.PhaseSeeding:   {room.PhaseKeyroom},
	room.PhaseKeyroom:   {room.PhaseCoderoom},
	room.PhaseCoderoom:  {room.PhaseCountdown},
	room.PhaseCountdown: {room.PhaseQuestions},
	room.PhaseQuestions: {room.PhaseMarking},
	room.PhaseMarking:   {room.PhaseAward},
	room.PhaseAward:     {room.PhaseCountdown, room.PhaseMaths},
	room.PhaseMaths:     {room.PhaseFinal},
}

func CanTransition(from, to room.Phase) bool {
	for _, p := range graph[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition is one phase move plus the collectively-owned fields it writes.
type Transition struct {
	From  room.Phase
	To    room.Phase
	Round int

	apply func(r *room.Room)
}

// Apply mutates r. Callers must already have checked Matches on the same
// document.
func (t Transition) Apply(r *room.Room) {
	if t.apply != nil {
		t.apply(r)
	}
	r.State = t.To
}

// Matches reports whether r is still in the state this transition starts from.
func (t Transition) Matches(r *room.Room) bool {
	return r.State == t.From && r.Round == t.Round
}

type Machine struct {
	Countdown time.Duration
}

func NewMachine(countdown time.Duration) *Machine {
	if countdown <= 0 {
		countdown = DefaultCountdown
	}
	return &Machine{Countdown: countdown}
}

// Next returns the readiness-driven advance for r, if any. It is pure: the
// designated writer calls it on every snapshot and again inside the
// transaction against the fresh document.
func (m *Machine) Next(r *room.Room, content *room.RoundContent, now time.Time) (Transition, bool) {
	round := r.Round
	t := Transition{From: r.State, Round: round}
	switch r.State {
	case room.PhaseCoderoom:
		if !r.Presence.Ready(room.RoleGuest) {
			return Transition{}, false
		}
		t.To = room.PhaseCountdown
		t.apply = m.armCountdown(now)
	case room.PhaseCountdown:
		if at := r.Countdown.StartAt; at != nil && now.Before(*at) {
			return Transition{}, false
		}
		t.To = room.PhaseQuestions
	case room.PhaseQuestions:
		if !GateFor(r).BothReady() {
			return Transition{}, false
		}
		t.To = room.PhaseMarking
	case room.PhaseMarking:
		if !GateFor(r).BothReady() {
			return Transition{}, false
		}
		t.To = room.PhaseAward
		t.apply = func(r *room.Room) { scoreRound(r, round, content) }
	case room.PhaseAward:
		if !GateFor(r).BothReady() {
			return Transition{}, false
		}
		if round >= room.RoundCount {
			t.To = room.PhaseMaths
			break
		}
		t.To = room.PhaseCountdown
		arm := m.armCountdown(now)
		t.apply = func(r *room.Room) {
			r.Round = round + 1
			arm(r)
		}
	case room.PhaseMaths:
		if !GateFor(r).BothReady() || r.MathsAnswers[room.RoleHost] == nil || r.MathsAnswers[room.RoleGuest] == nil {
			return Transition{}, false
		}
		t.To = room.PhaseFinal
		t.apply = scoreMaths
	default:
		return Transition{}, false
	}
	return t, true
}

// Start is the host-triggered move out of lobby or keyroom.
func (m *Machine) Start(r *room.Room, hostCode string) (Transition, error) {
	if r.State != room.PhaseLobby && r.State != room.PhaseKeyroom {
		return Transition{}, ErrInvalidPhase
	}
	hostCode = strings.TrimSpace(hostCode)
	if len(hostCode) < 3 {
		return Transition{}, ErrHostCodeTooShort
	}
	return Transition{
		From:  r.State,
		To:    room.PhaseCoderoom,
		Round: r.Round,
		apply: func(r *room.Room) { r.HostCode = hostCode },
	}, nil
}

// BeginSeeding moves a lobby room into seeding when a pack is attached.
func (m *Machine) BeginSeeding(r *room.Room) (Transition, error) {
	if r.State != room.PhaseLobby {
		return Transition{}, ErrInvalidPhase
	}
	return Transition{
		From:  room.PhaseLobby,
		To:    room.PhaseSeeding,
		Round: r.Round,
		apply: func(r *room.Room) { r.Seeds = room.Seeds{Progress: 0, Message: "Seeding pack."} },
	}, nil
}

// FinishSeeding moves a seeded room to keyroom once every round is stored.
func (m *Machine) FinishSeeding(r *room.Room, storedRounds int) (Transition, error) {
	if r.State != room.PhaseSeeding {
		return Transition{}, ErrInvalidPhase
	}
	if storedRounds < room.RoundCount {
		return Transition{}, ErrRoundsMissing
	}
	return Transition{
		From:  room.PhaseSeeding,
		To:    room.PhaseKeyroom,
		Round: r.Round,
		apply: func(r *room.Room) {
			r.Round = 1
			r.Seeds = room.Seeds{Progress: 100, Message: "Pack ready."}
		},
	}, nil
}

func (m *Machine) armCountdown(now time.Time) func(r *room.Room) {
	at := now.Add(m.Countdown).UTC()
	return func(r *room.Room) { r.Countdown.StartAt = &at }
}

func scoreRound(r *room.Room, round int, content *room.RoundContent) {
	for _, role := range room.Roles {
		if _, done := r.Scores.Get(role, round); done {
			continue
		}
		answers, _ := r.Answers.Get(role, round)
		r.Scores.Set(role, round, scoring.ScoreRound(answers, content.ItemsFor(role)))

		opp := role.Opponent()
		verdicts, _ := r.Marking.Get(role, round)
		oppAnswers, _ := r.Answers.Get(opp, round)
		r.MarkingScores.Set(role, round, scoring.ScoreMarking(verdicts, oppAnswers, content.ItemsFor(opp)))
	}
	if r.SpeedBonuses.Has(round) {
		return
	}
	h, g := scoring.AwardSpeedBonus(seconds(r, room.RoleHost, round), seconds(r, room.RoleGuest, round))
	r.SpeedBonuses.Set(room.RoleHost, round, h)
	r.SpeedBonuses.Set(room.RoleGuest, round, g)
}

func seconds(r *room.Room, role room.Role, round int) float64 {
	t, ok := r.Timings.Get(role, round)
	if !ok {
		return math.Inf(1)
	}
	return t.TotalSeconds
}

func scoreMaths(r *room.Room) {
	hostAns, guestAns := r.MathsAnswers[room.RoleHost], r.MathsAnswers[room.RoleGuest]
	if hostAns.Points != nil && guestAns.Points != nil {
		return
	}
	h, g := scoring.ScoreMathsPair(hostAns.Total, guestAns.Total, r.Maths.Total, r.Maths.Scoring)
	hostAns.Delta, hostAns.Points = &h.Delta, &h.Points
	guestAns.Delta, guestAns.Points = &g.Delta, &g.Points
}
