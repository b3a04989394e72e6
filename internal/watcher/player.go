package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiliankoe/jemimas-asking/internal/room"
	"github.com/kiliankoe/jemimas-asking/internal/scoring"
	"github.com/kiliankoe/jemimas-asking/internal/store"
)

var (
	ErrAnswerCount  = fmt.Errorf("exactly %d answers required", room.QuestionsPerRound)
	ErrVerdictCount = fmt.Errorf("exactly %d verdicts required", room.QuestionsPerRound)
	ErrBadVerdict   = errors.New("verdict must be right, wrong or unknown")
	ErrBadAck       = errors.New("phase cannot be acknowledged directly")
	ErrBadSeconds   = errors.New("seconds must not be negative")
)

// Player writes one role's own subtrees of the room. It never touches state,
// round, or scores. Writes for a phase or round the room has already left
// are dropped without error.
type Player struct {
	store store.Store
	code  string
	role  room.Role
}

func NewPlayer(st store.Store, code string, role room.Role) *Player {
	return &Player{store: st, code: code, role: role}
}

func (p *Player) Role() room.Role { return p.role }

// write applies fn and commits only when fn reports a change.
func (p *Player) write(ctx context.Context, fn func(r *room.Room) bool) error {
	_, err := p.store.RunTransaction(ctx, p.code, func(r *room.Room) (bool, error) {
		return fn(r), nil
	})
	return err
}

// Join records this role's presence.
func (p *Player) Join(ctx context.Context) error {
	return p.write(ctx, func(r *room.Room) bool {
		return r.Presence.MarkReady(p.role)
	})
}

// SubmitAnswers stores the role's answers for round and marks it submitted.
// Re-submitting while the room is still in questions replaces the answers.
func (p *Player) SubmitAnswers(ctx context.Context, round int, answers []room.Answer) error {
	if len(answers) != room.QuestionsPerRound {
		return ErrAnswerCount
	}
	answers = append([]room.Answer(nil), answers...)
	return p.write(ctx, func(r *room.Room) bool {
		if r.State != room.PhaseQuestions || r.Round != round {
			return false
		}
		r.Answers.Set(p.role, round, answers)
		r.Submitted.MarkReady(p.role, round)
		return true
	})
}

// SubmitMarking stores the role's verdicts on the opponent's answers, the
// role's round timing, and the marking acknowledgement.
func (p *Player) SubmitMarking(ctx context.Context, round int, verdicts []room.Verdict, seconds float64) error {
	if len(verdicts) != room.QuestionsPerRound {
		return ErrVerdictCount
	}
	for _, v := range verdicts {
		if !v.Valid() {
			return ErrBadVerdict
		}
	}
	if seconds < 0 {
		return ErrBadSeconds
	}
	verdicts = append([]room.Verdict(nil), verdicts...)
	timing := room.Timing{TotalSeconds: scoring.RoundSeconds(seconds)}
	return p.write(ctx, func(r *room.Room) bool {
		if r.State != room.PhaseMarking || r.Round != round {
			return false
		}
		r.Marking.Set(p.role, round, verdicts)
		r.Timings.Set(p.role, round, timing)
		r.MarkingAck.MarkReady(p.role, round)
		return true
	})
}

// Acknowledge marks the role ready to leave the award screen. Other phases
// are acknowledged by their submit calls.
func (p *Player) Acknowledge(ctx context.Context, phase room.Phase, round int) error {
	if phase != room.PhaseAward {
		return ErrBadAck
	}
	return p.write(ctx, func(r *room.Room) bool {
		if r.State != room.PhaseAward || r.Round != round {
			return false
		}
		return r.AwardAck.MarkReady(p.role, round)
	})
}

// SubmitMaths stores the role's maths answer and acknowledges the phase.
// Once the pair has been scored the answer is frozen.
func (p *Player) SubmitMaths(ctx context.Context, events []int, total int) error {
	events = append([]int(nil), events...)
	return p.write(ctx, func(r *room.Room) bool {
		if r.State != room.PhaseMaths {
			return false
		}
		if prev := r.MathsAnswers[p.role]; prev != nil && prev.Points != nil {
			return false
		}
		r.MathsAnswers[p.role] = &room.MathsAnswer{Events: events, Total: total}
		r.MathsAnswersAck.MarkReady(p.role)
		return true
	})
}
